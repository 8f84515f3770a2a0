package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/metriport/metriport-sub005/internal/cache"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// JobReader loads jobs
type JobReader interface {
	GetJob(ctx context.Context, cxID, jobID string) (*domain.Job, error)
}

// ParamsKey is the cache key of a job's params
func ParamsKey(cxID, jobID string) string {
	return cxID + "/" + jobID
}

// NewParamsCache caches job params read from jobs for ttl
func NewParamsCache(jobs JobReader, ttl time.Duration) *cache.TTL[domain.JobParams] {
	return cache.NewTTL(ttl, func(ctx context.Context, key string) (domain.JobParams, error) {
		cxID, jobID, ok := strings.Cut(key, "/")
		if !ok {
			return domain.JobParams{}, fmt.Errorf("malformed job params key %q", key)
		}
		job, err := jobs.GetJob(ctx, cxID, jobID)
		if err != nil {
			return domain.JobParams{}, err
		}
		return job.Params, nil
	})
}
