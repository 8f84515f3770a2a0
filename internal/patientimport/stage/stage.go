// Package stage moves validated rows through patient creation and record lookup. Each stage has a
// direct strategy running in-process and a queued strategy publishing to a FIFO queue.
package stage

import (
	"context"
	"log/slog"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/poller"
	"github.com/metriport/metriport-sub005/internal/queue"
)

// CreateHandler accepts a row for patient creation
type CreateHandler interface {
	ProcessCreate(ctx context.Context, req domain.CreateRequest) error
}

// QueryHandler accepts a created patient for discovery and document query
type QueryHandler interface {
	ProcessQuery(ctx context.Context, req domain.QueryRequest) error
}

// JobStore is the job state used by the stage processors
type JobStore interface {
	ReadRow(ctx context.Context, ref domain.RowRef) (*domain.PatientRow, error)
	UpsertRow(ctx context.Context, ref domain.RowRef, patch domain.RowPatch) (before, after *domain.PatientRow, err error)
	RowAlreadyHasPatientID(ctx context.Context, ref domain.RowRef) (string, bool, error)
	PutMapping(ctx context.Context, cxID, jobID string, mapping domain.PatientMapping) (*domain.PatientMapping, error)
}

// Poller runs discovery and document query attempts
type Poller interface {
	Poll(ctx context.Context, req poller.Request) (*poller.Result, error)
}

// ParamsSource resolves job params by ParamsKey
type ParamsSource interface {
	Get(ctx context.Context, key string) (domain.JobParams, error)
}

// Recorder marks rows failed
type Recorder interface {
	Record(ctx context.Context, ref domain.RowRef, cause error, reasonForCx string) error
	ReportFailure(ctx context.Context, ref domain.RowRef, row *domain.PatientRow) error
}

// Tracker counts finished rows and completes the job
type Tracker interface {
	RowFinished(ctx context.Context, ref domain.RowRef, before, after *domain.PatientRow) error
	CheckCompletion(ctx context.Context, cxID, jobID string) error
}

// Publisher sends FIFO messages
type Publisher interface {
	Send(ctx context.Context, msg queue.Message) (bool, error)
}

// settleFinished handles a delivery for a row that already reached a terminal state. Only the
// reporting steps run again: a failure the core API never received and the job completion.
func settleFinished(ctx context.Context, log *slog.Logger, recorder Recorder, tracker Tracker, ref domain.RowRef, row *domain.PatientRow) error {
	log.Info("Row already finished, skipping", slog.String("status", string(row.Status)))
	if err := recorder.ReportFailure(ctx, ref, row); err != nil {
		log.Warn("Row failure is still unreported", slog.String("error", err.Error()))
	}
	return tracker.CheckCompletion(ctx, ref.CxID, ref.JobID)
}
