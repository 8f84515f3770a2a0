package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/poller"
	"github.com/metriport/metriport-sub005/shared/logger"
)

func TestQueryProcessor_CompletionReportFailureKeepsRowCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, domain.JobParams{})
	completed := coreapi.JobStatusUpdate{Status: domain.JobStatusCompleted}
	f.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", completed).Return(errors.New("core api down")).Once()
	f.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", completed).Return(nil).Once()
	fp := &fakePoller{result: &poller.Result{AttemptsUsed: 1, ResultsFound: 2, IsComplete: true}}
	p := NewQueryProcessor(f.store, fp, NewParamsCache(f.store, time.Minute), f.recorder, f.tracker, logger.NewNop())
	req := domain.QueryRequest{CxID: "cx-1", JobID: "job-1", RowNumber: 1, PatientID: "pat-1"}

	err := p.ProcessQuery(ctx, req)
	var retryable *domain.RetryableError
	require.True(t, errors.As(err, &retryable))

	row, err := f.store.ReadRow(ctx, rowRef(1))
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusCompleted, row.Status)

	job, err := f.store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.False(t, job.CompletionReported)

	// the redelivery skips the finished row and reports the completion
	require.NoError(t, p.ProcessQuery(ctx, req))
	assert.Equal(t, 1, fp.calls)

	job, err = f.store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.True(t, job.CompletionReported)
	assert.Equal(t, 1, job.SuccessCount)
	assert.Zero(t, job.FailedCount)

	f.api.AssertNotCalled(t, "UpdateRecordFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.api.AssertExpectations(t)
}

func TestQueryProcessor_UnreportedFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, domain.JobParams{})
	f.api.On("UpdateRecordFailed", mock.Anything, "cx-1", "job-1", 1, domain.ReasonNotQueryable).Return(errors.New("core api down")).Once()
	fp := &fakePoller{err: domain.ErrPatientNotQueryable}
	p := NewQueryProcessor(f.store, fp, NewParamsCache(f.store, time.Minute), f.recorder, f.tracker, logger.NewNop())

	require.NoError(t, p.ProcessQuery(ctx, domain.QueryRequest{CxID: "cx-1", JobID: "job-1", RowNumber: 1, PatientID: "pat-1"}))

	row, err := f.store.ReadRow(ctx, rowRef(1))
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusFailed, row.Status)
	assert.False(t, row.FailureReported)
	f.api.AssertExpectations(t)
}
