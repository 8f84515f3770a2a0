package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// JobStore is the job state used for tracking
type JobStore interface {
	ReadRow(ctx context.Context, ref domain.RowRef) (*domain.PatientRow, error)
	UpdateJob(ctx context.Context, cxID, jobID string, mutate func(job *domain.Job) bool) (*domain.Job, error)
	UpsertRow(ctx context.Context, ref domain.RowRef, patch domain.RowPatch) (before, after *domain.PatientRow, err error)
}

// Tracker advances job counters as rows finish and completes the job when all rows are done
type Tracker struct {
	store  JobStore
	api    coreapi.API
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker
func NewTracker(store JobStore, api coreapi.API, log *slog.Logger) *Tracker {
	return &Tracker{store: store, api: api, logger: log, now: time.Now}
}

// RowFinished counts a row that moved from a non terminal to a terminal state. Rows that were
// already terminal before the write are not counted again. A failure to count or to report
// completion is retryable; a redelivery of the finished row reaches CheckCompletion.
func (t *Tracker) RowFinished(ctx context.Context, ref domain.RowRef, before, after *domain.PatientRow) error {
	if before == nil || after == nil || before.Status.IsTerminal() || !after.Status.IsTerminal() {
		return nil
	}

	var completedNow bool
	job, err := t.store.UpdateJob(ctx, ref.CxID, ref.JobID, func(job *domain.Job) bool {
		if after.Status == domain.RowStatusCompleted {
			job.SuccessCount++
		} else {
			job.FailedCount++
		}
		completedNow = t.complete(job)
		return true
	})
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to count row %d: %w", ref.RowNumber, err))
	}

	if completedNow {
		t.logCompleted(ctx, job)
	}
	return t.reportCompletion(ctx, job)
}

// CheckCompletion completes the job when every row is terminal and reports it to the core API
// unless that already happened. It is safe to call any number of times.
func (t *Tracker) CheckCompletion(ctx context.Context, cxID, jobID string) error {
	var completedNow bool
	job, err := t.store.UpdateJob(ctx, cxID, jobID, func(job *domain.Job) bool {
		completedNow = t.complete(job)
		return completedNow
	})
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to check job %s completion: %w", jobID, err))
	}

	if completedNow {
		t.logCompleted(ctx, job)
	}
	return t.reportCompletion(ctx, job)
}

// complete moves a processing job whose rows are all terminal to completed
func (t *Tracker) complete(job *domain.Job) bool {
	if job.Status != domain.JobStatusProcessing || !job.Done() {
		return false
	}
	job.Status = domain.JobStatusCompleted
	job.FinishedAt = t.now().UTC()
	return true
}

func (t *Tracker) logCompleted(ctx context.Context, job *domain.Job) {
	logger.FromContext(ctx, t.logger).Info("Import job completed",
		slog.String("cx_id", job.CxID),
		slog.String("job_id", job.ID),
		slog.Int("total_rows", job.TotalRows),
		slog.Int("success_count", job.SuccessCount),
		slog.Int("failed_count", job.FailedCount),
	)
}

// reportCompletion tells the core API about a completed job once
func (t *Tracker) reportCompletion(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusCompleted || job.CompletionReported {
		return nil
	}

	if err := t.NotifyCompleted(ctx, job.CxID, job.ID); err != nil {
		logger.FromContext(ctx, t.logger).Error("Failed to report job completion",
			slog.String("cx_id", job.CxID),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(err)
	}

	_, err := t.store.UpdateJob(ctx, job.CxID, job.ID, func(j *domain.Job) bool {
		if j.CompletionReported {
			return false
		}
		j.CompletionReported = true
		return true
	})
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to mark job %s completion reported: %w", job.ID, err))
	}
	return nil
}

// NotifyCompleted tells the core API the job is done
func (t *Tracker) NotifyCompleted(ctx context.Context, cxID, jobID string) error {
	if err := t.api.UpdateJobStatus(ctx, cxID, jobID, coreapi.JobStatusUpdate{Status: domain.JobStatusCompleted}); err != nil {
		return fmt.Errorf("failed to report job %s completion: %w", jobID, err)
	}
	return nil
}
