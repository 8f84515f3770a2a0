package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// FailureRecorder marks a row failed both remotely and in the job state
type FailureRecorder struct {
	store   JobStore
	api     coreapi.API
	tracker *Tracker
	logger  *slog.Logger
}

// NewFailureRecorder creates a FailureRecorder
func NewFailureRecorder(store JobStore, api coreapi.API, tracker *Tracker, log *slog.Logger) *FailureRecorder {
	return &FailureRecorder{store: store, api: api, tracker: tracker, logger: log}
}

// Record marks the row failed with reasonForCx shown to the customer and cause kept for
// developers. Rows that already finished are left alone. A failed core API update is logged and
// retried by ReportFailure on the next delivery of the row; only a row that could not be stored
// as failed, or a job whose completion could not be reported, yields a retryable error.
func (r *FailureRecorder) Record(ctx context.Context, ref domain.RowRef, cause error, reasonForCx string) error {
	log := r.rowLogger(ctx, ref)

	current, err := r.store.ReadRow(ctx, ref)
	if err != nil && !errors.Is(err, domain.ErrRowNotFound) {
		log.Error("Failed to read row before recording failure", slog.String("error", err.Error()))
		return domain.NewRetryableError(fmt.Errorf("%w; failed to record row failure: %w", cause, err))
	}
	if current != nil && current.Status.IsTerminal() {
		log.Info("Row already finished, not recording failure",
			slog.String("status", string(current.Status)),
			slog.String("error", cause.Error()),
		)
		return nil
	}

	var (
		g         errgroup.Group
		remoteErr error
		localErr  error
		before    *domain.PatientRow
		after     *domain.PatientRow
	)

	g.Go(func() error {
		remoteErr = r.api.UpdateRecordFailed(ctx, ref.CxID, ref.JobID, ref.RowNumber, reasonForCx)
		return nil
	})
	g.Go(func() error {
		before, after, localErr = r.store.UpsertRow(ctx, ref, domain.RowPatch{
			Status:       domain.Ptr(domain.RowStatusFailed),
			ReasonForCx:  domain.Ptr(reasonForCx),
			ReasonForDev: domain.Ptr(cause.Error()),
		})
		return nil
	})
	_ = g.Wait()

	if localErr != nil {
		log.Error("Failed to mark row failed in job state", slog.String("error", localErr.Error()))
		return domain.NewRetryableError(fmt.Errorf("%w; failed to record row failure: %w", cause, localErr))
	}

	if remoteErr != nil {
		log.Error("Failed to mark row failed on core API", slog.String("error", remoteErr.Error()))
	} else {
		r.markReported(ctx, log, ref)
	}

	log.Warn("Row failed",
		slog.String("reason", reasonForCx),
		slog.String("error", cause.Error()),
	)
	return r.tracker.RowFinished(ctx, ref, before, after)
}

// ReportFailure re-sends the core API update for a failed row whose earlier report did not
// go through. Other rows are ignored.
func (r *FailureRecorder) ReportFailure(ctx context.Context, ref domain.RowRef, row *domain.PatientRow) error {
	if row == nil || row.Status != domain.RowStatusFailed || row.FailureReported {
		return nil
	}

	log := r.rowLogger(ctx, ref)
	if err := r.api.UpdateRecordFailed(ctx, ref.CxID, ref.JobID, ref.RowNumber, row.ReasonForCx); err != nil {
		log.Error("Failed to re-send row failure to core API", slog.String("error", err.Error()))
		return fmt.Errorf("job %s row %d: failed to report row failure: %w", ref.JobID, ref.RowNumber, err)
	}
	r.markReported(ctx, log, ref)
	log.Info("Row failure reported to core API")
	return nil
}

func (r *FailureRecorder) markReported(ctx context.Context, log *slog.Logger, ref domain.RowRef) {
	if _, _, err := r.store.UpsertRow(ctx, ref, domain.RowPatch{FailureReported: domain.Ptr(true)}); err != nil {
		log.Warn("Failed to flag row failure as reported", slog.String("error", err.Error()))
	}
}

func (r *FailureRecorder) rowLogger(ctx context.Context, ref domain.RowRef) *slog.Logger {
	return logger.FromContext(ctx, r.logger).With(
		slog.String("cx_id", ref.CxID),
		slog.String("job_id", ref.JobID),
		slog.Int("row_number", ref.RowNumber),
	)
}
