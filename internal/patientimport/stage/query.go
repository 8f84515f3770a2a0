package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/poller"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// QueryProcessor runs discovery and document query for a created patient and completes the row
type QueryProcessor struct {
	store    JobStore
	poller   Poller
	params   ParamsSource
	recorder Recorder
	tracker  Tracker
	logger   *slog.Logger
}

// NewQueryProcessor creates a QueryProcessor
func NewQueryProcessor(store JobStore, p Poller, params ParamsSource, recorder Recorder, tracker Tracker, log *slog.Logger) *QueryProcessor {
	return &QueryProcessor{
		store:    store,
		poller:   p,
		params:   params,
		recorder: recorder,
		tracker:  tracker,
		logger:   log,
	}
}

// ProcessQuery runs the query stage. The row is completed whether or not documents were found.
func (p *QueryProcessor) ProcessQuery(ctx context.Context, req domain.QueryRequest) error {
	ref := req.Ref()
	log := logger.FromContext(ctx, p.logger).With(
		slog.String("cx_id", req.CxID),
		slog.String("job_id", req.JobID),
		slog.Int("row_number", req.RowNumber),
		slog.String("patient_id", req.PatientID),
	)

	if req.PatientID == "" {
		err := fmt.Errorf("job %s row %d: query request without patient id: %w", req.JobID, req.RowNumber, domain.ErrInvalidPayload)
		log.Error("Rejecting query request", slog.String("error", err.Error()))
		if recErr := p.recorder.Record(ctx, ref, err, domain.ReasonInternalError); recErr != nil {
			return recErr
		}
		return err
	}

	row, err := p.store.ReadRow(ctx, ref)
	if err != nil && !errors.Is(err, domain.ErrRowNotFound) {
		return domain.NewRetryableError(err)
	}
	if row != nil && row.Status.IsTerminal() {
		return settleFinished(ctx, log, p.recorder, p.tracker, ref, row)
	}

	params, err := p.params.Get(ctx, ParamsKey(req.CxID, req.JobID))
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to load job params: %w", err))
	}

	result, err := p.poller.Poll(ctx, poller.Request{
		CxID:      req.CxID,
		PatientID: req.PatientID,
		RequestID: req.DataPipelineRequestID,
		Params:    params,
		Notify:    true,
	})
	switch {
	case errors.Is(err, domain.ErrPatientNotQueryable):
		return p.recorder.Record(ctx, ref, err, domain.ReasonNotQueryable)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return domain.NewRetryableError(err)
	case err != nil:
		return p.recorder.Record(ctx, ref, err, domain.ReasonInternalError)
	}

	before, after, err := p.store.UpsertRow(ctx, ref, domain.RowPatch{Status: domain.Ptr(domain.RowStatusCompleted)})
	if err != nil {
		return domain.NewRetryableError(err)
	}

	log.Info("Row completed",
		slog.Int("attempts_used", result.AttemptsUsed),
		slog.Int("results_found", result.ResultsFound),
		slog.Bool("is_complete", result.IsComplete),
	)

	// the row stays completed; a retry of this delivery only re-checks job completion
	return p.tracker.RowFinished(ctx, ref, before, after)
}
