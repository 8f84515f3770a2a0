package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// CreateProcessor creates the patient for a row and hands it off to the query stage
type CreateProcessor struct {
	store    JobStore
	api      coreapi.API
	next     QueryHandler
	recorder Recorder
	tracker  Tracker
	logger   *slog.Logger
	newID    func() string
}

// NewCreateProcessor creates a CreateProcessor
func NewCreateProcessor(store JobStore, api coreapi.API, next QueryHandler, recorder Recorder, tracker Tracker, log *slog.Logger) *CreateProcessor {
	return &CreateProcessor{
		store:    store,
		api:      api,
		next:     next,
		recorder: recorder,
		tracker:  tracker,
		logger:   log,
		newID:    newUUIDv7,
	}
}

func newUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ProcessCreate runs the create stage for one row. Rows that already finished or already have a
// patient id skip patient creation, so redelivered requests are safe.
func (p *CreateProcessor) ProcessCreate(ctx context.Context, req domain.CreateRequest) error {
	ref := req.Ref()
	log := logger.FromContext(ctx, p.logger).With(
		slog.String("cx_id", req.CxID),
		slog.String("job_id", req.JobID),
		slog.Int("row_number", req.RowNumber),
	)

	if req.Payload == nil {
		err := fmt.Errorf("job %s row %d: create request without patient payload: %w", req.JobID, req.RowNumber, domain.ErrInvalidPayload)
		log.Error("Rejecting create request", slog.String("error", err.Error()))
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

	patientID, exists, err := p.store.RowAlreadyHasPatientID(ctx, ref)
	if err != nil {
		return domain.NewRetryableError(err)
	}
	if exists {
		return p.resume(ctx, log, req, patientID)
	}

	if _, _, err := p.store.UpsertRow(ctx, ref, domain.RowPatch{Status: domain.Ptr(domain.RowStatusProcessing)}); err != nil {
		return domain.NewRetryableError(err)
	}

	patientID, err = p.api.CreatePatient(ctx, req.CxID, req.FacilityID, req.Payload)
	if err != nil {
		return p.recorder.Record(ctx, ref, err, domain.ReasonInternalError)
	}
	log = log.With(slog.String("patient_id", patientID))

	_, row, err = p.store.UpsertRow(ctx, ref, domain.RowPatch{
		PatientID:             domain.Ptr(patientID),
		DataPipelineRequestID: domain.Ptr(p.newID()),
	})
	if err != nil {
		return domain.NewRetryableError(err)
	}

	mapping, err := p.store.PutMapping(ctx, req.CxID, req.JobID, domain.PatientMapping{
		RowNumber:             req.RowNumber,
		PatientID:             row.PatientID,
		DataPipelineRequestID: row.DataPipelineRequestID,
	})
	if err != nil {
		return domain.NewRetryableError(err)
	}

	if err := p.api.CreatePatientMapping(ctx, req.CxID, req.JobID, *mapping); err != nil {
		return p.recorder.Record(ctx, ref, err, domain.ReasonInternalError)
	}

	log.Info("Patient created", slog.String("request_id", mapping.DataPipelineRequestID))

	return p.next.ProcessQuery(ctx, domain.QueryRequest{
		CxID:                  req.CxID,
		JobID:                 req.JobID,
		FacilityID:            req.FacilityID,
		RowNumber:             req.RowNumber,
		PatientID:             mapping.PatientID,
		DataPipelineRequestID: mapping.DataPipelineRequestID,
	})
}

// resume hands a previously created patient to the query stage unless the row already finished
func (p *CreateProcessor) resume(ctx context.Context, log *slog.Logger, req domain.CreateRequest, patientID string) error {
	row, err := p.store.ReadRow(ctx, req.Ref())
	if err != nil {
		return domain.NewRetryableError(err)
	}

	log = log.With(slog.String("patient_id", patientID))
	if row.Status.IsTerminal() {
		return settleFinished(ctx, log, p.recorder, p.tracker, req.Ref(), row)
	}

	log.Info("Patient already created for row, resuming at query stage")
	return p.next.ProcessQuery(ctx, domain.QueryRequest{
		CxID:                  req.CxID,
		JobID:                 req.JobID,
		FacilityID:            req.FacilityID,
		RowNumber:             req.RowNumber,
		PatientID:             patientID,
		DataPipelineRequestID: row.DataPipelineRequestID,
	})
}
