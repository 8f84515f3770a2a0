// Package importer validates an uploaded CSV, records the job and its rows, and fans valid rows
// out to the create stage.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/csvimport"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/jobstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/stage"
	"github.com/metriport/metriport-sub005/internal/retry"
	"github.com/metriport/metriport-sub005/shared/logger"
)

const (
	rowWriteConcurrency = 16
	resultsPageSize     = 1000
)

// ErrNoResults is returned for jobs that never got past header validation
var ErrNoResults = errors.New("job has no row results")

// Store is the job state used by the importer
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, bool, error)
	GetJob(ctx context.Context, cxID, jobID string) (*domain.Job, error)
	UpdateJob(ctx context.Context, cxID, jobID string, mutate func(job *domain.Job) bool) (*domain.Job, error)
	CreateRow(ctx context.Context, cxID, jobID string, row domain.PatientRow) error
	ReadRow(ctx context.Context, ref domain.RowRef) (*domain.PatientRow, error)
	ListRows(ctx context.Context, cxID, jobID string, afterRow, limit int) ([]domain.PatientRow, error)
	PutFile(ctx context.Context, cxID, jobID string, kind jobstore.FileKind, data []byte) error
	PutHeaders(ctx context.Context, cxID, jobID string, headers []string) error
	GetHeaders(ctx context.Context, cxID, jobID string) ([]string, error)
}

// Request is one upload
type Request struct {
	CxID       string
	FacilityID string
	// JobID is generated when empty
	JobID  string
	Params domain.JobParams
	CSV    []byte
}

// Prepared is a validated job and the create requests of its valid rows
type Prepared struct {
	Job     *domain.Job
	Creates []domain.CreateRequest
}

// Importer runs the validation stage and dispatches rows
type Importer struct {
	store     Store
	api       coreapi.API
	validator *csvimport.Validator
	create    stage.CreateHandler
	chunk     stage.Chunking
	recorder  stage.Recorder
	tracker   stage.Tracker
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New creates an Importer dispatching through pipeline
func New(store Store, api coreapi.API, validator *csvimport.Validator, pipeline *stage.Pipeline, recorder stage.Recorder, tracker stage.Tracker, log *slog.Logger) *Importer {
	return &Importer{
		store:     store,
		api:       api,
		validator: validator,
		create:    pipeline.Create,
		chunk:     pipeline.Chunk,
		recorder:  recorder,
		tracker:   tracker,
		logger:    log,
		now:       time.Now,
		sleep:     retry.Sleep,
		newID:     uuid.NewString,
	}
}

// StartImport validates the file and dispatches every valid row before returning
func (i *Importer) StartImport(ctx context.Context, req Request) (*domain.Job, error) {
	prepared, err := i.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := i.Dispatch(ctx, prepared.Creates); err != nil {
		return prepared.Job, err
	}
	return prepared.Job, nil
}

// Prepare creates the job, validates the CSV, and stores rows and files. A header problem fails
// the job before any row is written and is returned alongside the failed job.
func (i *Importer) Prepare(ctx context.Context, req Request) (*Prepared, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = i.newID()
	}
	log := logger.FromContext(ctx, i.logger).With(
		slog.String("cx_id", req.CxID),
		slog.String("job_id", jobID),
	)

	job, created, err := i.store.CreateJob(ctx, &domain.Job{
		ID:         jobID,
		CxID:       req.CxID,
		FacilityID: req.FacilityID,
		StartedAt:  i.now().UTC(),
		Status:     domain.JobStatusProcessing,
		Params:     req.Params,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		log.Info("Import job already exists, not validating again")
		return &Prepared{Job: job}, nil
	}

	if err := i.store.PutFile(ctx, req.CxID, jobID, jobstore.FileRaw, req.CSV); err != nil {
		return nil, i.failJob(ctx, log, job, domain.ReasonInternalError, err)
	}

	result, err := i.validator.Parse(req.CSV)
	if err != nil {
		reason := domain.ReasonInternalError
		if errors.Is(err, domain.ErrHeaderMismatch) || errors.Is(err, domain.ErrTooManyRows) {
			reason = domain.ReasonHeaderMismatch
		}
		return &Prepared{Job: job}, i.failJob(ctx, log, job, reason, err)
	}

	if err := i.store.PutHeaders(ctx, req.CxID, jobID, result.Headers); err != nil {
		return nil, i.failJob(ctx, log, job, domain.ReasonInternalError, err)
	}
	if err := i.writeRows(ctx, job, result.Rows); err != nil {
		return nil, i.failJob(ctx, log, job, domain.ReasonInternalError, err)
	}
	if err := i.writeFiles(ctx, job, result); err != nil {
		return nil, i.failJob(ctx, log, job, domain.ReasonInternalError, err)
	}

	validRows := result.ValidCount()
	invalidRows := len(result.Rows) - validRows

	job, err = i.store.UpdateJob(ctx, req.CxID, jobID, func(j *domain.Job) bool {
		j.TotalRows = len(result.Rows)
		j.FailedCount = invalidRows
		if j.Params.DryRun || j.Done() {
			j.Status = domain.JobStatusCompleted
			j.FinishedAt = i.now().UTC()
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	log.Info("Import file validated",
		slog.Int("total_rows", len(result.Rows)),
		slog.Int("valid_rows", validRows),
		slog.Int("invalid_rows", invalidRows),
		slog.Bool("dry_run", job.Params.DryRun),
	)

	i.pushRuntimeData(ctx, log, job, validRows, invalidRows)

	if job.Status.IsTerminal() {
		return &Prepared{Job: job}, nil
	}

	creates := make([]domain.CreateRequest, 0, validRows)
	for _, row := range result.Rows {
		if !row.Valid() {
			continue
		}
		creates = append(creates, domain.CreateRequest{
			CxID:       job.CxID,
			JobID:      job.ID,
			FacilityID: job.FacilityID,
			RowNumber:  row.RowNumber,
			Payload:    row.Payload,
		})
	}
	return &Prepared{Job: job, Creates: creates}, nil
}

func (i *Importer) writeRows(ctx context.Context, job *domain.Job, rows []csvimport.Row) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rowWriteConcurrency)

	for _, row := range rows {
		record := domain.PatientRow{
			RowNumber: row.RowNumber,
			RawCsv:    row.Raw,
			Status:    domain.RowStatusWaiting,
		}
		if !row.Valid() {
			record.Status = domain.RowStatusFailed
			record.ReasonForCx = domain.ReasonValidationError
			record.ReasonForDev = csvimport.FormatErrors(row)
		}
		g.Go(func() error {
			return i.store.CreateRow(gctx, job.CxID, job.ID, record)
		})
	}
	return g.Wait()
}

func (i *Importer) writeFiles(ctx context.Context, job *domain.Job, result *csvimport.Result) error {
	valid, err := csvimport.BuildValidFile(result.Headers, result.Rows)
	if err != nil {
		return fmt.Errorf("failed to build valid file: %w", err)
	}
	if err := i.store.PutFile(ctx, job.CxID, job.ID, jobstore.FileValid, valid); err != nil {
		return err
	}

	invalid, err := csvimport.BuildInvalidFile(result.Headers, result.Rows)
	if err != nil {
		return fmt.Errorf("failed to build invalid file: %w", err)
	}
	return i.store.PutFile(ctx, job.CxID, job.ID, jobstore.FileInvalid, invalid)
}

// pushRuntimeData reports validation counters to the core API. Failures are logged only; the
// local job state already holds the counters.
func (i *Importer) pushRuntimeData(ctx context.Context, log *slog.Logger, job *domain.Job, validRows, invalidRows int) {
	err := i.api.UpdateJobRuntimeData(ctx, job.CxID, job.ID, coreapi.RuntimeData{
		TotalRows:   job.TotalRows,
		ValidRows:   validRows,
		InvalidRows: invalidRows,
	})
	if err != nil {
		log.Error("Failed to push job runtime data", slog.String("error", err.Error()))
	}

	update := coreapi.JobStatusUpdate{Failed: invalidRows}
	if job.Status == domain.JobStatusCompleted {
		update.Status = domain.JobStatusCompleted
	}
	if update == (coreapi.JobStatusUpdate{}) {
		return
	}
	if err := i.api.UpdateJobStatus(ctx, job.CxID, job.ID, update); err != nil {
		log.Error("Failed to update job status", slog.String("error", err.Error()))
		return
	}
	if update.Status != domain.JobStatusCompleted {
		return
	}
	_, err = i.store.UpdateJob(ctx, job.CxID, job.ID, func(j *domain.Job) bool {
		if j.CompletionReported {
			return false
		}
		j.CompletionReported = true
		return true
	})
	if err != nil {
		log.Warn("Failed to flag job completion as reported", slog.String("error", err.Error()))
	}
}

// failJob marks the job failed locally and remotely and returns cause annotated with any
// failure to do so
func (i *Importer) failJob(ctx context.Context, log *slog.Logger, job *domain.Job, reason string, cause error) error {
	log.Error("Import job failed", slog.String("reason", reason), slog.String("error", cause.Error()))

	var errs []error
	_, err := i.store.UpdateJob(ctx, job.CxID, job.ID, func(j *domain.Job) bool {
		if j.Status.IsTerminal() {
			return false
		}
		j.Status = domain.JobStatusFailed
		j.Reason = reason
		j.FinishedAt = i.now().UTC()
		return true
	})
	if err != nil {
		errs = append(errs, err)
	} else {
		job.Status = domain.JobStatusFailed
		job.Reason = reason
	}

	if err := i.api.UpdateJobStatus(ctx, job.CxID, job.ID, coreapi.JobStatusUpdate{Status: domain.JobStatusFailed, Reason: reason}); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("job %s: %w; failed to record job failure: %w", job.ID, cause, errors.Join(errs...))
	}
	return fmt.Errorf("job %s: %w", job.ID, cause)
}
