package handler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/importer"
)

// Importer validates uploads and fans rows out to the pipeline
type Importer interface {
	Prepare(ctx context.Context, req importer.Request) (*importer.Prepared, error)
	Dispatch(ctx context.Context, creates []domain.CreateRequest) error
	Results(ctx context.Context, cxID, jobID string) ([]byte, error)
}

// JobReader reads job state for the status endpoints
type JobReader interface {
	GetJob(ctx context.Context, cxID, jobID string) (*domain.Job, error)
	ListRows(ctx context.Context, cxID, jobID string, afterRow, limit int) ([]domain.PatientRow, error)
	GetMapping(ctx context.Context, ref domain.RowRef) (*domain.PatientMapping, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Importer       Importer
	Jobs           JobReader
	MaxUploadBytes int64
}

// ImportHandler handles import-related HTTP requests
type ImportHandler struct {
	logger         *slog.Logger
	importer       Importer
	jobs           JobReader
	maxUploadBytes int64

	dispatches sync.WaitGroup
}

// NewImportHandler creates a new ImportHandler instance
func NewImportHandler(deps *Dependencies) *ImportHandler {
	return &ImportHandler{
		logger:         deps.Logger,
		importer:       deps.Importer,
		jobs:           deps.Jobs,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// WaitForDispatches blocks until background row dispatches finish or ctx is done
func (h *ImportHandler) WaitForDispatches(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
