package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// DirectCreateHandler runs the create stage in-process
type DirectCreateHandler struct {
	processor CreateHandler
	logger    *slog.Logger
}

// NewDirectCreateHandler creates a DirectCreateHandler
func NewDirectCreateHandler(processor CreateHandler, log *slog.Logger) *DirectCreateHandler {
	return &DirectCreateHandler{processor: processor, logger: log}
}

func (h *DirectCreateHandler) ProcessCreate(ctx context.Context, req domain.CreateRequest) error {
	start := time.Now()
	err := h.processor.ProcessCreate(ctx, req)
	logger.FromContext(ctx, h.logger).Debug("Create stage finished",
		slog.String("job_id", req.JobID),
		slog.Int("row_number", req.RowNumber),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return err
}

// DirectQueryHandler runs the query stage in-process
type DirectQueryHandler struct {
	processor QueryHandler
	logger    *slog.Logger
}

// NewDirectQueryHandler creates a DirectQueryHandler
func NewDirectQueryHandler(processor QueryHandler, log *slog.Logger) *DirectQueryHandler {
	return &DirectQueryHandler{processor: processor, logger: log}
}

func (h *DirectQueryHandler) ProcessQuery(ctx context.Context, req domain.QueryRequest) error {
	start := time.Now()
	err := h.processor.ProcessQuery(ctx, req)
	logger.FromContext(ctx, h.logger).Debug("Query stage finished",
		slog.String("job_id", req.JobID),
		slog.Int("row_number", req.RowNumber),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return err
}
