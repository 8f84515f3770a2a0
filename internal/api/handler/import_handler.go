package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/metriport/metriport-sub005/internal/api/dto"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/importer"
	"github.com/metriport/metriport-sub005/shared/logger"
)

const (
	defaultRowsPageSize = 100
	uploadFormField     = "file"
)

var errUploadTooLarge = errors.New("upload exceeds the maximum size")

// CreateImport handles POST /api/v1/imports
// Validates the uploaded CSV and starts the pipeline for its valid rows
func (h *ImportHandler) CreateImport(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx, h.logger)

	var req dto.CreateImportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		log.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return
	}

	data, err := h.readUpload(c)
	if err != nil {
		log.Error("Failed to read upload", slog.String("error", err.Error()))
		status := http.StatusBadRequest
		if errors.Is(err, errUploadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	prepared, err := h.importer.Prepare(ctx, importer.Request{
		CxID:       req.CxID,
		FacilityID: req.FacilityID,
		Params:     req.Params(),
		CSV:        data,
	})
	if err != nil {
		if prepared != nil && prepared.Job != nil && isFileRejected(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": prepared.Job.Reason,
				"job":   dto.NewJobDTO(prepared.Job),
			})
			return
		}
		log.Error("Failed to start import", slog.String("cx_id", req.CxID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start import"})
		return
	}

	if len(prepared.Creates) > 0 {
		h.dispatch(context.WithoutCancel(ctx), log, prepared.Creates)
	}

	c.JSON(http.StatusAccepted, dto.NewJobDTO(prepared.Job))
}

// dispatch runs the create stage for every row in the background
func (h *ImportHandler) dispatch(ctx context.Context, log *slog.Logger, creates []domain.CreateRequest) {
	h.dispatches.Add(1)
	go func() {
		defer h.dispatches.Done()
		if err := h.importer.Dispatch(ctx, creates); err != nil {
			log.Error("Failed to dispatch rows",
				slog.String("job_id", creates[0].JobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// readUpload accepts either a multipart "file" field or a raw text/csv body
func (h *ImportHandler) readUpload(c *gin.Context) ([]byte, error) {
	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(uploadFormField)
		if err != nil {
			return nil, fmt.Errorf("missing %q form file: %w", uploadFormField, err)
		}
		if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
			return nil, errUploadTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		body = f
	}
	if body == nil {
		return nil, errors.New("empty upload")
	}

	limit := h.maxUploadBytes
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

// GetImport handles GET /api/v1/imports/:job_id
func (h *ImportHandler) GetImport(c *gin.Context) {
	var uri dto.JobURI
	var query dto.CxQuery
	if !h.bind(c, &uri, &query) {
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), query.CxID, uri.JobID)
	if err != nil {
		h.respondError(c, "Failed to get import", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListRows handles GET /api/v1/imports/:job_id/rows
// Pages through rows in row-number order
func (h *ImportHandler) ListRows(c *gin.Context) {
	var uri dto.JobURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req dto.ListRowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return
	}
	if req.PageSize == 0 {
		req.PageSize = defaultRowsPageSize
	}

	after, err := DecodeRowCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.jobs.GetJob(ctx, req.CxID, uri.JobID); err != nil {
		h.respondError(c, "Failed to get import", err)
		return
	}

	// one extra row tells whether another page exists
	rows, err := h.jobs.ListRows(ctx, req.CxID, uri.JobID, after, req.PageSize+1)
	if err != nil {
		h.respondError(c, "Failed to list rows", err)
		return
	}

	hasMore := len(rows) > req.PageSize
	if hasMore {
		rows = rows[:req.PageSize]
	}

	resp := dto.ListRowsResponse{Rows: make([]dto.RowDTO, len(rows))}
	for i, row := range rows {
		resp.Rows[i] = dto.NewRowDTO(row)
	}
	if hasMore {
		resp.NextCursor = EncodeRowCursor(rows[len(rows)-1].RowNumber)
	}
	c.JSON(http.StatusOK, resp)
}

// GetMapping handles GET /api/v1/imports/:job_id/rows/:row_number/mapping
func (h *ImportHandler) GetMapping(c *gin.Context) {
	var uri dto.RowURI
	var query dto.CxQuery
	if !h.bind(c, &uri, &query) {
		return
	}

	mapping, err := h.jobs.GetMapping(c.Request.Context(), domain.RowRef{
		CxID:      query.CxID,
		JobID:     uri.JobID,
		RowNumber: uri.RowNumber,
	})
	if err != nil {
		h.respondError(c, "Failed to get patient mapping", err)
		return
	}
	c.JSON(http.StatusOK, dto.MappingDTO{
		RowNumber:             mapping.RowNumber,
		PatientID:             mapping.PatientID,
		DataPipelineRequestID: mapping.DataPipelineRequestID,
	})
}

// GetResults handles GET /api/v1/imports/:job_id/results
// Returns the uploaded rows tagged with status, patient id, and reason as CSV
func (h *ImportHandler) GetResults(c *gin.Context) {
	var uri dto.JobURI
	var query dto.CxQuery
	if !h.bind(c, &uri, &query) {
		return
	}

	data, err := h.importer.Results(c.Request.Context(), query.CxID, uri.JobID)
	if err != nil {
		h.respondError(c, "Failed to build results", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-results.csv"`, uri.JobID))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func isFileRejected(err error) bool {
	return errors.Is(err, domain.ErrHeaderMismatch) || errors.Is(err, domain.ErrTooManyRows)
}

func (h *ImportHandler) bind(c *gin.Context, uri, query any) bool {
	if err := c.ShouldBindUri(uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := c.ShouldBindQuery(query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters: " + err.Error()})
		return false
	}
	return true
}

func (h *ImportHandler) respondError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrRowNotFound),
		errors.Is(err, domain.ErrMappingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, importer.ErrNoResults):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.FromContext(c.Request.Context(), h.logger).Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
