package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metriport/metriport-sub005/internal/objectstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// DefaultMaxAttempts bounds the optimistic read-merge-write retries
const DefaultMaxAttempts = 8

// Store keeps job, row, mapping, and file state in object storage
type Store struct {
	objects     objectstore.Store
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// New creates a Store
func New(objects objectstore.Store, logger *slog.Logger) *Store {
	return &Store{
		objects:     objects,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// CreateJob writes the job once. When it already exists the stored job is returned
// with created=false.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) (stored *domain.Job, created bool, err error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	_, err = s.objects.Put(ctx, statusKey(job.CxID, job.ID), data, objectstore.PutOptions{IfNoneMatch: true})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		existing, getErr := s.GetJob(ctx, job.CxID, job.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		s.logger.Debug("Job already initialized",
			slog.String("cx_id", job.CxID),
			slog.String("job_id", job.ID),
		)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}

	return job, true, nil
}

// GetJob loads a job
func (s *Store) GetJob(ctx context.Context, cxID, jobID string) (*domain.Job, error) {
	job, _, err := s.readJob(ctx, cxID, jobID)
	return job, err
}

func (s *Store) readJob(ctx context.Context, cxID, jobID string) (*domain.Job, string, error) {
	obj, err := s.objects.Get(ctx, statusKey(cxID, jobID))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, "", domain.ErrJobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	var job domain.Job
	if err := json.Unmarshal(obj.Data, &job); err != nil {
		return nil, "", fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, obj.ETag, nil
}

// UpdateJob applies mutate to the stored job with optimistic concurrency.
// mutate returns false when nothing changed, in which case nothing is written.
func (s *Store) UpdateJob(ctx context.Context, cxID, jobID string, mutate func(job *domain.Job) bool) (*domain.Job, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		job, etag, err := s.readJob(ctx, cxID, jobID)
		if err != nil {
			return nil, err
		}

		if !mutate(job) {
			return job, nil
		}

		data, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("failed to encode job %s: %w", jobID, err)
		}

		_, err = s.objects.Put(ctx, statusKey(cxID, jobID), data, objectstore.PutOptions{IfMatch: etag})
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, objectstore.ErrPreconditionFailed) {
			return nil, fmt.Errorf("failed to update job %s: %w", jobID, err)
		}

		s.logger.Debug("Job update conflict, retrying",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("failed to update job %s after %d attempts: %w", jobID, s.maxAttempts, objectstore.ErrPreconditionFailed)
}

// CreateRow writes the initial row state unless the row already exists
func (s *Store) CreateRow(ctx context.Context, cxID, jobID string, row domain.PatientRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("job %s row %d: failed to encode row: %w", jobID, row.RowNumber, err)
	}

	_, err = s.objects.Put(ctx, rowKey(cxID, jobID, row.RowNumber), data, objectstore.PutOptions{IfNoneMatch: true})
	if err != nil && !errors.Is(err, objectstore.ErrPreconditionFailed) {
		return fmt.Errorf("job %s row %d: failed to create row: %w", jobID, row.RowNumber, err)
	}
	return nil
}

// ReadRow loads one row
func (s *Store) ReadRow(ctx context.Context, ref domain.RowRef) (*domain.PatientRow, error) {
	row, _, err := s.readRow(ctx, ref)
	return row, err
}

func (s *Store) readRow(ctx context.Context, ref domain.RowRef) (*domain.PatientRow, string, error) {
	obj, err := s.objects.Get(ctx, rowKey(ref.CxID, ref.JobID, ref.RowNumber))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, "", domain.ErrRowNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("job %s row %d: failed to read row: %w", ref.JobID, ref.RowNumber, err)
	}

	var row domain.PatientRow
	if err := json.Unmarshal(obj.Data, &row); err != nil {
		return nil, "", fmt.Errorf("job %s row %d: failed to decode row: %w", ref.JobID, ref.RowNumber, err)
	}
	return &row, obj.ETag, nil
}

// UpsertRow merges patch into the stored row (creating it when missing) and returns the
// row as it was before and after the merge. Concurrent writers are serialized by ETag.
func (s *Store) UpsertRow(ctx context.Context, ref domain.RowRef, patch domain.RowPatch) (before, after *domain.PatientRow, err error) {
	key := rowKey(ref.CxID, ref.JobID, ref.RowNumber)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, etag, err := s.readRow(ctx, ref)
		opts := objectstore.PutOptions{IfMatch: etag}
		switch {
		case errors.Is(err, domain.ErrRowNotFound):
			current = &domain.PatientRow{RowNumber: ref.RowNumber}
			opts = objectstore.PutOptions{IfNoneMatch: true}
		case err != nil:
			return nil, nil, err
		}

		prev := *current
		merged := *current
		if !patch.Apply(&merged) {
			s.logger.Warn("Ignoring row status regression",
				slog.String("job_id", ref.JobID),
				slog.Int("row_number", ref.RowNumber),
				slog.String("current_status", string(current.Status)),
				slog.String("requested_status", string(*patch.Status)),
			)
		}
		merged.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(merged)
		if err != nil {
			return nil, nil, fmt.Errorf("job %s row %d: failed to encode row: %w", ref.JobID, ref.RowNumber, err)
		}

		_, err = s.objects.Put(ctx, key, data, opts)
		if err == nil {
			return &prev, &merged, nil
		}
		if !errors.Is(err, objectstore.ErrPreconditionFailed) {
			return nil, nil, fmt.Errorf("job %s row %d: failed to write row: %w", ref.JobID, ref.RowNumber, err)
		}

		s.logger.Debug("Row update conflict, retrying",
			slog.String("job_id", ref.JobID),
			slog.Int("row_number", ref.RowNumber),
			slog.Int("attempt", attempt),
		)
	}

	return nil, nil, fmt.Errorf("job %s row %d: failed to write row after %d attempts: %w",
		ref.JobID, ref.RowNumber, s.maxAttempts, objectstore.ErrPreconditionFailed)
}

// RowAlreadyHasPatientID is the idempotency gate in front of create-patient
func (s *Store) RowAlreadyHasPatientID(ctx context.Context, ref domain.RowRef) (string, bool, error) {
	row, err := s.ReadRow(ctx, ref)
	if errors.Is(err, domain.ErrRowNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.PatientID, row.PatientID != "", nil
}

// ListRows returns up to limit rows with a row number greater than afterRow
func (s *Store) ListRows(ctx context.Context, cxID, jobID string, afterRow, limit int) ([]domain.PatientRow, error) {
	startAfter := ""
	if afterRow > 0 {
		startAfter = rowKey(cxID, jobID, afterRow)
	}

	keys, err := s.objects.List(ctx, rowsPrefix(cxID, jobID), startAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to list rows: %w", jobID, err)
	}

	rows := make([]domain.PatientRow, 0, len(keys))
	for _, key := range keys {
		obj, err := s.objects.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("job %s: failed to read %s: %w", jobID, key, err)
		}
		var row domain.PatientRow
		if err := json.Unmarshal(obj.Data, &row); err != nil {
			return nil, fmt.Errorf("job %s: failed to decode %s: %w", jobID, key, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PutMapping stores the row to patient mapping once; an existing mapping wins and is returned
func (s *Store) PutMapping(ctx context.Context, cxID, jobID string, mapping domain.PatientMapping) (*domain.PatientMapping, error) {
	data, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("job %s row %d: failed to encode mapping: %w", jobID, mapping.RowNumber, err)
	}

	_, err = s.objects.Put(ctx, mappingKey(cxID, jobID, mapping.RowNumber), data, objectstore.PutOptions{IfNoneMatch: true})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		return s.GetMapping(ctx, domain.RowRef{CxID: cxID, JobID: jobID, RowNumber: mapping.RowNumber})
	}
	if err != nil {
		return nil, fmt.Errorf("job %s row %d: failed to store mapping: %w", jobID, mapping.RowNumber, err)
	}
	return &mapping, nil
}

// GetMapping resolves what happened to a row
func (s *Store) GetMapping(ctx context.Context, ref domain.RowRef) (*domain.PatientMapping, error) {
	obj, err := s.objects.Get(ctx, mappingKey(ref.CxID, ref.JobID, ref.RowNumber))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, domain.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job %s row %d: failed to read mapping: %w", ref.JobID, ref.RowNumber, err)
	}

	var mapping domain.PatientMapping
	if err := json.Unmarshal(obj.Data, &mapping); err != nil {
		return nil, fmt.Errorf("job %s row %d: failed to decode mapping: %w", ref.JobID, ref.RowNumber, err)
	}
	return &mapping, nil
}

// PutFile stores one of the job's CSV files
func (s *Store) PutFile(ctx context.Context, cxID, jobID string, kind FileKind, data []byte) error {
	if _, err := s.objects.Put(ctx, fileKey(cxID, jobID, kind), data, objectstore.PutOptions{}); err != nil {
		return fmt.Errorf("job %s: failed to store %s file: %w", jobID, kind, err)
	}
	return nil
}

// GetFile loads one of the job's CSV files
func (s *Store) GetFile(ctx context.Context, cxID, jobID string, kind FileKind) ([]byte, error) {
	obj, err := s.objects.Get(ctx, fileKey(cxID, jobID, kind))
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to read %s file: %w", jobID, kind, err)
	}
	return obj.Data, nil
}

// PutHeaders stores the normalized header list
func (s *Store) PutHeaders(ctx context.Context, cxID, jobID string, headers []string) error {
	data, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("job %s: failed to encode headers: %w", jobID, err)
	}
	if _, err := s.objects.Put(ctx, headersKey(cxID, jobID), data, objectstore.PutOptions{}); err != nil {
		return fmt.Errorf("job %s: failed to store headers: %w", jobID, err)
	}
	return nil
}

// GetHeaders loads the normalized header list
func (s *Store) GetHeaders(ctx context.Context, cxID, jobID string) ([]string, error) {
	obj, err := s.objects.Get(ctx, headersKey(cxID, jobID))
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to read headers: %w", jobID, err)
	}
	var headers []string
	if err := json.Unmarshal(obj.Data, &headers); err != nil {
		return nil, fmt.Errorf("job %s: failed to decode headers: %w", jobID, err)
	}
	return headers, nil
}
