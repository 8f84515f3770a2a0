package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metriport/metriport-sub005/internal/objectstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(objectstore.NewMemoryStore(), logger.NewNop())
}

func TestStore_CreateJob(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := &domain.Job{ID: "job-1", CxID: "cx-1", Status: domain.JobStatusProcessing, TotalRows: 3}
	stored, created, err := store.CreateJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, job, stored)

	dup := &domain.Job{ID: "job-1", CxID: "cx-1", Status: domain.JobStatusFailed}
	stored, created, err = store.CreateJob(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
	assert.Equal(t, 3, stored.TotalRows)

	_, err = store.GetJob(ctx, "cx-1", "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_UpdateJobConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.maxAttempts = 100

	_, _, err := store.CreateJob(ctx, &domain.Job{ID: "job-1", CxID: "cx-1", TotalRows: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateJob(ctx, "cx-1", "job-1", func(job *domain.Job) bool {
				job.SuccessCount++
				return true
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	job, err := store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, 10, job.SuccessCount)
	assert.True(t, job.Done())
}

func TestStore_UpdateJobNoChange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, _, err := store.CreateJob(ctx, &domain.Job{ID: "job-1", CxID: "cx-1"})
	require.NoError(t, err)

	job, err := store.UpdateJob(ctx, "cx-1", "job-1", func(*domain.Job) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)

	_, err = store.UpdateJob(ctx, "cx-1", "nope", func(*domain.Job) bool { return true })
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_UpsertRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ref := domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 1}

	before, after, err := store.UpsertRow(ctx, ref, domain.RowPatch{
		RawCsv: domain.Ptr("john,doe"),
		Status: domain.Ptr(domain.RowStatusWaiting),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatus(""), before.Status)
	assert.Equal(t, domain.RowStatusWaiting, after.Status)
	assert.Equal(t, 1, after.RowNumber)

	_, after, err = store.UpsertRow(ctx, ref, domain.RowPatch{
		Status:    domain.Ptr(domain.RowStatusProcessing),
		PatientID: domain.Ptr("pat-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pat-1", after.PatientID)
	assert.Equal(t, "john,doe", after.RawCsv)

	before, after, err = store.UpsertRow(ctx, ref, domain.RowPatch{Status: domain.Ptr(domain.RowStatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusProcessing, before.Status)
	assert.Equal(t, domain.RowStatusCompleted, after.Status)

	// terminal rows do not regress and keep their patient id
	_, after, err = store.UpsertRow(ctx, ref, domain.RowPatch{
		Status:    domain.Ptr(domain.RowStatusProcessing),
		PatientID: domain.Ptr("pat-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusCompleted, after.Status)
	assert.Equal(t, "pat-1", after.PatientID)

	row, err := store.ReadRow(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusCompleted, row.Status)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), row.UpdatedAt)
}

func TestStore_UpsertRowConcurrentPatches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.maxAttempts = 100
	ref := domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 7}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, err := store.UpsertRow(ctx, ref, domain.RowPatch{PatientID: domain.Ptr("pat-7")})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, _, err := store.UpsertRow(ctx, ref, domain.RowPatch{DataPipelineRequestID: domain.Ptr("req-7")})
		assert.NoError(t, err)
	}()
	wg.Wait()

	row, err := store.ReadRow(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "pat-7", row.PatientID)
	assert.Equal(t, "req-7", row.DataPipelineRequestID)
}

func TestStore_RowAlreadyHasPatientID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ref := domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 2}

	id, ok, err := store.RowAlreadyHasPatientID(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	require.NoError(t, store.CreateRow(ctx, "cx-1", "job-1", domain.PatientRow{RowNumber: 2, Status: domain.RowStatusWaiting}))
	_, ok, err = store.RowAlreadyHasPatientID(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = store.UpsertRow(ctx, ref, domain.RowPatch{PatientID: domain.Ptr("pat-2")})
	require.NoError(t, err)

	id, ok, err = store.RowAlreadyHasPatientID(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pat-2", id)
}

func TestStore_CreateRowKeepsExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateRow(ctx, "cx-1", "job-1", domain.PatientRow{RowNumber: 1, Status: domain.RowStatusCompleted}))
	require.NoError(t, store.CreateRow(ctx, "cx-1", "job-1", domain.PatientRow{RowNumber: 1, Status: domain.RowStatusWaiting}))

	row, err := store.ReadRow(ctx, domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusCompleted, row.Status)
}

func TestStore_ListRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for i := 1; i <= 12; i++ {
		require.NoError(t, store.CreateRow(ctx, "cx-1", "job-1", domain.PatientRow{
			RowNumber: i,
			RawCsv:    fmt.Sprintf("row-%d", i),
			Status:    domain.RowStatusWaiting,
		}))
	}
	require.NoError(t, store.CreateRow(ctx, "cx-1", "job-2", domain.PatientRow{RowNumber: 1}))

	rows, err := store.ListRows(ctx, "cx-1", "job-1", 0, 5)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, 1, rows[0].RowNumber)
	assert.Equal(t, 5, rows[4].RowNumber)

	rows, err = store.ListRows(ctx, "cx-1", "job-1", 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 11, rows[0].RowNumber)
	assert.Equal(t, "row-12", rows[1].RawCsv)
}

func TestStore_Mapping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ref := domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 4}

	_, err := store.GetMapping(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrMappingNotFound)

	first := domain.PatientMapping{RowNumber: 4, PatientID: "pat-4", DataPipelineRequestID: "req-a"}
	stored, err := store.PutMapping(ctx, "cx-1", "job-1", first)
	require.NoError(t, err)
	assert.Equal(t, first, *stored)

	stored, err = store.PutMapping(ctx, "cx-1", "job-1", domain.PatientMapping{RowNumber: 4, PatientID: "pat-4", DataPipelineRequestID: "req-b"})
	require.NoError(t, err)
	assert.Equal(t, "req-a", stored.DataPipelineRequestID)
}

func TestStore_FilesAndHeaders(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutFile(ctx, "cx-1", "job-1", FileRaw, []byte("a,b\n1,2\n")))
	data, err := store.GetFile(ctx, "cx-1", "job-1", FileRaw)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	_, err = store.GetFile(ctx, "cx-1", "job-1", FileValid)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	require.NoError(t, store.PutHeaders(ctx, "cx-1", "job-1", []string{"firstname", "lastname"}))
	headers, err := store.GetHeaders(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"firstname", "lastname"}, headers)
}
