package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/coreapi/coreapimock"
	"github.com/metriport/metriport-sub005/internal/objectstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/csvimport"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/patientimport/jobstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/poller"
	"github.com/metriport/metriport-sub005/internal/patientimport/stage"
	"github.com/metriport/metriport-sub005/internal/patientimport/tracking"
	"github.com/metriport/metriport-sub005/shared/logger"
)

const testHeader = "firstname,lastname,dob,gender,zip,city,state,addressline1,addressline2,phone1,email1,externalid"

func csvOf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

var mixedCSV = csvOf(
	testHeader,
	"john,doe,01/02/1980,M,02101,boston,MA,123 Main St,,6175551234,john@example.com,ext-1",
	",doe,01/02/1980,M,02101,boston,MA,123 Main St,,,,ext-2",
	"jane,smith,1975-07-04,F,10001,new york,NY,PO BOX 666,,,,ext-3",
)

type stubPoller struct{}

func (stubPoller) Poll(_ context.Context, req poller.Request) (*poller.Result, error) {
	return &poller.Result{AttemptsUsed: 1, ResultsFound: 1, IsComplete: true, RequestID: req.RequestID}, nil
}

type recordingCreate struct {
	mu   sync.Mutex
	reqs []domain.CreateRequest
	err  error
}

func (r *recordingCreate) ProcessCreate(_ context.Context, req domain.CreateRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.err
}

type harness struct {
	store    *jobstore.Store
	api      *coreapimock.API
	recorder *tracking.FailureRecorder
	tracker  *tracking.Tracker
}

func newHarness() *harness {
	store := jobstore.New(objectstore.NewMemoryStore(), logger.NewNop())
	api := &coreapimock.API{}
	tracker := tracking.NewTracker(store, api, logger.NewNop())
	return &harness{
		store:    store,
		api:      api,
		tracker:  tracker,
		recorder: tracking.NewFailureRecorder(store, api, tracker, logger.NewNop()),
	}
}

func (h *harness) importer(pipeline *stage.Pipeline) *Importer {
	imp := New(h.store, h.api, csvimport.NewValidator(), pipeline, h.recorder, h.tracker, logger.NewNop())
	n := 0
	imp.newID = func() string {
		n++
		return fmt.Sprintf("job-%d", n)
	}
	return imp
}

func byExternalID(id string) any {
	return mock.MatchedBy(func(p *domain.PatientPayload) bool { return p != nil && p.ExternalID == id })
}

func TestImporter_EndToEndDirect(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	pipeline, err := stage.NewPipeline(stage.ModeDirect, stage.Chunking{Size: 2}, stage.Deps{
		Store:    h.store,
		API:      h.api,
		Poller:   stubPoller{},
		Params:   stage.NewParamsCache(h.store, time.Minute),
		Recorder: h.recorder,
		Tracker:  h.tracker,
		Logger:   logger.NewNop(),
	})
	require.NoError(t, err)

	h.api.On("UpdateJobRuntimeData", mock.Anything, "cx-1", "job-1", coreapi.RuntimeData{TotalRows: 3, ValidRows: 2, InvalidRows: 1}).Return(nil).Once()
	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", coreapi.JobStatusUpdate{Failed: 1}).Return(nil).Once()
	h.api.On("CreatePatient", mock.Anything, "cx-1", "fac-1", byExternalID("ext-1")).Return("pat-1", nil).Once()
	h.api.On("CreatePatient", mock.Anything, "cx-1", "fac-1", byExternalID("ext-3")).Return("pat-3", nil).Once()
	h.api.On("CreatePatientMapping", mock.Anything, "cx-1", "job-1", mock.Anything).Return(nil).Twice()
	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", coreapi.JobStatusUpdate{Status: domain.JobStatusCompleted}).Return(nil).Once()

	imp := h.importer(pipeline)
	job, err := imp.StartImport(ctx, Request{CxID: "cx-1", FacilityID: "fac-1", CSV: mixedCSV})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)

	job, err = h.store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.TotalRows)
	assert.Equal(t, 2, job.SuccessCount)

	rows, err := h.store.ListRows(ctx, "cx-1", "job-1", 0, 100)
	require.NoError(t, err)
	failed := 0
	for _, row := range rows {
		if row.Status == domain.RowStatusFailed {
			failed++
		}
	}
	assert.Equal(t, failed, job.FailedCount)

	for _, row := range []int{1, 3} {
		_, err := h.store.GetMapping(ctx, domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: row})
		assert.NoError(t, err)
	}
	_, err = h.store.GetMapping(ctx, domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 2})
	assert.ErrorIs(t, err, domain.ErrMappingNotFound)

	results, err := imp.Results(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(results), "\n"), "\n")
	require.Len(t, lines, job.TotalRows+1)
	assert.Equal(t, testHeader+",status,patientId,reason", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",completed,pat-1,"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",failed,,invalid row"), lines[2])
	assert.True(t, strings.HasSuffix(lines[3], ",completed,pat-3,"), lines[3])

	stored, err := h.store.GetFile(ctx, "cx-1", "job-1", jobstore.FileResults)
	require.NoError(t, err)
	assert.Equal(t, results, stored)
	h.api.AssertExpectations(t)
}

func TestImporter_CompletionReportFailureDoesNotFailTheRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	pipeline, err := stage.NewPipeline(stage.ModeDirect, stage.Chunking{Size: 2}, stage.Deps{
		Store:    h.store,
		API:      h.api,
		Poller:   stubPoller{},
		Params:   stage.NewParamsCache(h.store, time.Minute),
		Recorder: h.recorder,
		Tracker:  h.tracker,
		Logger:   logger.NewNop(),
	})
	require.NoError(t, err)

	completed := coreapi.JobStatusUpdate{Status: domain.JobStatusCompleted}
	h.api.On("UpdateJobRuntimeData", mock.Anything, "cx-1", "job-1", mock.Anything).Return(nil).Once()
	h.api.On("CreatePatient", mock.Anything, "cx-1", "fac-1", byExternalID("ext-1")).Return("pat-1", nil).Once()
	h.api.On("CreatePatientMapping", mock.Anything, "cx-1", "job-1", mock.Anything).Return(nil).Once()
	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", completed).Return(errors.New("core api down")).Once()
	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", completed).Return(nil).Once()

	_, err = h.importer(pipeline).StartImport(ctx, Request{CxID: "cx-1", FacilityID: "fac-1", CSV: csvOf(
		testHeader,
		"john,doe,01/02/1980,M,02101,boston,MA,123 Main St,,6175551234,john@example.com,ext-1",
	)})
	require.NoError(t, err)

	row, err := h.store.ReadRow(ctx, domain.RowRef{CxID: "cx-1", JobID: "job-1", RowNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusCompleted, row.Status)

	job, err := h.store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.SuccessCount)
	assert.Zero(t, job.FailedCount)
	assert.True(t, job.CompletionReported)

	h.api.AssertNotCalled(t, "UpdateRecordFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.api.AssertExpectations(t)
}

func TestImporter_HeaderMismatchFailsJobBeforeRows(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	create := &recordingCreate{}
	imp := h.importer(&stage.Pipeline{Create: create, Chunk: stage.Chunking{Size: 5}})

	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", coreapi.JobStatusUpdate{
		Status: domain.JobStatusFailed, Reason: domain.ReasonHeaderMismatch,
	}).Return(nil).Once()

	job, err := imp.StartImport(ctx, Request{CxID: "cx-1", CSV: csvOf("first,last", "john,doe")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHeaderMismatch)
	assert.Nil(t, job)

	stored, err := h.store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.ReasonHeaderMismatch, stored.Reason)

	rows, err := h.store.ListRows(ctx, "cx-1", "job-1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, create.reqs)

	_, err = imp.Results(ctx, "cx-1", "job-1")
	assert.ErrorIs(t, err, ErrNoResults)
	h.api.AssertExpectations(t)
}

func TestImporter_PrepareStoresRowsAndFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	imp := h.importer(&stage.Pipeline{Create: &recordingCreate{}, Chunk: stage.DefaultChunking()})
	h.api.On("UpdateJobRuntimeData", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.api.On("UpdateJobStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	prepared, err := imp.Prepare(ctx, Request{
		CxID: "cx-1", FacilityID: "fac-1", JobID: "job-x", CSV: mixedCSV,
		Params: domain.JobParams{TriggerConsolidated: true},
	})
	require.NoError(t, err)

	require.Len(t, prepared.Creates, 2)
	assert.Equal(t, 1, prepared.Creates[0].RowNumber)
	assert.Equal(t, 3, prepared.Creates[1].RowNumber)
	assert.Equal(t, "fac-1", prepared.Creates[1].FacilityID)
	assert.True(t, prepared.Job.Params.TriggerConsolidated)

	row, err := h.store.ReadRow(ctx, domain.RowRef{CxID: "cx-1", JobID: "job-x", RowNumber: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.RowStatusFailed, row.Status)
	assert.Equal(t, domain.ReasonValidationError, row.ReasonForCx)
	assert.Equal(t, "firstName: missing required field", row.ReasonForDev)

	headers, err := h.store.GetHeaders(ctx, "cx-1", "job-x")
	require.NoError(t, err)
	assert.Len(t, headers, 12)

	invalid, err := h.store.GetFile(ctx, "cx-1", "job-x", jobstore.FileInvalid)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(invalid), "\n"))

	valid, err := h.store.GetFile(ctx, "cx-1", "job-x", jobstore.FileValid)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(valid), "\n"))

	raw, err := h.store.GetFile(ctx, "cx-1", "job-x", jobstore.FileRaw)
	require.NoError(t, err)
	assert.Equal(t, mixedCSV, raw)

	again, err := imp.Prepare(ctx, Request{CxID: "cx-1", JobID: "job-x", CSV: mixedCSV})
	require.NoError(t, err)
	assert.Empty(t, again.Creates, "an existing job is not prepared twice")
	h.api.AssertNumberOfCalls(t, "UpdateJobRuntimeData", 1)
}

func TestImporter_DryRunCompletesAfterValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	create := &recordingCreate{}
	imp := h.importer(&stage.Pipeline{Create: create, Chunk: stage.DefaultChunking()})
	h.api.On("UpdateJobRuntimeData", mock.Anything, "cx-1", "job-1", mock.Anything).Return(nil).Once()
	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", coreapi.JobStatusUpdate{
		Status: domain.JobStatusCompleted, Failed: 1,
	}).Return(nil).Once()

	job, err := imp.StartImport(ctx, Request{CxID: "cx-1", CSV: mixedCSV, Params: domain.JobParams{DryRun: true}})
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.False(t, job.FinishedAt.IsZero())
	assert.Empty(t, create.reqs)
	h.api.AssertExpectations(t)
}

func TestImporter_DispatchChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	create := &recordingCreate{}
	imp := h.importer(&stage.Pipeline{Create: create, Chunk: stage.Chunking{Size: 2, Delay: 20 * time.Millisecond}})

	var sleeps []time.Duration
	imp.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	creates := make([]domain.CreateRequest, 5)
	for i := range creates {
		creates[i] = domain.CreateRequest{CxID: "cx-1", JobID: "job-1", RowNumber: i + 1}
	}

	require.NoError(t, imp.Dispatch(ctx, creates))
	assert.Len(t, create.reqs, 5)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, sleeps)
}

func TestImporter_DispatchRecordsRowErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	_, _, err := h.store.CreateJob(ctx, &domain.Job{ID: "job-1", CxID: "cx-1", Status: domain.JobStatusProcessing, TotalRows: 2})
	require.NoError(t, err)

	create := &recordingCreate{err: errors.New("publish failed")}
	imp := h.importer(&stage.Pipeline{Create: create, Chunk: stage.Chunking{Size: 5}})
	h.api.On("UpdateRecordFailed", mock.Anything, "cx-1", "job-1", mock.Anything, domain.ReasonInternalError).Return(nil).Twice()
	h.api.On("UpdateJobStatus", mock.Anything, "cx-1", "job-1", coreapi.JobStatusUpdate{Status: domain.JobStatusCompleted}).Return(nil).Once()

	require.NoError(t, imp.Dispatch(ctx, []domain.CreateRequest{
		{CxID: "cx-1", JobID: "job-1", RowNumber: 1},
		{CxID: "cx-1", JobID: "job-1", RowNumber: 2},
	}))

	job, err := h.store.GetJob(ctx, "cx-1", "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, job.FailedCount)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	h.api.AssertExpectations(t)
}

func TestImporter_DispatchStopsOnCancel(t *testing.T) {
	h := newHarness()
	create := &recordingCreate{}
	imp := h.importer(&stage.Pipeline{Create: create, Chunk: stage.Chunking{Size: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := imp.Dispatch(ctx, []domain.CreateRequest{{RowNumber: 1}, {RowNumber: 2}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, create.reqs)
}
