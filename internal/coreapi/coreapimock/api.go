// Package coreapimock provides a testify mock of coreapi.API
package coreapimock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// API is a mock of coreapi.API
type API struct {
	mock.Mock
}

var _ coreapi.API = (*API)(nil)

func (m *API) CreatePatient(ctx context.Context, cxID, facilityID string, payload *domain.PatientPayload) (string, error) {
	args := m.Called(ctx, cxID, facilityID, payload)
	return args.String(0), args.Error(1)
}

func (m *API) StartRecordDiscovery(ctx context.Context, cxID, patientID, requestID string, rerunPdOnNewDemographics bool) error {
	args := m.Called(ctx, cxID, patientID, requestID, rerunPdOnNewDemographics)
	return args.Error(0)
}

func (m *API) StartDocumentQuery(ctx context.Context, cxID, patientID, requestID string, opts coreapi.DocumentQueryOptions) error {
	args := m.Called(ctx, cxID, patientID, requestID, opts)
	return args.Error(0)
}

func (m *API) GetDocumentQueryStatus(ctx context.Context, cxID, patientID, requestID string) (*coreapi.DocumentQueryStatus, error) {
	args := m.Called(ctx, cxID, patientID, requestID)
	status, _ := args.Get(0).(*coreapi.DocumentQueryStatus)
	return status, args.Error(1)
}

func (m *API) UpdateJobStatus(ctx context.Context, cxID, jobID string, update coreapi.JobStatusUpdate) error {
	args := m.Called(ctx, cxID, jobID, update)
	return args.Error(0)
}

func (m *API) UpdateJobRuntimeData(ctx context.Context, cxID, jobID string, data coreapi.RuntimeData) error {
	args := m.Called(ctx, cxID, jobID, data)
	return args.Error(0)
}

func (m *API) CreatePatientMapping(ctx context.Context, cxID, jobID string, mapping domain.PatientMapping) error {
	args := m.Called(ctx, cxID, jobID, mapping)
	return args.Error(0)
}

func (m *API) UpdateRecordFailed(ctx context.Context, cxID, jobID string, rowNumber int, reason string) error {
	args := m.Called(ctx, cxID, jobID, rowNumber, reason)
	return args.Error(0)
}
