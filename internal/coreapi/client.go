// Package coreapi is the HTTP client for the core patient API that owns patients, record
// discovery, document queries, and the customer-visible bulk job record.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/retry"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// RequestIDHeader carries the pipeline request id to the core API
const RequestIDHeader = "X-Request-Id"

// API is the set of core API calls the pipeline makes
type API interface {
	CreatePatient(ctx context.Context, cxID, facilityID string, payload *domain.PatientPayload) (string, error)
	StartRecordDiscovery(ctx context.Context, cxID, patientID, requestID string, rerunPdOnNewDemographics bool) error
	StartDocumentQuery(ctx context.Context, cxID, patientID, requestID string, opts DocumentQueryOptions) error
	GetDocumentQueryStatus(ctx context.Context, cxID, patientID, requestID string) (*DocumentQueryStatus, error)
	UpdateJobStatus(ctx context.Context, cxID, jobID string, update JobStatusUpdate) error
	UpdateJobRuntimeData(ctx context.Context, cxID, jobID string, data RuntimeData) error
	CreatePatientMapping(ctx context.Context, cxID, jobID string, mapping domain.PatientMapping) error
	UpdateRecordFailed(ctx context.Context, cxID, jobID string, rowNumber int, reason string) error
}

// DocumentQueryOptions shape a document query trigger
type DocumentQueryOptions struct {
	TriggerConsolidated bool
	DisableWebhooks     bool
}

// DocumentQueryStatus is the poll response of a document query
type DocumentQueryStatus struct {
	Status         string `json:"status"`
	DocumentsFound int    `json:"documentsFound"`
}

// JobStatusUpdate is the body of update-job-status. Failed is a delta.
type JobStatusUpdate struct {
	Status domain.JobStatus `json:"status,omitempty"`
	Failed int              `json:"failed,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// RuntimeData is pushed after validation
type RuntimeData struct {
	TotalRows   int `json:"totalRows"`
	ValidRows   int `json:"validRows"`
	InvalidRows int `json:"invalidRows"`
}

type createPatientResponse struct {
	ID string `json:"id"`
}

type recordFailedRequest struct {
	Reason string `json:"reason"`
}

// Config for Client
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Config
}

// Client talks to the core API over HTTP JSON
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	logger     *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retryCfg := cfg.Retry
	if retryCfg.ShouldRetry == nil {
		retryCfg.ShouldRetry = IsTransient
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		retry:      retryCfg,
		logger:     log,
	}
	if retryCfg.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("Core API call failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", delay),
				slog.String("error", err.Error()),
			)
		}
	}
	return c
}

// CreatePatient creates the patient and returns its id
func (c *Client) CreatePatient(ctx context.Context, cxID, facilityID string, payload *domain.PatientPayload) (string, error) {
	q := url.Values{"cxId": {cxID}, "facilityId": {facilityID}}

	var resp createPatientResponse
	if err := c.do(ctx, http.MethodPost, "/internal/patient", q, payload, &resp); err != nil {
		return "", fmt.Errorf("failed to create patient: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("failed to create patient: empty patient id in response")
	}
	return resp.ID, nil
}

// StartRecordDiscovery triggers patient discovery across the networks
func (c *Client) StartRecordDiscovery(ctx context.Context, cxID, patientID, requestID string, rerunPdOnNewDemographics bool) error {
	q := url.Values{
		"cxId":                     {cxID},
		"requestId":                {requestID},
		"rerunPdOnNewDemographics": {strconv.FormatBool(rerunPdOnNewDemographics)},
	}
	path := "/internal/patient/" + url.PathEscape(patientID) + "/patient-discovery"
	if err := c.do(ctx, http.MethodPost, path, q, nil, nil); err != nil {
		return fmt.Errorf("failed to start record discovery for patient %s: %w", patientID, err)
	}
	return nil
}

// StartDocumentQuery triggers a document query
func (c *Client) StartDocumentQuery(ctx context.Context, cxID, patientID, requestID string, opts DocumentQueryOptions) error {
	q := url.Values{
		"cxId":                {cxID},
		"requestId":           {requestID},
		"triggerConsolidated": {strconv.FormatBool(opts.TriggerConsolidated)},
		"disableWebhooks":     {strconv.FormatBool(opts.DisableWebhooks)},
	}
	path := "/internal/patient/" + url.PathEscape(patientID) + "/document/query"
	if err := c.do(ctx, http.MethodPost, path, q, nil, nil); err != nil {
		return fmt.Errorf("failed to start document query for patient %s: %w", patientID, err)
	}
	return nil
}

// GetDocumentQueryStatus polls a document query
func (c *Client) GetDocumentQueryStatus(ctx context.Context, cxID, patientID, requestID string) (*DocumentQueryStatus, error) {
	q := url.Values{"cxId": {cxID}, "requestId": {requestID}}
	path := "/internal/patient/" + url.PathEscape(patientID) + "/document/query"

	var status DocumentQueryStatus
	if err := c.do(ctx, http.MethodGet, path, q, nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get document query status for patient %s: %w", patientID, err)
	}
	return &status, nil
}

// UpdateJobStatus updates the customer-visible job record
func (c *Client) UpdateJobStatus(ctx context.Context, cxID, jobID string, update JobStatusUpdate) error {
	path := "/internal/patient/bulk/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodPatch, path, url.Values{"cxId": {cxID}}, update, nil); err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	return nil
}

// UpdateJobRuntimeData pushes post-validation counters
func (c *Client) UpdateJobRuntimeData(ctx context.Context, cxID, jobID string, data RuntimeData) error {
	path := "/internal/patient/bulk/" + url.PathEscape(jobID) + "/runtime-data"
	if err := c.do(ctx, http.MethodPost, path, url.Values{"cxId": {cxID}}, data, nil); err != nil {
		return fmt.Errorf("failed to update job %s runtime data: %w", jobID, err)
	}
	return nil
}

// CreatePatientMapping records the row to patient mapping on the core side
func (c *Client) CreatePatientMapping(ctx context.Context, cxID, jobID string, mapping domain.PatientMapping) error {
	path := "/internal/patient/bulk/" + url.PathEscape(jobID) + "/patient-mapping"
	if err := c.do(ctx, http.MethodPost, path, url.Values{"cxId": {cxID}}, mapping, nil); err != nil {
		return fmt.Errorf("failed to create patient mapping for row %d: %w", mapping.RowNumber, err)
	}
	return nil
}

// UpdateRecordFailed marks a row failed, incrementing the job's failed counter remotely
func (c *Client) UpdateRecordFailed(ctx context.Context, cxID, jobID string, rowNumber int, reason string) error {
	path := fmt.Sprintf("/internal/patient/bulk/%s/row/%d/failed", url.PathEscape(jobID), rowNumber)
	body := recordFailedRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, path, url.Values{"cxId": {cxID}}, body, nil); err != nil {
		return fmt.Errorf("failed to mark row %d failed: %w", rowNumber, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
			req.Header.Set(RequestIDHeader, requestID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to decode response body: %w", err)
			}
		}
		return nil
	})
}
