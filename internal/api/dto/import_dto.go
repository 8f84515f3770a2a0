package dto

import (
	"time"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
)

// CreateImportRequest is the query of an upload. cx_id becomes part of storage keys, so it may
// not contain a slash.
type CreateImportRequest struct {
	CxID                     string `form:"cx_id" binding:"required,excludes=/"`
	FacilityID               string `form:"facility_id" binding:"required"`
	DryRun                   bool   `form:"dry_run"`
	RerunPdOnNewDemographics bool   `form:"rerun_pd_on_new_demographics"`
	TriggerConsolidated      bool   `form:"trigger_consolidated"`
	DisableWebhooks          bool   `form:"disable_webhooks"`
}

// Params returns the job switches of the request
func (r CreateImportRequest) Params() domain.JobParams {
	return domain.JobParams{
		DryRun:                   r.DryRun,
		RerunPdOnNewDemographics: r.RerunPdOnNewDemographics,
		TriggerConsolidated:      r.TriggerConsolidated,
		DisableWebhooks:          r.DisableWebhooks,
	}
}

type JobURI struct {
	JobID string `uri:"job_id" binding:"required"`
}

type RowURI struct {
	JobID     string `uri:"job_id" binding:"required"`
	RowNumber int    `uri:"row_number" binding:"required,min=1"`
}

type CxQuery struct {
	CxID string `form:"cx_id" binding:"required,excludes=/"`
}

type ListRowsRequest struct {
	CxID     string `form:"cx_id" binding:"required,excludes=/"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=1000"`
	Cursor   string `form:"cursor"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	CxID         string `json:"cx_id"`
	FacilityID   string `json:"facility_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	TotalRows    int    `json:"total_rows"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
	DryRun       bool   `json:"dry_run"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// NewJobDTO converts a job for the API
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:        job.ID,
		CxID:         job.CxID,
		FacilityID:   job.FacilityID,
		Status:       string(job.Status),
		Reason:       job.Reason,
		TotalRows:    job.TotalRows,
		SuccessCount: job.SuccessCount,
		FailedCount:  job.FailedCount,
		DryRun:       job.Params.DryRun,
		StartedAt:    job.StartedAt.Format(time.RFC3339),
	}
	if !job.FinishedAt.IsZero() {
		out.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return out
}

type RowDTO struct {
	RowNumber int    `json:"row_number"`
	Status    string `json:"status"`
	PatientID string `json:"patient_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// NewRowDTO converts a row for the API. Internal failure detail is never exposed.
func NewRowDTO(row domain.PatientRow) RowDTO {
	out := RowDTO{
		RowNumber: row.RowNumber,
		Status:    string(row.Status),
		PatientID: row.PatientID,
		Reason:    row.ReasonForCx,
	}
	if !row.UpdatedAt.IsZero() {
		out.UpdatedAt = row.UpdatedAt.Format(time.RFC3339)
	}
	return out
}

type ListRowsResponse struct {
	Rows       []RowDTO `json:"rows"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type MappingDTO struct {
	RowNumber             int    `json:"row_number"`
	PatientID             string `json:"patient_id"`
	DataPipelineRequestID string `json:"data_pipeline_request_id"`
}
