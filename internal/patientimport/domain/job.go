package domain

import "time"

// JobStatus is the lifecycle state of an import job
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobParams are the per-upload switches that shape the downstream lookups
type JobParams struct {
	DryRun                   bool `json:"dryRun"`
	RerunPdOnNewDemographics bool `json:"rerunPdOnNewDemographics"`
	TriggerConsolidated      bool `json:"triggerConsolidated"`
	DisableWebhooks          bool `json:"disableWebhooks"`
}

// Job is one bulk import, created once per upload
type Job struct {
	ID           string    `json:"id"`
	CxID         string    `json:"cxId"`
	FacilityID   string    `json:"facilityId"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt,omitzero"`
	Status       JobStatus `json:"status"`
	TotalRows    int       `json:"totalRows"`
	FailedCount  int       `json:"failedCount"`
	SuccessCount int       `json:"successCount"`
	Reason       string    `json:"reason,omitempty"`
	Params       JobParams `json:"params"`

	// CompletionReported is set once the core API acknowledged the completed status
	CompletionReported bool `json:"completionReported,omitempty"`
}

// Done reports whether every row reached a terminal state
func (j *Job) Done() bool {
	return j.SuccessCount+j.FailedCount >= j.TotalRows
}

// JobRef identifies a job within a customer
type JobRef struct {
	CxID  string `json:"cxId"`
	JobID string `json:"jobId"`
}
