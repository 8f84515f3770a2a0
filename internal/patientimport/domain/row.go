package domain

import "time"

// RowStatus is the lifecycle state of one CSV row
type RowStatus string

const (
	RowStatusWaiting    RowStatus = "waiting"
	RowStatusProcessing RowStatus = "processing"
	RowStatusCompleted  RowStatus = "completed"
	RowStatusFailed     RowStatus = "failed"
)

func (s RowStatus) rank() int {
	switch s {
	case RowStatusWaiting:
		return 0
	case RowStatusProcessing:
		return 1
	case RowStatusCompleted, RowStatusFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether the row finished
func (s RowStatus) IsTerminal() bool {
	return s.rank() == 2
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
// Terminal states accept only themselves.
func (s RowStatus) CanTransitionTo(next RowStatus) bool {
	if next.rank() < 0 {
		return false
	}
	if s.IsTerminal() {
		return s == next
	}
	return next.rank() >= s.rank()
}

// PatientRow is the durable state of one CSV row (1-indexed, header excluded)
type PatientRow struct {
	RowNumber             int       `json:"rowNumber"`
	RawCsv                string    `json:"rawCsv"`
	Status                RowStatus `json:"status"`
	PatientID             string    `json:"patientId,omitempty"`
	DataPipelineRequestID string    `json:"dataPipelineRequestId,omitempty"`
	ReasonForCx           string    `json:"reasonForCx,omitempty"`
	ReasonForDev          string    `json:"reasonForDev,omitempty"`
	FailureReported       bool      `json:"failureReported,omitempty"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// RowPatch carries the fields to merge into a PatientRow; nil fields are left untouched
type RowPatch struct {
	RawCsv                *string
	Status                *RowStatus
	PatientID             *string
	DataPipelineRequestID *string
	ReasonForCx           *string
	ReasonForDev          *string
	FailureReported       *bool
}

// Apply merges the patch into row. A status regression is ignored and reported as false.
func (p RowPatch) Apply(row *PatientRow) bool {
	applied := true
	if p.Status != nil {
		if row.Status == "" || row.Status.CanTransitionTo(*p.Status) {
			row.Status = *p.Status
		} else {
			applied = false
		}
	}
	if p.RawCsv != nil {
		row.RawCsv = *p.RawCsv
	}
	if p.PatientID != nil && row.PatientID == "" {
		row.PatientID = *p.PatientID
	}
	if p.DataPipelineRequestID != nil {
		row.DataPipelineRequestID = *p.DataPipelineRequestID
	}
	if p.ReasonForCx != nil {
		row.ReasonForCx = *p.ReasonForCx
	}
	if p.ReasonForDev != nil {
		row.ReasonForDev = *p.ReasonForDev
	}
	if p.FailureReported != nil {
		row.FailureReported = *p.FailureReported
	}
	return applied
}

// PatientMapping bridges a CSV row to the created external identity. Immutable once stored.
type PatientMapping struct {
	RowNumber             int    `json:"rowNumber"`
	PatientID             string `json:"patientId"`
	DataPipelineRequestID string `json:"dataPipelineRequestId"`
}

// ParsingError is a single field-level validation failure
type ParsingError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Ptr returns a pointer to v, handy for building patches
func Ptr[T any](v T) *T {
	return &v
}
