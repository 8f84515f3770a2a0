package domain

// CreateRequest advances one validated row through patient creation
type CreateRequest struct {
	CxID       string          `json:"cxId"`
	JobID      string          `json:"jobId"`
	FacilityID string          `json:"facilityId"`
	RowNumber  int             `json:"rowNumber"`
	Payload    *PatientPayload `json:"payload,omitempty"`
}

// QueryRequest advances a created patient through discovery and document query
type QueryRequest struct {
	CxID                  string `json:"cxId"`
	JobID                 string `json:"jobId"`
	FacilityID            string `json:"facilityId,omitempty"`
	RowNumber             int    `json:"rowNumber"`
	PatientID             string `json:"patientId"`
	DataPipelineRequestID string `json:"dataPipelineRequestId"`
}

// RowRef identifies a row within a job
type RowRef struct {
	CxID      string
	JobID     string
	RowNumber int
}

// Ref returns the row reference of the request
func (r CreateRequest) Ref() RowRef {
	return RowRef{CxID: r.CxID, JobID: r.JobID, RowNumber: r.RowNumber}
}

// Ref returns the row reference of the request
func (r QueryRequest) Ref() RowRef {
	return RowRef{CxID: r.CxID, JobID: r.JobID, RowNumber: r.RowNumber}
}
