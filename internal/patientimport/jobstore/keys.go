package jobstore

import "fmt"

// FileKind names the CSV files kept per job
type FileKind string

const (
	FileRaw     FileKind = "raw"
	FileValid   FileKind = "valid"
	FileInvalid FileKind = "invalid"
	FileResults FileKind = "results"
)

func jobPrefix(cxID, jobID string) string {
	return fmt.Sprintf("jobs/%s/%s/", cxID, jobID)
}

func statusKey(cxID, jobID string) string {
	return jobPrefix(cxID, jobID) + "status"
}

func rowsPrefix(cxID, jobID string) string {
	return jobPrefix(cxID, jobID) + "rows/"
}

// row numbers are zero padded so lexical listing follows file order
func rowKey(cxID, jobID string, rowNumber int) string {
	return fmt.Sprintf("%s%06d", rowsPrefix(cxID, jobID), rowNumber)
}

func mappingKey(cxID, jobID string, rowNumber int) string {
	return fmt.Sprintf("%smapping/%06d", jobPrefix(cxID, jobID), rowNumber)
}

func fileKey(cxID, jobID string, kind FileKind) string {
	return fmt.Sprintf("%sfiles/%s.csv", jobPrefix(cxID, jobID), kind)
}

func headersKey(cxID, jobID string) string {
	return jobPrefix(cxID, jobID) + "headers"
}
