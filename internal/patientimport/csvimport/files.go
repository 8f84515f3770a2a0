package csvimport

import (
	"bytes"
	"encoding/csv"
	"strings"
)

// ResultColumns are appended to the original headers in the results file
var ResultColumns = []string{"status", "patientId", "reason"}

// ResultRow is one line of the results file
type ResultRow struct {
	Raw       string
	Status    string
	PatientID string
	Reason    string
}

// BuildValidFile renders the header and every valid row
func BuildValidFile(headers []string, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if !row.Valid() {
			continue
		}
		if err := w.Write(row.Values); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// BuildInvalidFile renders the header plus an error column, one line per invalid row
func BuildInvalidFile(headers []string, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(append([]string{}, headers...), "error")); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Valid() {
			continue
		}
		record := append(append([]string{}, row.Values...), FormatErrors(row))
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// FormatErrors joins the row errors into one comma-free message
func FormatErrors(row Row) string {
	msgs := make([]string, 0, len(row.Errors))
	for _, e := range row.Errors {
		msgs = append(msgs, e.Field+": "+e.Error)
	}
	return strings.ReplaceAll(strings.Join(msgs, "; "), ",", ";")
}

// BuildResultsFile rebuilds the uploaded rows tagged with their outcome
func BuildResultsFile(headers []string, rows []ResultRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(append([]string{}, headers...), ResultColumns...)); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := append(splitRaw(row.Raw), row.Status, row.PatientID, row.Reason)
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func splitRaw(raw string) []string {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return []string{raw}
	}
	return record
}
