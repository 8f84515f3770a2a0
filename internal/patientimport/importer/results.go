package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/metriport/metriport-sub005/internal/objectstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/csvimport"
	"github.com/metriport/metriport-sub005/internal/patientimport/jobstore"
)

// Results renders the uploaded rows with their status, patient id, and customer-facing reason.
// Finished jobs also keep the rendered file.
func (i *Importer) Results(ctx context.Context, cxID, jobID string) ([]byte, error) {
	job, err := i.store.GetJob(ctx, cxID, jobID)
	if err != nil {
		return nil, err
	}

	headers, err := i.store.GetHeaders(ctx, cxID, jobID)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, ErrNoResults
	}
	if err != nil {
		return nil, err
	}

	rows := make([]csvimport.ResultRow, 0, job.TotalRows)
	after := 0
	for {
		page, err := i.store.ListRows(ctx, cxID, jobID, after, resultsPageSize)
		if err != nil {
			return nil, err
		}
		for _, row := range page {
			rows = append(rows, csvimport.ResultRow{
				Raw:       row.RawCsv,
				Status:    string(row.Status),
				PatientID: row.PatientID,
				Reason:    row.ReasonForCx,
			})
			after = row.RowNumber
		}
		if len(page) < resultsPageSize {
			break
		}
	}

	data, err := csvimport.BuildResultsFile(headers, rows)
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to build results file: %w", jobID, err)
	}

	if job.Status.IsTerminal() {
		if err := i.store.PutFile(ctx, cxID, jobID, jobstore.FileResults, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
