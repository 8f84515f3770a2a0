package importer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// Dispatch hands creates to the create stage in chunks. Row errors are recorded on the row and
// never stop the batch; only a cancelled context does.
func (i *Importer) Dispatch(ctx context.Context, creates []domain.CreateRequest) error {
	if len(creates) == 0 {
		return nil
	}
	log := logger.FromContext(ctx, i.logger).With(
		slog.String("cx_id", creates[0].CxID),
		slog.String("job_id", creates[0].JobID),
	)

	size := i.chunk.Size
	if size <= 0 {
		size = len(creates)
	}

	for start := 0; start < len(creates); start += size {
		if start > 0 && i.chunk.Delay > 0 {
			if err := i.sleep(ctx, i.chunk.Delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+size, len(creates))
		var g errgroup.Group
		for _, req := range creates[start:end] {
			g.Go(func() error {
				i.dispatchRow(ctx, log, req)
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Info("Rows dispatched", slog.Int("rows", len(creates)))

	// a completion report that failed while a row finished gets one more try here
	if err := i.tracker.CheckCompletion(ctx, creates[0].CxID, creates[0].JobID); err != nil {
		log.Error("Failed to report job completion", slog.String("error", err.Error()))
	}
	return nil
}

func (i *Importer) dispatchRow(ctx context.Context, log *slog.Logger, req domain.CreateRequest) {
	err := i.create.ProcessCreate(ctx, req)
	if err == nil {
		return
	}

	log.Error("Create stage failed",
		slog.Int("row_number", req.RowNumber),
		slog.String("error", err.Error()),
	)

	row, readErr := i.store.ReadRow(ctx, req.Ref())
	if readErr == nil && row.Status.IsTerminal() {
		// the row outcome is stored; only a follow-up report failed
		return
	}
	if recErr := i.recorder.Record(ctx, req.Ref(), err, domain.ReasonInternalError); recErr != nil {
		log.Error("Failed to record row failure",
			slog.Int("row_number", req.RowNumber),
			slog.String("error", recErr.Error()),
		)
	}
}
