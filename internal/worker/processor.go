package worker

import (
	"context"
	"fmt"

	"github.com/metriport/metriport-sub005/internal/worker/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
)

// processMessage runs the stage handler for msg within the configured timeout
func (w *Worker) processMessage(ctx context.Context, msg *domain.StageMessage) error {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	if msg.RequestID != "" {
		ctx = logger.ContextWithRequestID(ctx, msg.RequestID)
	}

	switch {
	case msg.Create != nil && w.createHandler != nil:
		return w.createHandler.ProcessCreate(ctx, *msg.Create)
	case msg.Query != nil && w.queryHandler != nil:
		return w.queryHandler.ProcessQuery(ctx, *msg.Query)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownStage, msg.Kind)
	}
}
