package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	patientimport "github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/worker/domain"
)

// messageKey holds the fields every stage message must carry
type messageKey struct {
	CxID      string `validate:"required"`
	JobID     string `validate:"required"`
	RowNumber int    `validate:"gte=1"`
}

// setupConsumer starts consuming one stage queue with manual acknowledgement
func (w *Worker) setupConsumer(kind domain.StageKind, queue string) (<-chan amqp.Delivery, error) {
	consumerTag := fmt.Sprintf("%s-%s", w.workerID, kind)
	deliveries, err := w.broker.Consume(queue, consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("queue", queue),
		slog.String("stage", string(kind)),
	)
	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, kind domain.StageKind, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started", slog.String("stage", string(kind)))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled", slog.String("stage", string(kind)))
			return

		case <-w.stopChan:
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed", slog.String("stage", string(kind)))
				return
			}

			msg, err := w.decode(kind, delivery)
			if err != nil {
				w.logger.Error("Dropping malformed stage message",
					slog.String("stage", string(kind)),
					slog.String("message_id", delivery.MessageId),
					slog.String("error", err.Error()),
				)
				// malformed messages go to the DLQ
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.String("error", nackErr.Error()))
				}
				continue
			}

			select {
			case w.messages <- msg:
				w.logger.Debug("Message dispatched to worker pool",
					slog.String("stage", string(kind)),
					slog.String("job_id", msg.JobID()),
					slog.Int("row_number", msg.RowNumber()),
				)
			case <-ctx.Done():
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.String("error", nackErr.Error()))
				}
				return
			case <-w.stopChan:
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.String("error", nackErr.Error()))
				}
				return
			}
		}
	}
}

// decode parses a delivery body into the request of its stage
func (w *Worker) decode(kind domain.StageKind, delivery amqp.Delivery) (*domain.StageMessage, error) {
	msg := &domain.StageMessage{
		Kind:      kind,
		RequestID: delivery.MessageId,
		Delivery:  delivery,
	}

	switch kind {
	case domain.StageCreate:
		var req patientimport.CreateRequest
		if err := json.Unmarshal(delivery.Body, &req); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
		}
		msg.Create = &req
	case domain.StageQuery:
		var req patientimport.QueryRequest
		if err := json.Unmarshal(delivery.Body, &req); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
		}
		msg.Query = &req
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownStage, kind)
	}

	key := messageKey{CxID: msg.CxID(), JobID: msg.JobID(), RowNumber: msg.RowNumber()}
	if err := w.validate.Struct(key); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	return msg, nil
}
