package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	patientimport "github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/worker/domain"
	"github.com/metriport/metriport-sub005/shared/logger"
	"github.com/metriport/metriport-sub005/shared/rabbitmq"
)

// spawnWorkerPool spawns N worker goroutines shared by every stage queue
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed", slog.String("worker_name", workerName))
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled", slog.String("worker_name", workerName))
			return

		case msg := <-w.messages:
			w.handle(ctx, workerName, msg)
		}
	}
}

// handle processes one message and settles its delivery
func (w *Worker) handle(ctx context.Context, workerName string, msg *domain.StageMessage) {
	log := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("stage", string(msg.Kind)),
		slog.String("cx_id", msg.CxID()),
		slog.String("job_id", msg.JobID()),
		slog.Int("row_number", msg.RowNumber()),
	)

	err := w.processMessage(ctx, msg)
	if err == nil {
		w.ack(log, msg)
		return
	}

	if !shouldRequeue(err) {
		log.Error("Stage processing failed", slog.String("error", err.Error()))
		w.nack(log, msg, false)
		return
	}

	retryCount := deliveryRetryCount(msg.Delivery)
	if retryCount >= w.maxRetries {
		w.giveUp(ctx, log, msg, retryCount, err)
		return
	}

	log.Warn("Stage processing failed, retrying",
		slog.String("error", err.Error()),
		slog.Int("retry_count", retryCount+1),
		slog.Int("max_retries", w.maxRetries),
	)
	w.retry(ctx, log, msg, retryCount+1)
}

// retry publishes the message again with its retry count advanced, then acks the original.
// When the publish fails the original goes back to the queue with its old count.
func (w *Worker) retry(ctx context.Context, log *slog.Logger, msg *domain.StageMessage, retryCount int) {
	d := msg.Delivery
	groupID, _ := d.Headers[rabbitmq.GroupIDHeader].(string)

	err := w.broker.Publish(ctx, rabbitmq.Message{
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		ContentType: d.ContentType,
		MessageID:   d.MessageId,
		GroupID:     groupID,
		RetryCount:  retryCount,
	})
	if err != nil {
		log.Error("Failed to publish retry, requeueing", slog.String("error", err.Error()))
		w.nack(log, msg, true)
		return
	}
	w.ack(log, msg)
}

// giveUp fails the row of a message that used up its retries. The message is acked once the
// row is recorded and dead-lettered otherwise.
func (w *Worker) giveUp(ctx context.Context, log *slog.Logger, msg *domain.StageMessage, retryCount int, cause error) {
	err := fmt.Errorf("%w after %d retries: %w", domain.ErrMaxRetriesExceeded, retryCount, cause)
	log.Error("Stage message exceeded max retries",
		slog.String("error", err.Error()),
		slog.Int("retry_count", retryCount),
		slog.Int("max_retries", w.maxRetries),
	)

	if w.recorder == nil {
		w.nack(log, msg, false)
		return
	}

	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	if msg.RequestID != "" {
		ctx = logger.ContextWithRequestID(ctx, msg.RequestID)
	}
	if recErr := w.recorder.Record(ctx, msg.Ref(), err, patientimport.ReasonInternalError); recErr != nil {
		log.Error("Failed to record exhausted row", slog.String("error", recErr.Error()))
		w.nack(log, msg, false)
		return
	}
	w.ack(log, msg)
}

func (w *Worker) ack(log *slog.Logger, msg *domain.StageMessage) {
	if err := msg.Delivery.Ack(false); err != nil {
		log.Error("Failed to ACK message", slog.String("error", err.Error()))
	}
}

func (w *Worker) nack(log *slog.Logger, msg *domain.StageMessage, requeue bool) {
	if err := msg.Delivery.Nack(false, requeue); err != nil {
		log.Error("Failed to NACK message", slog.String("error", err.Error()), slog.Bool("requeue", requeue))
	}
}

// deliveryRetryCount reads the retry count a previous worker stamped on the message
func deliveryRetryCount(d amqp.Delivery) int {
	switch v := d.Headers[rabbitmq.RetryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// shouldRequeue retries retryable failures only. Anything else has already been recorded on
// the row or is a payload that will never succeed.
func shouldRequeue(err error) bool {
	if errors.Is(err, patientimport.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrMalformedMessage) ||
		errors.Is(err, domain.ErrMaxRetriesExceeded) {
		return false
	}
	var retryable *patientimport.RetryableError
	return errors.As(err, &retryable)
}
