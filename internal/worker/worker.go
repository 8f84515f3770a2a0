// Package worker consumes the create and query stage queues and runs each delivery through the
// matching stage handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/metriport/metriport-sub005/internal/patientimport/stage"
	"github.com/metriport/metriport-sub005/internal/worker/domain"
	"github.com/metriport/metriport-sub005/shared/rabbitmq"
)

// DefaultMaxRetries bounds how often a retryable failure is sent back to its queue
const DefaultMaxRetries = 5

// Broker is the subset of the RabbitMQ client the worker consumes from and retries through
type Broker interface {
	Qos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, msg rabbitmq.Message) error
}

// Config holds worker configuration. Recorder fails the row of a message that used up its
// MaxRetries; without one such messages are dead-lettered.
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	CreateQueue   string
	QueryQueue    string
	CreateHandler stage.CreateHandler
	QueryHandler  stage.QueryHandler
	Recorder      stage.Recorder
	Concurrency   int
	PrefetchCount int
	MaxRetries    int
	JobTimeout    time.Duration
	WorkerID      string
}

// Worker represents the stage queue consumer
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	createQueue   string
	queryQueue    string
	createHandler stage.CreateHandler
	queryHandler  stage.QueryHandler
	recorder      stage.Recorder
	concurrency   int
	prefetchCount int
	maxRetries    int
	jobTimeout    time.Duration
	workerID      string
	validate      *validator.Validate

	messages chan *domain.StageMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Broker == nil {
		return nil, errors.New("worker: broker is required")
	}
	if cfg.CreateHandler == nil && cfg.QueryHandler == nil {
		return nil, errors.New("worker: at least one stage handler is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		createQueue:   cfg.CreateQueue,
		queryQueue:    cfg.QueryQueue,
		createHandler: cfg.CreateHandler,
		queryHandler:  cfg.QueryHandler,
		recorder:      cfg.Recorder,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		maxRetries:    maxRetries,
		jobTimeout:    cfg.JobTimeout,
		workerID:      cfg.WorkerID,
		validate:      validator.New(),
		messages:      make(chan *domain.StageMessage),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start subscribes to the stage queues and processes deliveries until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_retries", w.maxRetries),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	if err := w.broker.Qos(w.prefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	subscriptions := map[domain.StageKind]string{}
	if w.createHandler != nil && w.createQueue != "" {
		subscriptions[domain.StageCreate] = w.createQueue
	}
	if w.queryHandler != nil && w.queryQueue != "" {
		subscriptions[domain.StageQuery] = w.queryQueue
	}
	if len(subscriptions) == 0 {
		return errors.New("worker: no queue to consume")
	}

	deliveries := make(map[domain.StageKind]<-chan amqp.Delivery, len(subscriptions))
	for kind, queue := range subscriptions {
		ch, err := w.setupConsumer(kind, queue)
		if err != nil {
			return err
		}
		deliveries[kind] = ch
	}

	w.spawnWorkerPool(ctx)
	for kind, ch := range deliveries {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, kind, ch)
		}()
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker and waits for in-flight messages
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
