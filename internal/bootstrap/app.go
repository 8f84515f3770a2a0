package bootstrap

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/metriport/metriport-sub005/internal/config"
	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/objectstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/csvimport"
	"github.com/metriport/metriport-sub005/internal/patientimport/importer"
	"github.com/metriport/metriport-sub005/internal/patientimport/jobstore"
	"github.com/metriport/metriport-sub005/internal/patientimport/poller"
	"github.com/metriport/metriport-sub005/internal/patientimport/stage"
	"github.com/metriport/metriport-sub005/internal/patientimport/tracking"
	"github.com/metriport/metriport-sub005/internal/queue"
	"github.com/metriport/metriport-sub005/internal/retry"
)

// AppDeps are the connected resources the pipeline is built on
type AppDeps struct {
	Objects objectstore.Store
	// Broker is required in queued mode
	Broker queue.Broker
	// Redis backs the dedup window; nil keeps claims in process
	Redis  redis.Cmdable
	API    coreapi.API
	Logger *slog.Logger
}

// App is the assembled import pipeline
type App struct {
	Store    *jobstore.Store
	API      coreapi.API
	Pipeline *stage.Pipeline
	Importer *importer.Importer
	Recorder *tracking.FailureRecorder
	Tracker  *tracking.Tracker
}

// NewCoreAPIClient builds the core API client from the core_api section
func NewCoreAPIClient(cfg config.CoreAPIConfig, log *slog.Logger) *coreapi.Client {
	retryCfg := retry.Default()
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialDelay > 0 {
		retryCfg.InitialDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		retryCfg.MaxDelay = cfg.Retry.MaxDelay
	}
	if cfg.Retry.Multiplier > 0 {
		retryCfg.Multiplier = cfg.Retry.Multiplier
	}
	return coreapi.NewClient(coreapi.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Retry:   retryCfg,
	}, nil, log)
}

// PollerOptions overlays the poller section on the defaults
func PollerOptions(cfg config.PollerConfig) poller.Options {
	opts := poller.DefaultOptions()
	if cfg.PollInterval > 0 {
		opts.PollInterval = cfg.PollInterval
	}
	if cfg.MaxPollDuration > 0 {
		opts.MaxPollDuration = cfg.MaxPollDuration
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MinResults > 0 {
		opts.MinResults = cfg.MinResults
	}
	if cfg.MaxJitter > 0 {
		opts.MaxJitter = cfg.MaxJitter
	}
	if cfg.BaseDelay > 0 {
		opts.BaseDelay = cfg.BaseDelay
	}
	return opts
}

// NewApp wires the job store, stage pipeline, and importer for the configured execution mode
func NewApp(cfg *config.Config, deps AppDeps) (*App, error) {
	if deps.Objects == nil {
		return nil, errors.New("bootstrap: object store is required")
	}
	log := deps.Logger

	api := deps.API
	if api == nil {
		api = NewCoreAPIClient(cfg.CoreAPI, log)
	}

	store := jobstore.New(deps.Objects, log)
	tracker := tracking.NewTracker(store, api, log)
	recorder := tracking.NewFailureRecorder(store, api, tracker, log)

	stageDeps := stage.Deps{
		Store:            store,
		API:              api,
		Poller:           poller.New(api, PollerOptions(cfg.Poller), log),
		Params:           stage.NewParamsCache(store, cfg.Cache.JobParamsTTL),
		Recorder:         recorder,
		Tracker:          tracker,
		CreateRoutingKey: routingKey(cfg.RabbitMQ.CreateQueue),
		QueryRoutingKey:  routingKey(cfg.RabbitMQ.QueryQueue),
		Logger:           log,
	}

	mode := stage.Mode(cfg.Pipeline.ExecutionMode)
	if mode == stage.ModeQueued {
		if deps.Broker == nil {
			return nil, errors.New("bootstrap: queued mode requires a message broker")
		}
		var dedup queue.Deduplicator = queue.NewMemoryDeduplicator()
		if deps.Redis != nil {
			dedup = queue.NewRedisDeduplicator(deps.Redis, cfg.Redis.KeyPrefix)
		}
		stageDeps.Publisher = queue.NewFIFOPublisher(deps.Broker, dedup, cfg.Pipeline.DedupWindow, log)
	}

	pipeline, err := stage.NewPipeline(mode, stage.Chunking{
		Size:  cfg.Pipeline.ChunkSize,
		Delay: cfg.Pipeline.ChunkDelay,
	}, stageDeps)
	if err != nil {
		return nil, err
	}

	return &App{
		Store:    store,
		API:      api,
		Pipeline: pipeline,
		Importer: importer.New(store, api, csvimport.NewValidator(), pipeline, recorder, tracker, log),
		Recorder: recorder,
		Tracker:  tracker,
	}, nil
}

func routingKey(q config.QueueConfig) string {
	if q.RoutingKey != "" {
		return q.RoutingKey
	}
	return q.Name
}
