// Package bootstrap connects infrastructure and assembles the import pipeline from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metriport/metriport-sub005/internal/config"
	"github.com/metriport/metriport-sub005/internal/objectstore"
	"github.com/metriport/metriport-sub005/shared/logger"
	"github.com/metriport/metriport-sub005/shared/postgresql"
	"github.com/metriport/metriport-sub005/shared/rabbitmq"
)

const redisPingTimeout = 5 * time.Second

// NewLogger creates the service logger from the logging section
func NewLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
	})
}

// ConnectPostgres opens the PostgreSQL client
func ConnectPostgres(cfg config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// RabbitMQConfig maps the rabbitmq section, declaring both stage queues
func RabbitMQConfig(cfg config.RabbitMQConfig) *rabbitmq.Config {
	queues := make([]rabbitmq.QueueConfig, 0, 2)
	for _, q := range []config.QueueConfig{cfg.CreateQueue, cfg.QueryQueue} {
		routingKey := q.RoutingKey
		if routingKey == "" {
			routingKey = q.Name
		}
		queues = append(queues, rabbitmq.QueueConfig{
			Name:       q.Name,
			RoutingKey: routingKey,
			Durable:    q.Durable,
			AutoDelete: q.AutoDelete,
			Exclusive:  q.Exclusive,
		})
	}

	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues:             queues,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// ConnectRabbitMQ opens the RabbitMQ client and declares the topology
func ConnectRabbitMQ(cfg config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), log)
}

// ConnectRedis returns nil when no address is configured
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("Redis connected", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return client, nil
}

// NewObjectStore returns the configured backend. The postgres backend creates its table.
func NewObjectStore(ctx context.Context, backend string, db objectstore.DB) (objectstore.Store, error) {
	switch backend {
	case config.StorageBackendMemory:
		return objectstore.NewMemoryStore(), nil
	case config.StorageBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres storage backend requires a database client")
		}
		store := objectstore.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Resources are the connections a service holds for its lifetime
type Resources struct {
	DB      *postgresql.Client
	Rabbit  *rabbitmq.Client
	Redis   *redis.Client
	Objects objectstore.Store
}

// Connect opens what cfg needs: PostgreSQL for the postgres backend, RabbitMQ in queued mode or
// when withBroker is set, and Redis when an address is configured
func Connect(ctx context.Context, cfg *config.Config, withBroker bool, log *slog.Logger) (*Resources, error) {
	res := &Resources{}

	var db objectstore.DB
	if cfg.Storage.Backend == config.StorageBackendPostgres {
		client, err := ConnectPostgres(cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		res.DB = client
		db = client
		log.Info("Database connection established")
	}

	objects, err := NewObjectStore(ctx, cfg.Storage.Backend, db)
	if err != nil {
		res.Close()
		return nil, err
	}
	res.Objects = objects

	if withBroker || cfg.Pipeline.ExecutionMode == config.ExecutionModeQueued {
		client, err := ConnectRabbitMQ(cfg.RabbitMQ, log)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		res.Rabbit = client
		log.Info("RabbitMQ connection established")
	}

	client, err := ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	res.Redis = client

	return res, nil
}

// AppDeps returns the pipeline dependencies backed by these connections
func (r *Resources) AppDeps(log *slog.Logger) AppDeps {
	deps := AppDeps{Objects: r.Objects, Logger: log}
	if r.Rabbit != nil {
		deps.Broker = r.Rabbit
	}
	if r.Redis != nil {
		deps.Redis = r.Redis
	}
	return deps
}

// Close releases every open connection
func (r *Resources) Close() {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Rabbit != nil {
		_ = r.Rabbit.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
}
