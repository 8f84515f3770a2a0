package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override
	EnvPrefix = "PATIENT_IMPORT_"
)

// Execution modes of the stage pipeline
const (
	ExecutionModeDirect = "direct"
	ExecutionModeQueued = "queued"
)

// Storage backends of the job state store
const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	App      AppConfig      `yaml:"app" envPrefix:"APP_"`
	Worker   WorkerConfig   `yaml:"worker" envPrefix:"WORKER_"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Poller   PollerConfig   `yaml:"poller" envPrefix:"POLLER_"`
	CoreAPI  CoreAPIConfig  `yaml:"core_api" envPrefix:"CORE_API_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Cache    CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MaxUploadBytes caps the size of an uploaded CSV
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"NAME"`
	SSLMode         string        `yaml:"sslmode" env:"SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host        string           `yaml:"host" env:"HOST"`
	Port        int              `yaml:"port" env:"PORT"`
	User        string           `yaml:"user" env:"USER"`
	Password    string           `yaml:"password" env:"PASSWORD"`
	VHost       string           `yaml:"vhost" env:"VHOST"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	CreateQueue QueueConfig      `yaml:"create_queue" envPrefix:"CREATE_QUEUE_"`
	QueryQueue  QueueConfig      `yaml:"query_queue" envPrefix:"QUERY_QUEUE_"`
	Connection  ConnectionConfig `yaml:"connection"`
	Publish     PublishConfig    `yaml:"publish"`
	Consumer    ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds one stage queue and its binding
type QueueConfig struct {
	Name       string `yaml:"name" env:"NAME"`
	RoutingKey string `yaml:"routing_key" env:"ROUTING_KEY"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the Redis connection used for queue deduplication
type RedisConfig struct {
	// Addr empty disables Redis and keeps dedup claims in process
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// KeyPrefix namespaces dedup claims
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name" env:"NAME"`
	Version     string `yaml:"version" env:"VERSION"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id" env:"ID"`
	Concurrency     int           `yaml:"concurrency" env:"CONCURRENCY"`
	JobTimeout      time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	MaxRetries      int           `yaml:"max_retries" env:"MAX_RETRIES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PipelineConfig selects how rows move between stages
type PipelineConfig struct {
	ExecutionMode string        `yaml:"execution_mode" env:"EXECUTION_MODE"`
	ChunkSize     int           `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkDelay    time.Duration `yaml:"chunk_delay" env:"CHUNK_DELAY"`
	DedupWindow   time.Duration `yaml:"dedup_window" env:"DEDUP_WINDOW"`
}

// PollerConfig holds the document query polling budget
type PollerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" env:"INTERVAL"`
	MaxPollDuration time.Duration `yaml:"max_poll_duration" env:"MAX_DURATION"`
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MinResults      int           `yaml:"min_results" env:"MIN_RESULTS"`
	MaxJitter       time.Duration `yaml:"max_jitter" env:"MAX_JITTER"`
	BaseDelay       time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
}

// CoreAPIConfig holds the core patient API client configuration
type CoreAPIConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retry   RetryConfig   `yaml:"retry" envPrefix:"RETRY_"`
}

// RetryConfig holds exponential backoff settings
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// StorageConfig selects the job state backend
type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	JobParamsTTL time.Duration `yaml:"job_params_ttl" env:"JOB_PARAMS_TTL"`
}

// Load reads and parses the configuration file, then applies PATIENT_IMPORT_* environment
// overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills values the file may leave out
func (c *Config) applyDefaults() {
	if c.Pipeline.ExecutionMode == "" {
		c.Pipeline.ExecutionMode = ExecutionModeDirect
	}
	if c.Pipeline.ChunkSize <= 0 {
		c.Pipeline.ChunkSize = 5
	}
	if c.Pipeline.ChunkDelay == 0 && c.Pipeline.ExecutionMode == ExecutionModeDirect {
		c.Pipeline.ChunkDelay = 20 * time.Millisecond
	}
	if c.Pipeline.DedupWindow <= 0 {
		c.Pipeline.DedupWindow = 5 * time.Minute
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendPostgres
	}
	if c.Cache.JobParamsTTL <= 0 {
		c.Cache.JobParamsTTL = time.Minute
	}
	if c.CoreAPI.Timeout <= 0 {
		c.CoreAPI.Timeout = 30 * time.Second
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 50 << 20
	}
	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = 5
	}
}

// ValidateAPIConfig checks the values the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if err := c.validateCommon(); err != nil {
		return err
	}
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline chunk_size must be greater than 0")
	}
	return nil
}

// ValidateWorkerConfig checks the values the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateCommon() error {
	switch c.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.CoreAPI.BaseURL == "" {
		return fmt.Errorf("core_api base_url is required")
	}

	switch c.Pipeline.ExecutionMode {
	case ExecutionModeDirect:
	case ExecutionModeQueued:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown execution mode: %q", c.Pipeline.ExecutionMode)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.CreateQueue.Name == "" || c.RabbitMQ.QueryQueue.Name == "" {
		return fmt.Errorf("rabbitmq create and query queue names are required")
	}

	return nil
}
