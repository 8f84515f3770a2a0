package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "patient_import", cfg.Database.Database)
			assert.Equal(t, "patient_import.create", cfg.RabbitMQ.CreateQueue.Name)
			assert.Equal(t, "patient.query", cfg.RabbitMQ.QueryQueue.RoutingKey)
			assert.Equal(t, ExecutionModeQueued, cfg.Pipeline.ExecutionMode)
			assert.Equal(t, 10, cfg.Pipeline.ChunkSize)
			assert.Equal(t, 71*time.Second, cfg.Poller.MaxPollDuration)
			assert.Equal(t, 100*time.Millisecond, cfg.CoreAPI.Retry.InitialDelay)
			assert.Equal(t, "patient-import-api", cfg.App.Name)
			assert.Equal(t, 3, cfg.Worker.MaxRetries)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Pipeline.DedupWindow)
	assert.Equal(t, time.Minute, cfg.Cache.JobParamsTTL)
	assert.Equal(t, time.Duration(0), cfg.Pipeline.ChunkDelay, "queued mode keeps no chunk delay")
	assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes)

	empty := &Config{}
	empty.applyDefaults()
	assert.Equal(t, 5, empty.Worker.MaxRetries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PATIENT_IMPORT_DB_PASSWORD", "from-env")
	t.Setenv("PATIENT_IMPORT_EXECUTION_MODE", "direct")
	t.Setenv("PATIENT_IMPORT_CORE_API_BASE_URL", "http://override:9000")
	t.Setenv("PATIENT_IMPORT_POLLER_MAX_ATTEMPTS", "5")
	t.Setenv("PATIENT_IMPORT_REDIS_ADDR", "redis:6379")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, ExecutionModeDirect, cfg.Pipeline.ExecutionMode)
	assert.Equal(t, 20*time.Millisecond, cfg.Pipeline.ChunkDelay)
	assert.Equal(t, "http://override:9000", cfg.CoreAPI.BaseURL)
	assert.Equal(t, 5, cfg.Poller.MaxAttempts)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "localhost", cfg.Database.Host, "unset variables keep file values")
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "patient_import",
		},
		RabbitMQ: RabbitMQConfig{
			Host:        "localhost",
			Port:        5672,
			Exchange:    ExchangeConfig{Name: "patient_import"},
			CreateQueue: QueueConfig{Name: "patient_import.create"},
			QueryQueue:  QueueConfig{Name: "patient_import.query"},
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			JobTimeout:      time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{ExecutionMode: ExecutionModeQueued, ChunkSize: 5},
		CoreAPI:  CoreAPIConfig{BaseURL: "http://core-api"},
		Storage:  StorageConfig{Backend: StorageBackendPostgres},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name: "memory backend needs no database",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageBackendMemory
				c.Database = DatabaseConfig{}
			},
		},
		{
			name:      "unknown storage backend",
			mutate:    func(c *Config) { c.Storage.Backend = "s3" },
			errString: "unknown storage backend",
		},
		{
			name:      "missing core api url",
			mutate:    func(c *Config) { c.CoreAPI.BaseURL = "" },
			errString: "core_api base_url is required",
		},
		{
			name:      "unknown execution mode",
			mutate:    func(c *Config) { c.Pipeline.ExecutionMode = "lambda" },
			errString: "unknown execution mode",
		},
		{
			name:      "queued mode needs queues",
			mutate:    func(c *Config) { c.RabbitMQ.QueryQueue.Name = "" },
			errString: "queue names are required",
		},
		{
			name: "direct mode needs no rabbitmq",
			mutate: func(c *Config) {
				c.Pipeline.ExecutionMode = ExecutionModeDirect
				c.RabbitMQ = RabbitMQConfig{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name: "worker always needs rabbitmq",
			mutate: func(c *Config) {
				c.Pipeline.ExecutionMode = ExecutionModeDirect
				c.RabbitMQ.Host = ""
			},
			errString: "rabbitmq host is required",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			assert.NoError(t, err)
		})
	}
}
