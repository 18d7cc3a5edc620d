// Package config loads application configuration from YAML files with
// SP_* environment-variable overrides. Every service (search API, task
// worker, indexer, ingestion, backend node) reads the same document and
// uses the sub-structs it needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Search    SearchConfig    `yaml:"search"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	RPC       RPCConfig       `yaml:"rpc"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Auth      AuthConfig      `yaml:"auth"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SQLiteConfig points at the embedded database used when the task log is
// not kept in PostgreSQL.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ItemEvents      string `yaml:"itemEvents"`
	TaskEvents      string `yaml:"taskEvents"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters. KeyPrefix
// namespaces every key so several deployments can share one Redis.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	KeyPrefix string        `yaml:"keyPrefix"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults     int           `yaml:"maxResults"`
	DefaultLimit   int           `yaml:"defaultLimit"`
	BackendTimeout time.Duration `yaml:"backendTimeout"`
}

// TasksConfig controls where the task log lives and how it is drained.
type TasksConfig struct {
	Store         string        `yaml:"store"`
	DrainInterval time.Duration `yaml:"drainInterval"`
	LockDir       string        `yaml:"lockDir"`
	Concurrency   int           `yaml:"concurrency"`
}

// CatalogConfig locates the server/index catalog document. DataDir is the
// base of relative bleve and sqlite backend paths.
type CatalogConfig struct {
	Path    string `yaml:"path"`
	DataDir string `yaml:"dataDir"`
}

// RPCConfig configures the backend node listener and the client timeout
// used by remote backends.
type RPCConfig struct {
	Addr        string        `yaml:"addr"`
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// AuthConfig controls API key authentication of the search API. Keys are
// kept in PostgreSQL ("postgres") or listed here ("static").
type AuthConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Required         bool          `yaml:"required"`
	Store            string        `yaml:"store"`
	RateLimitWindow  time.Duration `yaml:"rateLimitWindow"`
	DefaultRateLimit int           `yaml:"defaultRateLimit"`
	Keys             []APIKey      `yaml:"keys"`
}

// APIKey is a statically configured key. Account is the content account
// searches made with the key run for.
type APIKey struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	Account   int64  `yaml:"account"`
	Admin     bool   `yaml:"admin"`
	RateLimit int    `yaml:"rateLimit"`
}

// AnalyticsConfig controls search event collection and snapshotting.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Tasks.Store {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("tasks.store must be postgres or sqlite, got %q", c.Tasks.Store)
	}
	if c.Tasks.Concurrency < 1 {
		return fmt.Errorf("tasks.concurrency must be positive, got %d", c.Tasks.Concurrency)
	}
	if c.Auth.Enabled {
		switch c.Auth.Store {
		case "postgres", "static":
		default:
			return fmt.Errorf("auth.store must be postgres or static, got %q", c.Auth.Store)
		}
	}
	if c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit (%d) exceeds search.maxResults (%d)", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchapi",
			User:            "searchapi",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path:        "data/searchapi.db",
			BusyTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchapi-group",
			Topics: KafkaTopics{
				ItemEvents:      "item-events",
				TaskEvents:      "task-events",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "searchapi:",
			CacheTTL:  60 * time.Second,
		},
		Search: SearchConfig{
			MaxResults:     100,
			DefaultLimit:   10,
			BackendTimeout: 5 * time.Second,
		},
		Tasks: TasksConfig{
			Store:         "postgres",
			DrainInterval: 30 * time.Second,
			LockDir:       "data/locks",
			Concurrency:   4,
		},
		Catalog: CatalogConfig{
			Path:    "configs/catalog.yaml",
			DataDir: "data",
		},
		RPC: RPCConfig{
			Addr:        ":9400",
			CallTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Auth: AuthConfig{
			Store:            "postgres",
			RateLimitWindow:  time.Minute,
			DefaultRateLimit: 100,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: 5 * time.Minute,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_TASKS_STORE"); v != "" {
		cfg.Tasks.Store = v
	}
	if v := os.Getenv("SP_TASKS_LOCK_DIR"); v != "" {
		cfg.Tasks.LockDir = v
	}
	if v := os.Getenv("SP_TASKS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tasks.Concurrency = n
		}
	}
	if v := os.Getenv("SP_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("SP_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
	}
	if v := os.Getenv("SP_AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = b
		}
	}
	if v := os.Getenv("SP_AUTH_STORE"); v != "" {
		cfg.Auth.Store = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
