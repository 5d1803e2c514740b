package domain

import "time"

// Config holds the complete autotag configuration.
type Config struct {
	// Server settings (used only by the ops health/ready surface)
	Server ServerConfig `json:"server"`

	// Tier determines which backing implementations are wired:
	// Community (sqlite + channel bus + in-process LRU) or Pro
	// (postgres + NATS + Redis).
	Tier Tier `json:"tier"`

	// Tagging holds engine-level behavior switches.
	Tagging TaggingConfig `json:"tagging"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// TaggingConfig holds behavior switches for the tagging engine.
type TaggingConfig struct {
	// RespectManualOverride, when true, makes the engine skip upserting
	// a TransactionTag whose existing row has IsManualOverride=true.
	// Spec leaves this behavior as an open question ("preserve current
	// behavior but surface it as a configuration point"); the inherited
	// behavior is to overwrite regardless, so this defaults to false.
	RespectManualOverride bool `json:"respectManualOverride"`

	// DefaultBatchSize is used by the service layer's tag_many when the
	// caller does not specify one (spec §4.5).
	DefaultBatchSize int `json:"defaultBatchSize"`

	// DefaultWorkerCount is the number of goroutines tag_many/retag
	// shard disjoint id ranges across (spec §5).
	DefaultWorkerCount int `json:"defaultWorkerCount"`
}

// ServerConfig holds HTTP server settings for the ops surface.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Tagging: TaggingConfig{
			RespectManualOverride: false,
			DefaultBatchSize:      100,
			DefaultWorkerCount:    4,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./autotag.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "autotag",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "autotag",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
