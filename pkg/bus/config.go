package bus

import (
	"time"

	"github.com/R3E-Network/eventbus/pkg/rules"
)

// StorageKind selects which storage variant a Bus is backed by.
type StorageKind string

const (
	// StorageInMemory backs the bus with only the always-present fan-out
	// store; durable is left nil.
	StorageInMemory StorageKind = "in_memory"
	// StorageDurable backs the bus with a Postgres-backed Backend in
	// addition to the fan-out store.
	StorageDurable StorageKind = "durable"
)

// StorageConfig selects and parameterizes the durable storage backend, per
// §6.3's `storage` variant (InMemory{max_events} | Durable{url, pool_size}).
type StorageConfig struct {
	Kind StorageKind `yaml:"kind" env:"STORAGE_KIND"`

	// MaxEvents bounds the in-memory fan-out store (and the durable-less
	// in_memory variant); 0 means unbounded.
	MaxEvents int `yaml:"max_events" env:"STORAGE_MAX_EVENTS"`

	// DatabaseURL and PoolSize apply only when Kind == StorageDurable.
	DatabaseURL string `yaml:"database_url" env:"STORAGE_DATABASE_URL"`
	PoolSize    int    `yaml:"pool_size" env:"STORAGE_POOL_SIZE"`
}

// Config is one bus's full configuration, per §6.3.
type Config struct {
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`

	// AllowedSources is a list of TRN patterns; a literal "*" entry allows
	// every source, bypassing TRN pattern compilation entirely since "*"
	// alone is not a well-formed 9-component TRN pattern.
	AllowedSources []string `yaml:"allowed_sources" env:"ALLOWED_SOURCES"`

	MaxConcurrentEmits int `yaml:"max_concurrent_emits" env:"MAX_CONCURRENT_EMITS"`

	// MaxEventsPerSecond is optional; zero disables rate limiting.
	MaxEventsPerSecond int `yaml:"max_events_per_second" env:"MAX_EVENTS_PER_SECOND"`

	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`

	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD"`

	Storage StorageConfig `yaml:"storage"`

	EventBufferSize      int `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE"`
	SubscriberBufferSize int `yaml:"subscriber_buffer_size" env:"SUBSCRIBER_BUFFER_SIZE"`

	EnableRules   bool `yaml:"enable_rules" env:"ENABLE_RULES"`
	EnableMetrics bool `yaml:"enable_metrics" env:"ENABLE_METRICS"`

	EnableGracefulShutdown bool          `yaml:"enable_graceful_shutdown" env:"ENABLE_GRACEFUL_SHUTDOWN"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout_secs" env:"SHUTDOWN_TIMEOUT_SECS"`

	// MaxCascadeDepth and TransformBudget forward to rules.WithMaxCascadeDepth
	// / rules.WithTransformBudget when the rule engine is constructed; zero
	// keeps the engine's own defaults.
	MaxCascadeDepth int           `yaml:"max_cascade_depth" env:"MAX_CASCADE_DEPTH"`
	TransformBudget time.Duration `yaml:"transform_budget" env:"TRANSFORM_BUDGET"`
}

// DefaultConfig returns a Config usable as a starting point for tests and
// single-process deployments: in-memory storage, generous concurrency, no
// rate limit.
func DefaultConfig(instanceID string) Config {
	return Config{
		InstanceID:             instanceID,
		AllowedSources:         []string{"*"},
		MaxConcurrentEmits:     64,
		BatchSize:              100,
		ShutdownGracePeriod:    5 * time.Second,
		Storage:                StorageConfig{Kind: StorageInMemory, MaxEvents: 10000},
		EventBufferSize:        256,
		SubscriberBufferSize:   64,
		EnableRules:            true,
		EnableMetrics:          true,
		EnableGracefulShutdown: true,
		ShutdownTimeout:        10 * time.Second,
	}
}

// RuleStoreFactory lets callers choose the rules.Store backing a bus's rule
// engine (in-memory or durable) independently of the event storage backend.
type RuleStoreFactory func() (rules.Store, error)
