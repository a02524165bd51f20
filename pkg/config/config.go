// Package config loads the drugfacts settings from a file and the environment,
// fills defaults and validates the result.
//
//	cfg := config.MustLoad("config.yaml", "DRUGFACTS")
//
// Every key can be overridden as DRUGFACTS_<SECTION>_<KEY>, for example
// DRUGFACTS_CACHE_HOST or DRUGFACTS_POLICIES_DETAIL_TTL.
package config

import (
	"time"
)

// Config is the settings tree of one drugfacts instance.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Policies PoliciesConfig `mapstructure:"policies"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Warmup   WarmupConfig   `mapstructure:"warmup"`
	EventBus EventBusConfig `mapstructure:"eventbus"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServiceConfig names the instance in logs, traces and metrics.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

// ServerConfig holds the listener settings. GRPCPort, when set, serves only the
// standard gRPC health service.
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// DatabaseConfig contains PostgreSQL document store configuration.
// When Host is empty the in-memory document store is used.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	Table           string        `mapstructure:"table"`
}

// CacheConfig contains the shared (Redis) tier configuration.
type CacheConfig struct {
	// Enabled turns the shared tier on. With it off the service runs on L1 only.
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`

	// Namespace prefixes every physical key so a reset never touches foreign keys.
	Namespace string `mapstructure:"namespace"`

	// CompressionThreshold is the serialized size in bytes above which values are gzipped.
	CompressionThreshold int `mapstructure:"compression_threshold"`

	// CompressionLevel is the gzip level (-1 selects the library default).
	CompressionLevel int `mapstructure:"compression_level"`

	// HealthInterval is how often the shared tier is pinged in the background.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// MemoryConfig contains the in-process (L1) tier configuration.
type MemoryConfig struct {
	MaxEntries  int           `mapstructure:"max_entries"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	BackfillTTL time.Duration `mapstructure:"backfill_ttl"`
}

// PolicyTTL holds the per-tier TTLs of one cache category.
type PolicyTTL struct {
	L2TTL time.Duration `mapstructure:"ttl"`
	L1TTL time.Duration `mapstructure:"l1_ttl"`
}

// PoliciesConfig contains TTL overrides for each cache category.
type PoliciesConfig struct {
	Detail PolicyTTL `mapstructure:"detail"`
	Search PolicyTTL `mapstructure:"search"`
	List   PolicyTTL `mapstructure:"list"`
	Index  PolicyTTL `mapstructure:"index"`
}

// BreakerConfig contains circuit breaker settings shared by all breaker keys.
type BreakerConfig struct {
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	ResetTimeout        time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMaxAttempts int           `mapstructure:"half_open_max_attempts"`
}

// WarmupConfig contains cache warmer settings.
type WarmupConfig struct {
	OnStart     bool          `mapstructure:"on_start"`
	Scheduled   bool          `mapstructure:"scheduled"`
	Schedule    string        `mapstructure:"schedule"` // standard 5-field cron, evaluated in UTC
	TopN        int           `mapstructure:"top_n"`
	Concurrency int           `mapstructure:"concurrency"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"` // 0 disables pacing
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EventBusConfig selects how cache invalidations reach the other instances.
// Backend "memory" keeps them in process; "jetstream" publishes to Servers.
type EventBusConfig struct {
	Backend    string   `mapstructure:"backend"`
	Servers    []string `mapstructure:"servers"`
	StreamName string   `mapstructure:"stream_name"`

	// ConsumerName prefixes the per-instance consumer names.
	ConsumerName  string        `mapstructure:"consumer_name"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
}

// LogConfig: Level is one of debug, info, warn, error; Format is json or console;
// Output is stdout, stderr or a file path.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig exposes Prometheus metrics on their own listener. Namespace prefixes
// every metric name.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig exports OpenTelemetry spans over OTLP.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is host:port of the collector, e.g. localhost:4317.
	Endpoint string `mapstructure:"endpoint"`

	// ExportMode is "grpc" (default) or "http".
	ExportMode string `mapstructure:"export_mode"`
	Insecure   bool   `mapstructure:"insecure"`

	// SampleRate is the fraction of root traces kept, 0 to 1.
	SampleRate   float64       `mapstructure:"sample_rate"`
	ServiceName  string        `mapstructure:"service_name"`
	Environment  string        `mapstructure:"environment"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}
