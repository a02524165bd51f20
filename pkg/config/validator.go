package config

import (
	stderrors "errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

// Validate reports every invalid setting at once, each as an InvalidInput error
// naming its dotted key. Sections that are switched off are not checked.
func Validate(cfg *Config) error {
	var v validation

	v.check(cfg.Server.HTTPPort != 0 || cfg.Server.GRPCPort != 0, "server.http_port", "http_port or grpc_port is required")

	if db := cfg.Database; db.Host != "" {
		v.check(db.Port != 0, "database.port", "required when database.host is set")
		v.check(db.User != "", "database.user", "required when database.host is set")
		v.check(db.Database != "", "database.database", "required when database.host is set")
	}

	v.check(!cfg.Cache.Enabled || cfg.Cache.Host != "", "cache.host", "required when the cache is enabled")
	v.check(cfg.Cache.Host == "" || cfg.Cache.Port != 0, "cache.port", "required when cache.host is set")
	v.check(cfg.Cache.CompressionThreshold >= 0, "cache.compression_threshold", "must not be negative")
	v.check(cfg.Cache.CompressionLevel >= -2 && cfg.Cache.CompressionLevel <= 9, "cache.compression_level", "must be between -2 and 9")
	v.check(cfg.Memory.MaxEntries >= 0, "memory.max_entries", "must not be negative")

	for name, p := range map[string]PolicyTTL{
		"detail": cfg.Policies.Detail,
		"search": cfg.Policies.Search,
		"list":   cfg.Policies.List,
		"index":  cfg.Policies.Index,
	} {
		v.check(p.L2TTL >= 0 && p.L1TTL >= 0, "policies."+name, "ttl values must not be negative")
	}

	v.check(cfg.Breaker.FailureThreshold >= 0, "breaker.failure_threshold", "must not be negative")

	if cfg.Warmup.Scheduled {
		if _, err := cron.ParseStandard(cfg.Warmup.Schedule); err != nil {
			v.add(errors.NewInvalidInputWithCause("warmup.schedule", "not a cron expression", err))
		}
	}
	v.check(cfg.Warmup.RatePerSec >= 0, "warmup.rate_per_sec", "must not be negative")

	if cfg.EventBus.Backend == "jetstream" {
		v.check(len(cfg.EventBus.Servers) > 0, "eventbus.servers", "required for the jetstream backend")
		v.check(cfg.EventBus.StreamName != "", "eventbus.stream_name", "required for the jetstream backend")
	}

	if cfg.Tracing.Enabled {
		v.check(cfg.Tracing.Endpoint != "", "tracing.endpoint", "required when tracing is enabled")
		v.check(cfg.Tracing.SampleRate >= 0 && cfg.Tracing.SampleRate <= 1, "tracing.sample_rate", "must be between 0 and 1")
	}

	v.check(cfg.Metrics.Port >= 0 && cfg.Metrics.Port <= 65535, "metrics.port", "must be a TCP port")

	return v.err()
}

type validation struct {
	errs []error
}

func (v *validation) check(ok bool, field, msg string) {
	if !ok {
		v.add(errors.NewInvalidInput(field, msg))
	}
}

func (v *validation) add(err error) { v.errs = append(v.errs, err) }

func (v *validation) err() error { return stderrors.Join(v.errs...) }

// orDefault sets *p to def when *p is the zero value.
func orDefault[T comparable](p *T, def T) {
	var zero T
	if *p == zero {
		*p = def
	}
}

// applyDefaults fills unset values. Ports for optional dependencies are only
// defaulted when the dependency is configured.
func applyDefaults(cfg *Config) {
	orDefault(&cfg.Service.Name, "drugfacts")
	orDefault(&cfg.Service.Env, "development")

	srv := &cfg.Server
	if srv.HTTPPort == 0 && srv.GRPCPort == 0 {
		srv.HTTPPort = 8080
	}
	orDefault(&srv.ReadTimeout, 30*time.Second)
	orDefault(&srv.WriteTimeout, 30*time.Second)
	orDefault(&srv.ShutdownTimeout, 30*time.Second)
	orDefault(&srv.MaxHeaderBytes, 1<<20)

	db := &cfg.Database
	if db.Host != "" {
		orDefault(&db.Port, 5432)
	}
	orDefault(&db.MaxConns, 25)
	orDefault(&db.MinConns, 2)
	orDefault(&db.MaxConnLifetime, time.Hour)
	orDefault(&db.MaxConnIdleTime, 10*time.Minute)
	orDefault(&db.ConnectTimeout, 30*time.Second)
	orDefault(&db.QueryTimeout, 30*time.Second)
	orDefault(&db.SSLMode, "prefer")
	orDefault(&db.Table, "drugs")

	c := &cfg.Cache
	if c.Host != "" {
		orDefault(&c.Port, 6379)
	}
	orDefault(&c.MaxRetries, 3)
	orDefault(&c.DialTimeout, 5*time.Second)
	orDefault(&c.ReadTimeout, 3*time.Second)
	orDefault(&c.WriteTimeout, 3*time.Second)
	orDefault(&c.PoolSize, 10)
	orDefault(&c.MinIdleConns, 2)
	orDefault(&c.DefaultTTL, 5*time.Minute)
	orDefault(&c.Namespace, "drugfacts")
	orDefault(&c.CompressionThreshold, 1024)
	orDefault(&c.CompressionLevel, -1) // gzip.DefaultCompression
	orDefault(&c.HealthInterval, 30*time.Second)

	orDefault(&cfg.Memory.MaxEntries, 1000)
	orDefault(&cfg.Memory.DefaultTTL, 5*time.Minute)
	orDefault(&cfg.Memory.BackfillTTL, time.Minute)

	policyDefaults(&cfg.Policies.Detail, time.Hour, 5*time.Minute)
	policyDefaults(&cfg.Policies.Search, 15*time.Minute, time.Minute)
	policyDefaults(&cfg.Policies.List, 2*time.Hour, 5*time.Minute)
	policyDefaults(&cfg.Policies.Index, 30*time.Minute, 5*time.Minute)

	orDefault(&cfg.Breaker.FailureThreshold, 5)
	orDefault(&cfg.Breaker.ResetTimeout, time.Minute)
	orDefault(&cfg.Breaker.HalfOpenMaxAttempts, 1)

	orDefault(&cfg.Warmup.Schedule, "0 3 * * *")
	orDefault(&cfg.Warmup.TopN, 20)
	orDefault(&cfg.Warmup.Concurrency, 4)
	orDefault(&cfg.Warmup.Timeout, 5*time.Minute)

	eb := &cfg.EventBus
	if len(eb.Servers) > 0 {
		orDefault(&eb.Backend, "jetstream")
		orDefault(&eb.StreamName, "drugfacts_events")
	}
	orDefault(&eb.Backend, "memory")
	orDefault(&eb.MaxDeliver, 3)
	orDefault(&eb.AckWait, 30*time.Second)
	orDefault(&eb.MaxAckPending, 1000)

	orDefault(&cfg.Log.Level, "info")
	orDefault(&cfg.Log.Format, "json")
	orDefault(&cfg.Log.Output, "stdout")

	if cfg.Metrics.Enabled {
		orDefault(&cfg.Metrics.Port, 9090)
	}
	orDefault(&cfg.Metrics.Path, "/metrics")
	orDefault(&cfg.Metrics.Namespace, cfg.Service.Name)

	tr := &cfg.Tracing
	if tr.Enabled {
		orDefault(&tr.SampleRate, 0.1)
	}
	orDefault(&tr.ServiceName, cfg.Service.Name)
	orDefault(&tr.Environment, cfg.Service.Env)
	orDefault(&tr.ExportMode, "grpc")
	orDefault(&tr.BatchTimeout, 5*time.Second)
}

func policyDefaults(p *PolicyTTL, l2, l1 time.Duration) {
	orDefault(&p.L2TTL, l2)
	orDefault(&p.L1TTL, l1)
}
