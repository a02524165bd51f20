// Package metrics exports Prometheus collectors for the drug facts service: HTTP request
// metrics and the cache, breaker and warmup collectors in CacheMetrics.
//
// All collectors live in one process-wide registry created by Init. When metrics are
// enabled and a port is configured, Init also serves the registry on that port:
//
//	if err := metrics.Init(cfg.Metrics); err != nil {
//	    return err
//	}
//	defer metrics.Shutdown(ctx)
//
//	cm, err := metrics.NewCacheMetrics(cfg.Metrics.Namespace)
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	server   *http.Server
	addr     string
)

// Init creates the registry. With cfg.Enabled it also registers the Go runtime and
// process collectors and, when cfg.Port is set, serves cfg.Path on that port. A port
// that cannot be bound is returned as a temporary error. Calls after the first
// successful one are no-ops.
func Init(cfg config.MetricsConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return nil
	}

	reg := prometheus.NewRegistry()
	if !cfg.Enabled {
		registry = reg
		return nil
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Port > 0 {
		path := cfg.Path
		if path == "" {
			path = "/metrics"
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return errors.NewTemporary(fmt.Sprintf("metrics listener on port %d", cfg.Port), err)
		}

		mux := http.NewServeMux()
		mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		srv := &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
		go func() { _ = srv.Serve(ln) }()

		server, addr = srv, ln.Addr().String()
	}

	registry = reg
	return nil
}

// Shutdown stops the metrics listener, if any. The registry stays usable.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	srv := server
	server, addr = nil, ""
	mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Registry returns the process registry, or nil before Init.
func Registry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the registry, for mounting on an existing mux. Before Init it
// answers 503.
func Handler() http.Handler {
	reg := Registry()
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Addr is the address of the metrics listener, empty when none is running.
func Addr() string {
	mu.RLock()
	defer mu.RUnlock()
	return addr
}
