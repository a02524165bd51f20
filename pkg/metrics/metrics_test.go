package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

func resetMetrics(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = Shutdown(ctx)

	mu.Lock()
	registry = nil
	mu.Unlock()
}

func initDisabled(t *testing.T) {
	t.Helper()
	resetMetrics(t)
	t.Cleanup(func() { resetMetrics(t) })
	if err := Init(config.MetricsConfig{Namespace: "test"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestInitServesRegistry(t *testing.T) {
	resetMetrics(t)
	t.Cleanup(func() { resetMetrics(t) })

	cfg := config.MetricsConfig{Enabled: true, Port: freePort(t), Path: "/metrics", Namespace: "test"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(cfg); err != nil {
		t.Errorf("second Init: %v", err)
	}

	resp, err := http.Get("http://" + Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics endpoint = %d, runtime collectors missing", resp.StatusCode)
	}

	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if Registry() == nil {
		t.Error("registry should outlive the listener")
	}
}

func TestInitPortInUse(t *testing.T) {
	resetMetrics(t)
	t.Cleanup(func() { resetMetrics(t) })

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	err = Init(config.MetricsConfig{Enabled: true, Port: ln.Addr().(*net.TCPAddr).Port})
	if !errors.IsTemporary(err) {
		t.Errorf("Init on a bound port = %v, want temporary", err)
	}
	if Registry() != nil {
		t.Error("failed Init must not leave a registry behind")
	}
}

func TestHandler(t *testing.T) {
	resetMetrics(t)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Handler before Init = %d, want 503", rec.Code)
	}

	initDisabled(t)
	c, err := NewCounter(Opts{Namespace: "test", Name: "handler_total", Help: "h"})
	if err != nil {
		t.Fatalf("NewCounter: %v", err)
	}
	c.Inc()

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_handler_total 1") {
		t.Errorf("Handler output missing counter:\n%s", rec.Body.String())
	}
}

func TestCollectors(t *testing.T) {
	initDisabled(t)

	tests := []struct {
		name    string
		opts    Opts
		wantErr bool
	}{
		{"with labels", Opts{Namespace: "test", Subsystem: "cache", Name: "lookups_total", Labels: []string{"tier"}}, false},
		{"without subsystem", Opts{Namespace: "test", Name: "events_total"}, false},
		{"invalid name", Opts{Namespace: "test", Name: "123-invalid"}, true},
		{"invalid label", Opts{Namespace: "test", Name: "valid", Labels: []string{"ok", "1bad"}}, true},
		{"reserved label", Opts{Namespace: "test", Name: "valid", Labels: []string{"__reserved"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCounter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCounter error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			labels := make([]string, len(tt.opts.Labels))
			for i := range labels {
				labels[i] = "v"
			}
			c.Inc(labels...)
			c.Add(5, labels...)
			if got := testutil.ToFloat64(c.With(labels...)); got != 6 {
				t.Errorf("counter = %v, want 6", got)
			}
		})
	}
}

func TestReRegistrationSharesSeries(t *testing.T) {
	initDisabled(t)

	opts := Opts{Namespace: "test", Name: "shared_total", Labels: []string{"kind"}}
	first, err := NewCounter(opts)
	if err != nil {
		t.Fatalf("first NewCounter: %v", err)
	}
	second, err := NewCounter(opts)
	if err != nil {
		t.Fatalf("second NewCounter: %v", err)
	}
	first.Inc("a")
	second.Inc("a")
	if got := testutil.ToFloat64(first.With("a")); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}

	if _, err := NewGauge(Opts{Namespace: "test", Name: "shared_total", Labels: []string{"kind"}}); err == nil {
		t.Error("a gauge cannot reuse a counter's name")
	}
}

func TestGaugeAndHistogram(t *testing.T) {
	initDisabled(t)

	g, err := NewGauge(Opts{Namespace: "test", Subsystem: "cache", Name: "l1_entries", Labels: []string{"instance"}})
	if err != nil {
		t.Fatalf("NewGauge: %v", err)
	}
	g.Set(12, "a")
	if got := testutil.ToFloat64(g.With("a")); got != 12 {
		t.Errorf("gauge = %v, want 12", got)
	}

	h, err := NewHistogram(Opts{Namespace: "test", Name: "duration_seconds"})
	if err != nil {
		t.Fatalf("NewHistogram: %v", err)
	}
	h.Observe(0.2)
	if n := testutil.CollectAndCount(h.vec); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestCollectorsBeforeInit(t *testing.T) {
	resetMetrics(t)

	if _, err := NewCounter(Opts{Namespace: "test", Name: "c"}); err == nil {
		t.Error("NewCounter before Init should fail")
	}
	if _, err := NewCacheMetrics("test"); err == nil {
		t.Error("NewCacheMetrics before Init should fail")
	}

	handler := HTTPMiddleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("pass-through status = %d", rec.Code)
	}
}

func requestCount(t *testing.T, method, route, code string) float64 {
	t.Helper()
	c, err := NewCounter(Opts{Namespace: "test", Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests served", Labels: []string{"method", "route", "status_code"}})
	if err != nil {
		t.Fatalf("requests counter: %v", err)
	}
	return testutil.ToFloat64(c.With(method, route, code))
}

func TestHTTPMiddleware(t *testing.T) {
	initDisabled(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /drugs/{slug}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	handler := HTTPMiddleware("test")(mux)

	for _, path := range []string{"/drugs/ozempic", "/drugs/mounjaro", "/nowhere"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := requestCount(t, http.MethodGet, "GET /drugs/{slug}", "200"); got != 2 {
		t.Errorf("requests{route=GET /drugs/{slug}} = %v, want 2", got)
	}
	if got := requestCount(t, http.MethodGet, "unmatched", "404"); got != 1 {
		t.Errorf("requests{route=unmatched} = %v, want 1", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	initDisabled(t)

	cm, err := NewCacheMetrics("test")
	if err != nil {
		t.Fatalf("NewCacheMetrics: %v", err)
	}

	cm.Hit("l1")
	cm.Hit("l1")
	cm.Hit("l2")
	cm.Miss("detail")
	cm.TierError("l2")
	cm.ObserveOperation("set", 3*time.Millisecond)
	cm.Invalidation("tag")
	cm.BreakerState("docstore", 2)
	cm.WarmupTask(true)
	cm.WarmupTask(false)

	again, err := NewCacheMetrics("test")
	if err != nil {
		t.Fatalf("second NewCacheMetrics: %v", err)
	}
	again.Hit("l2")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"l1 hits", testutil.ToFloat64(cm.hits.With("l1")), 2},
		{"l2 hits shared across instances", testutil.ToFloat64(cm.hits.With("l2")), 2},
		{"misses", testutil.ToFloat64(cm.misses.With("detail")), 1},
		{"tier errors", testutil.ToFloat64(cm.tierErrors.With("l2")), 1},
		{"tag invalidations", testutil.ToFloat64(cm.invalidations.With("tag")), 1},
		{"breaker state", testutil.ToFloat64(cm.breakerState.With("docstore")), 2},
		{"warmup failures", testutil.ToFloat64(cm.warmupTasks.With("failure")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestCacheMetricsNilSafe(t *testing.T) {
	var cm *CacheMetrics
	cm.Hit("l1")
	cm.Miss("search")
	cm.TierError("l2")
	cm.ObserveOperation("get", time.Millisecond)
	cm.Invalidation("reset")
	cm.BreakerState("docstore", 0)
	cm.WarmupTask(true)
}
