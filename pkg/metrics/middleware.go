package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// HTTPMiddleware records request duration and count by method, route and status. The
// route label is the ServeMux pattern that matched, so path parameters such as drug
// slugs do not create new series. Before Init the middleware passes requests through.
func HTTPMiddleware(namespace string) func(http.Handler) http.Handler {
	labels := []string{"method", "route", "status_code"}
	duration, err := NewHistogram(Opts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration in seconds", Labels: labels,
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	if err != nil {
		return func(next http.Handler) http.Handler { return next }
	}
	requests, err := NewCounter(Opts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests served", Labels: labels,
	})
	if err != nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			code := strconv.Itoa(rec.status)
			duration.Observe(time.Since(start).Seconds(), r.Method, route, code)
			requests.Inc(r.Method, route, code)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status, s.wroteHeader = code, true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
