package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// HTTPMiddleware logs one entry per request: debug for success, warn for 4xx and
// error for 5xx. It reuses the caller's X-Request-ID or generates one, and stores a
// logger carrying it in the request context for FromContext.
func HTTPMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := &Logger{zlog: logger.zlog.With().Str(RequestID, requestID).Logger()}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithLogger(r.Context(), reqLogger)))

			event := reqLogger.Debug()
			switch {
			case rec.status >= http.StatusInternalServerError:
				event = reqLogger.Error()
			case rec.status >= http.StatusBadRequest:
				event = reqLogger.Warn()
			}
			event.
				Str(Method, r.Method).
				Str(Path, r.URL.Path).
				Int(StatusCode, rec.status).
				Int64(Duration, time.Since(start).Milliseconds()).
				Msg("request completed")
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

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// UnaryServerInterceptor logs each unary RPC, at error level with the gRPC code when
// the handler fails.
func UnaryServerInterceptor(logger *Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		reqLogger := &Logger{zlog: logger.zlog.With().Str(RequestID, uuid.NewString()).Logger()}

		resp, err := handler(WithLogger(ctx, reqLogger), req)

		event := reqLogger.Debug()
		if err != nil {
			event = reqLogger.Error().Err(err).Str("grpc_code", status.Code(err).String())
		}
		event.
			Str(Method, info.FullMethod).
			Int64(Duration, time.Since(start).Milliseconds()).
			Msg("grpc call completed")
		return resp, err
	}
}
