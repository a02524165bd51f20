package service

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

const (
	defaultReadTimeout       = 10 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

// HTTPService serves the API handler and shuts down gracefully.
type HTTPService struct {
	name   string
	addr   string
	logger *logging.Logger

	// limits are copied onto the server built by Start.
	limits          httpLimits
	shutdownTimeout time.Duration

	mu     sync.Mutex
	server *http.Server
	bound  net.Addr
}

type httpLimits struct {
	handler        http.Handler
	read           time.Duration
	readHeader     time.Duration
	write          time.Duration
	maxHeaderBytes int
}

// HTTPServiceOption configures an HTTPService.
type HTTPServiceOption func(*HTTPService)

func WithReadTimeout(d time.Duration) HTTPServiceOption {
	return func(s *HTTPService) { s.limits.read = d }
}

func WithWriteTimeout(d time.Duration) HTTPServiceOption {
	return func(s *HTTPService) { s.limits.write = d }
}

// WithShutdownTimeout bounds Stop when its context has no deadline.
func WithShutdownTimeout(d time.Duration) HTTPServiceOption {
	return func(s *HTTPService) { s.shutdownTimeout = d }
}

func WithMaxHeaderBytes(n int) HTTPServiceOption {
	return func(s *HTTPService) { s.limits.maxHeaderBytes = n }
}

// WithLogger sets the logger used for serve errors and lifecycle events.
func WithLogger(l *logging.Logger) HTTPServiceOption {
	return func(s *HTTPService) { s.logger = l }
}

// NewHTTPService creates a service that will listen on addr once started.
func NewHTTPService(name, addr string, handler http.Handler, opts ...HTTPServiceOption) *HTTPService {
	s := &HTTPService{
		name: name,
		addr: addr,
		limits: httpLimits{
			handler:        handler,
			read:           defaultReadTimeout,
			readHeader:     defaultReadHeaderTimeout,
			write:          defaultWriteTimeout,
			maxHeaderBytes: http.DefaultMaxHeaderBytes,
		},
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.WithComponent("http")
	return s
}

// HTTPOptionsFromConfig turns the non-zero server settings into options.
func HTTPOptionsFromConfig(cfg config.ServerConfig) []HTTPServiceOption {
	var opts []HTTPServiceOption
	add := func(set bool, opt HTTPServiceOption) {
		if set {
			opts = append(opts, opt)
		}
	}
	add(cfg.ReadTimeout > 0, WithReadTimeout(cfg.ReadTimeout))
	add(cfg.WriteTimeout > 0, WithWriteTimeout(cfg.WriteTimeout))
	add(cfg.ShutdownTimeout > 0, WithShutdownTimeout(cfg.ShutdownTimeout))
	add(cfg.MaxHeaderBytes > 0, WithMaxHeaderBytes(cfg.MaxHeaderBytes))
	return opts
}

// Start binds the listener, so address errors are returned here, and serves in the
// background. Requests inherit ctx as their base context.
func (s *HTTPService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.NewPermanent("service "+s.name+" already started", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.NewTemporary("listening on "+s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.limits.handler,
		ReadTimeout:       s.limits.read,
		ReadHeaderTimeout: s.limits.readHeader,
		WriteTimeout:      s.limits.write,
		MaxHeaderBytes:    s.limits.maxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("service", s.name).Msg("http server stopped")
		}
	}()

	s.server = srv
	s.bound = ln.Addr()
	s.logger.Info().Str("service", s.name).Str("addr", s.bound.String()).Msg("http service listening")
	return nil
}

// Stop shuts the server down, waiting for in-flight requests. Stopping a service
// that is not running is a no-op.
func (s *HTTPService) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.NewTemporary("shutting down "+s.name, err)
	}

	s.mu.Lock()
	if s.server == srv {
		s.server = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *HTTPService) Name() string { return s.name }

// Addr is the bound address, useful with port 0. Empty before the first Start.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return ""
	}
	return s.bound.String()
}

// Health fails unless the server is running.
func (s *HTTPService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.NewTemporary("service "+s.name+" not running", nil)
	}
	return nil
}
