package service

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

// ReadinessChecker reports whether the service can take traffic. *health.Health
// satisfies it.
type ReadinessChecker interface {
	IsReady(ctx context.Context) bool
}

const defaultPollInterval = 10 * time.Second

// GRPCHealthService serves grpc.health.v1.Health. The overall status and the status
// under the service name mirror a ReadinessChecker, polled in the background.
type GRPCHealthService struct {
	name             string
	addr             string
	readiness        ReadinessChecker
	pollInterval    time.Duration
	shutdownTimeout  time.Duration
	enableReflection bool
	logger           *logging.Logger

	mu       sync.Mutex
	server   *grpc.Server
	health   *grpchealth.Server
	listener net.Listener
	started  bool
	stop     context.CancelFunc
	done     chan struct{}
}

// GRPCServiceOption configures a GRPCHealthService.
type GRPCServiceOption func(*GRPCHealthService)

func WithGRPCShutdownTimeout(timeout time.Duration) GRPCServiceOption {
	return func(s *GRPCHealthService) { s.shutdownTimeout = timeout }
}

// WithReflection registers server reflection for grpcurl and similar tools.
func WithReflection(enable bool) GRPCServiceOption {
	return func(s *GRPCHealthService) { s.enableReflection = enable }
}

// WithPollInterval sets how often readiness is polled.
func WithPollInterval(d time.Duration) GRPCServiceOption {
	return func(s *GRPCHealthService) { s.pollInterval = d }
}

func WithGRPCLogger(l *logging.Logger) GRPCServiceOption {
	return func(s *GRPCHealthService) { s.logger = l }
}

// NewGRPCHealthService creates the health listener. A nil readiness always reports serving.
func NewGRPCHealthService(name, addr string, readiness ReadinessChecker, opts ...GRPCServiceOption) *GRPCHealthService {
	s := &GRPCHealthService{
		name:            name,
		addr:            addr,
		readiness:       readiness,
		pollInterval:   defaultPollInterval,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.WithComponent("grpc")
	return s
}

// Start binds the listener, publishes an initial status and starts polling readiness.
func (s *GRPCHealthService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.NewPermanent("service "+s.name+" already started", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.NewTemporary("failed to listen on "+s.addr, err)
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(logging.UnaryServerInterceptor(s.logger)))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	if s.enableReflection {
		reflection.Register(server)
	}

	s.server, s.health, s.listener = server, hs, ln
	s.poll(ctx)

	go func() {
		if err := server.Serve(ln); err != nil && err != grpc.ErrServerStopped {
			s.logger.Error().Err(err).Str("service", s.name).Msg("grpc server stopped")
		}
	}()

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = cancel
	s.done = make(chan struct{})
	go s.watch(watchCtx, s.done)

	s.started = true
	s.logger.Info().Str("service", s.name).Str("addr", ln.Addr().String()).Msg("grpc health service listening")
	return nil
}

func (s *GRPCHealthService) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *GRPCHealthService) poll(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil && !s.readiness.IsReady(ctx) {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.name, status)
}

// Stop marks every service NOT_SERVING and stops gracefully, forcing the stop when ctx
// expires first.
func (s *GRPCHealthService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server, hs := s.server, s.health
	started, stop, done := s.started, s.stop, s.done
	s.mu.Unlock()

	if !started || server == nil {
		return nil
	}

	stop()
	<-done
	hs.Shutdown()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	var err error
	select {
	case <-stopped:
	case <-ctx.Done():
		server.Stop()
		err = errors.NewTemporary("graceful stop of "+s.name+" timed out", ctx.Err())
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return err
}

func (s *GRPCHealthService) Name() string {
	return s.name
}

// Addr is the bound address. Empty before Start.
func (s *GRPCHealthService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCHealthService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.NewTemporary("service "+s.name+" not running", nil)
	}
	return nil
}
