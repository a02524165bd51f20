// Package service runs the drugfacts listeners: the HTTP API and an optional gRPC
// listener serving the standard health protocol. It also bootstraps the ambient stack
// (logger, metrics, tracing) and owns graceful shutdown.
//
//	b, err := service.NewBootstrap(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Cleanup(ctx)
//
//	api := service.NewHTTPService("api", ":8080", mux, service.WithLogger(b.Logger))
//	if err := api.Start(ctx); err != nil {
//		b.Logger.Fatal().Err(err).Msg("starting api")
//	}
//	service.WaitForShutdown(ctx, b.Logger, api)
package service

import "context"

// Service is a listener with a start/stop lifecycle.
type Service interface {
	// Start binds the listener and returns once it accepts connections.
	Start(ctx context.Context) error

	// Stop drains in-flight requests until ctx expires.
	Stop(ctx context.Context) error

	Name() string

	// Health returns nil while the service is running.
	Health() error
}
