// Package serve exposes a node registry over gRPC.
//
// The NodeRegistry service (noderegistry.v1.NodeRegistry) is described by a
// hand-written grpc.ServiceDesc whose messages are google.protobuf.Struct
// values, so no generated code is needed on either side. Registry errors
// travel as status codes with an errdetails.ErrorInfo detail; Client turns
// them back into *registry.Error values matching the registry sentinels.
//
// Example:
//
//	srv, err := serve.NewServer(reg,
//	    serve.WithPort(50051),
//	    serve.WithHealthChecks(health.StoreCheck(st)),
//	)
//	if err != nil {
//	    return err
//	}
//	return srv.Serve(ctx)
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zero-day-ai/noderegistry/health"
	"github.com/zero-day-ai/noderegistry/registry"
)

// Config holds serve configuration.
type Config struct {
	// Port is the TCP port on which the gRPC server listens.
	// Default: 50051
	Port int

	// Listener, when set, is used instead of listening on Port.
	Listener net.Listener

	// GracefulTimeout is the maximum duration to wait for active requests
	// to complete during graceful shutdown.
	// Default: 30 seconds
	GracefulTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// HealthInterval is the period of the health monitor.
	// Default: 10 seconds
	HealthInterval time.Duration

	// HealthChecks feed the gRPC health service. Without checks the
	// service is always reported as serving.
	HealthChecks []health.Check

	// Logger receives lifecycle and health transition logs.
	Logger *slog.Logger
}

// DefaultConfig returns default serve configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:            50051,
		GracefulTimeout: 30 * time.Second,
		HealthInterval:  10 * time.Second,
	}
}

// Server wraps a gRPC server with lifecycle management.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	config       *Config
	healthServer *grpchealth.Server
	logger       *slog.Logger
}

// NewServer creates a gRPC server exposing reg and the standard health
// service.
func NewServer(reg *registry.Registry, opts ...Option) (*Server, error) {
	if reg == nil {
		return nil, errors.New("registry cannot be nil")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var serverOpts []grpc.ServerOption
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	listener := cfg.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err)
		}
	}

	grpcServer := grpc.NewServer(serverOpts...)
	RegisterNodeRegistryServer(grpcServer, NewNodeService(reg))

	healthServer := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		grpcServer:   grpcServer,
		listener:     listener,
		config:       cfg,
		healthServer: healthServer,
		logger:       cfg.Logger,
	}, nil
}

// GRPCServer returns the underlying gRPC server.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// HealthServer returns the health check server.
func (s *Server) HealthServer() *grpchealth.Server {
	return s.healthServer
}

// Serve starts the gRPC server and blocks until shutdown.
// It handles graceful shutdown on SIGINT/SIGTERM signals.
// The context can be used to initiate shutdown programmatically.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go s.monitorHealth(monitorCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.logger.Info("node registry listening", "addr", s.listener.Addr().String())

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return ctx.Err()
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down gracefully", "signal", sig.String())
		s.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop immediately stops the gRPC server.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// GracefulStop stops accepting new connections and waits for active RPCs
// to complete within the configured timeout period.
func (s *Server) GracefulStop() {
	s.healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.GracefulTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timeout, forcing stop", "timeout", s.config.GracefulTimeout)
		s.grpcServer.Stop()
	}
}

// Port returns the port the server is listening on.
// This is useful when using port 0 to get an available port.
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// CheckHealth runs the configured checks once and updates the serving
// status of the health service.
func (s *Server) CheckHealth(ctx context.Context) health.Status {
	result := health.Run(ctx, s.config.HealthChecks...)

	serving := grpc_health_v1.HealthCheckResponse_SERVING
	if result.IsUnhealthy() {
		serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.healthServer.SetServingStatus("", serving)
	s.healthServer.SetServingStatus(ServiceName, serving)
	return result
}

func (s *Server) monitorHealth(ctx context.Context) {
	if len(s.config.HealthChecks) == 0 {
		return
	}

	interval := s.config.HealthInterval
	if interval <= 0 {
		interval = DefaultConfig().HealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		result := s.CheckHealth(ctx)
		if result.Status != last {
			level := slog.LevelInfo
			if !result.IsHealthy() {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "health status changed",
				"status", result.Status, "message", result.Message, "details", result.Details)
			last = result.Status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
