package serve

import (
	"log/slog"
	"net"
	"time"

	"github.com/zero-day-ai/noderegistry/health"
)

// Option is a functional option for configuring a Server.
type Option func(*Config)

// WithPort sets the TCP port for the gRPC server.
// Use port 0 to automatically select an available port.
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithListener serves on an existing listener instead of opening a port.
//
// Example:
//
//	lis := bufconn.Listen(1 << 20)
//	srv, _ := serve.NewServer(reg, serve.WithListener(lis))
func WithListener(lis net.Listener) Option {
	return func(c *Config) {
		c.Listener = lis
	}
}

// WithGracefulShutdown sets the maximum duration to wait for active
// requests to complete during graceful shutdown.
// After this timeout, the server will force shutdown.
func WithGracefulShutdown(timeout time.Duration) Option {
	return func(c *Config) {
		c.GracefulTimeout = timeout
	}
}

// WithTLS enables TLS encryption for the gRPC server.
// Both certFile and keyFile must be valid paths to PEM-encoded files.
// If either path is empty, TLS will be disabled.
func WithTLS(certFile, keyFile string) Option {
	return func(c *Config) {
		c.TLSCertFile = certFile
		c.TLSKeyFile = keyFile
	}
}

// WithHealthChecks sets the checks run by the health monitor.
func WithHealthChecks(checks ...health.Check) Option {
	return func(c *Config) {
		c.HealthChecks = append(c.HealthChecks, checks...)
	}
}

// WithHealthInterval sets how often the health monitor runs.
func WithHealthInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.HealthInterval = interval
	}
}

// WithLogger sets the logger for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
