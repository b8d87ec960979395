// Package health provides the health checks of the node registry service.
//
// A check returns a Status. Checks are combined with Combine, which reports
// the worst status of its inputs:
//
//   - Unhealthy: if any check is unhealthy
//   - Degraded: if any check is degraded and none is unhealthy
//   - Healthy: if all checks are healthy
//
// Usage:
//
//	status := health.Run(ctx,
//	    health.StoreCheck(st),
//	    health.FileCheck("/var/lib/noderegistry"),
//	)
//	if status.IsUnhealthy() {
//	    logger.Warn("registry unhealthy", "message", status.Message, "details", status.Details)
//	}
package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/zero-day-ai/noderegistry/store"
)

// SlowThreshold is the ping latency above which a store is reported as
// degraded.
const SlowThreshold = time.Second

// DefaultTimeout bounds a check when the context carries no deadline.
const DefaultTimeout = 5 * time.Second

// Check is a deferred health check.
type Check func(ctx context.Context) Status

// Run executes the checks sequentially and combines their results.
func Run(ctx context.Context, checks ...Check) Status {
	results := make([]Status, 0, len(checks))
	for _, check := range checks {
		results = append(results, check(ctx))
	}
	return Combine(results...)
}

// StoreCheck pings the persistence backend. A nil pinger means the registry
// runs without a store, which is healthy.
func StoreCheck(p store.Pinger) Check {
	return func(ctx context.Context) Status {
		const name = "store"
		if p == nil {
			return Healthy(name, "no store configured")
		}

		ctx, cancel := withDefaultTimeout(ctx)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		latency := time.Since(start)

		if err != nil {
			return Unhealthy(name, "store ping failed", map[string]any{
				"error":      err.Error(),
				"latency_ms": latency.Milliseconds(),
			})
		}
		if latency > SlowThreshold {
			return Degraded(name, fmt.Sprintf("store ping took %s", latency), map[string]any{
				"latency_ms": latency.Milliseconds(),
			})
		}
		return Healthy(name, "store reachable")
	}
}

// NetworkCheck verifies TCP connectivity to host:port.
func NetworkCheck(host string, port int) Check {
	return func(ctx context.Context) Status {
		name := "network"
		if host == "" {
			return Unhealthy(name, "host cannot be empty", nil)
		}
		if port <= 0 || port > 65535 {
			return Unhealthy(name, fmt.Sprintf("invalid port number: %d", port), map[string]any{"port": port})
		}

		address := net.JoinHostPort(host, strconv.Itoa(port))
		name = "network:" + address

		ctx, cancel := withDefaultTimeout(ctx)
		defer cancel()

		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return Unhealthy(name, fmt.Sprintf("failed to connect to %s", address), map[string]any{
				"error": err.Error(),
			})
		}
		conn.Close()

		return Healthy(name, fmt.Sprintf("connected to %s", address))
	}
}

// FileCheck verifies that path exists.
func FileCheck(path string) Check {
	return func(context.Context) Status {
		name := "path:" + path
		if path == "" {
			return Unhealthy("path", "path cannot be empty", nil)
		}

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return Unhealthy(name, fmt.Sprintf("path '%s' does not exist", path), nil)
		}
		if err != nil {
			return Unhealthy(name, fmt.Sprintf("failed to stat path '%s'", path), map[string]any{
				"error": err.Error(),
			})
		}

		kind := "file"
		if info.IsDir() {
			kind = "directory"
		}
		return Healthy(name, fmt.Sprintf("%s '%s' exists", kind, path))
	}
}

// Combine aggregates statuses into one, reporting the worst of them.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("", "no checks provided")
	}

	var unhealthy, degraded []string
	healthy := 0

	for _, check := range checks {
		label := check.Name
		if label == "" {
			label = check.Message
		}
		if label == "" {
			label = "unnamed check"
		}

		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, label)
		case StatusDegraded:
			degraded = append(degraded, label)
		case StatusHealthy:
			healthy++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy("", fmt.Sprintf("%d check(s) failed", len(unhealthy)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthy),
			"degraded":      len(degraded),
			"healthy":       healthy,
			"failed_checks": unhealthy,
		})
	}

	if len(degraded) > 0 {
		return Degraded("", fmt.Sprintf("%d check(s) degraded", len(degraded)), map[string]any{
			"total":           len(checks),
			"degraded":        len(degraded),
			"healthy":         healthy,
			"degraded_checks": degraded,
		})
	}

	return Healthy("", fmt.Sprintf("all %d check(s) passed", len(checks)))
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
