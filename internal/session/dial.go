package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DialConfig controls how a participant reaches the coordinator.
type DialConfig struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// Dial connects to address, retrying while the coordinator is not up yet.
func Dial(ctx context.Context, address string, cfg DialConfig, logger hclog.Logger) (net.Conn, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	dialer := net.Dialer{Timeout: cfg.Timeout}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Info(fmt.Sprintf("Attempting to connect to server at %s", address), "attempt", attempt)

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			logger.Info("Successfully connected to server")
			return conn, nil
		}
		lastErr = err
		logger.Warn("Could not connect to server", "error", err)

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(cfg.Backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("could not connect to %s after %d attempts: %w", address, attempts, lastErr)
}
