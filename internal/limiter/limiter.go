// Package limiter defines interfaces and implementations for authentication
// attempt limiting.
package limiter

import (
	"context"
	"time"
)

// Limiter controls authentication attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether authentication is currently allowed and an
	// optional retry-after duration.
	Allow(ctx context.Context, alias string) (bool, time.Duration, error)
	// Success resets counters after a successful authentication.
	Success(ctx context.Context, alias string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, alias string) (bool, time.Duration, error)
}
