// Package store defines the narrow port to the eventually-consistent
// replicated store. Paths are hierarchical strings rooted at an owner's
// public key token; values are opaque strings. The store guarantees
// at-least-once, unordered delivery to subscribers and idempotent upserts,
// nothing more.
package store

import "context"

// Update is one change notification for a subscribed path. Duplicates and
// reordering are expected; consumers must treat a stream as a set keyed by
// Key.
type Update struct {
	Path  string
	Key   string
	Value string
}

// UpdateFunc receives push notifications. It runs on the store's delivery
// goroutine and must not block.
type UpdateFunc func(Update)

// Unsubscribe detaches a previously registered subscription.
type Unsubscribe func()

// Port is the replication service boundary. Writes under an owner's root are
// only accepted from a client holding that identity's private key;
// implementations decide how that proof travels.
type Port interface {
	// Put idempotently upserts value at path/key.
	Put(ctx context.Context, path, key, value string) error
	// Get point-reads every key under path.
	Get(ctx context.Context, path string) (map[string]string, error)
	// On registers a push subscription for path.
	On(path string, fn UpdateFunc) (Unsubscribe, error)
}

// Join builds a store path from segments. Segments must not contain '/'.
func Join(segments ...string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
