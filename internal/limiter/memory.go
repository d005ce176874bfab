package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter with a sliding failure window and lockout.
// The sync core is a single-process device agent, so lockout state has no
// cross-process reader and needs no shared backend.
type Memory struct {
	mu       sync.Mutex
	window   time.Duration
	maxFails int
	blockFor time.Duration
	entries  map[string]*entry

	now func() time.Time // test hook
}

type entry struct {
	fails        int
	firstFail    time.Time
	blockedUntil time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		entries:  map[string]*entry{},
		now:      time.Now,
	}
}

// Allow reports whether authentication is currently allowed.
func (l *Memory) Allow(_ context.Context, alias string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[alias]
	if !ok {
		return true, 0, nil
	}
	now := l.now()
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for the alias.
func (l *Memory) Success(_ context.Context, alias string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, alias)
	return nil
}

// Failure records a failed attempt and reports whether the alias is now blocked.
func (l *Memory) Failure(_ context.Context, alias string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[alias]
	if !ok || now.Sub(e.firstFail) > l.window {
		e = &entry{firstFail: now}
		l.entries[alias] = e
	}
	e.fails++
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
