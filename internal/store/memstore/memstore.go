// Package memstore is an in-memory store.Port used in tests and for
// single-device operation without a relay.
package memstore

import (
	"context"
	"sync"

	"github.com/securimed/heartsync/internal/store"
)

// Store keeps path -> key -> value maps and fans updates out to subscribers.
// Delivery is synchronous with Put, which makes tests deterministic while
// still exercising the at-least-once, unordered contract (subscribers get
// every Put, including overwrites of the same key).
type Store struct {
	mu   sync.Mutex
	data map[string]map[string]string
	subs map[string]map[int]store.UpdateFunc
	next int

	// PutErr, when set, fails every Put to simulate an unavailable store.
	PutErr error
}

var _ store.Port = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		data: map[string]map[string]string{},
		subs: map[string]map[int]store.UpdateFunc{},
	}
}

// Put idempotently upserts value at path/key and notifies subscribers.
func (s *Store) Put(_ context.Context, path, key, value string) error {
	s.mu.Lock()
	if s.PutErr != nil {
		err := s.PutErr
		s.mu.Unlock()
		return err
	}
	if s.data[path] == nil {
		s.data[path] = map[string]string{}
	}
	s.data[path][key] = value
	var fns []store.UpdateFunc
	for _, fn := range s.subs[path] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(store.Update{Path: path, Key: key, Value: value})
	}
	return nil
}

// Get returns a copy of every key under path.
func (s *Store) Get(_ context.Context, path string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data[path]))
	for k, v := range s.data[path] {
		out[k] = v
	}
	return out, nil
}

// On registers fn for updates under path.
func (s *Store) On(path string, fn store.UpdateFunc) (store.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[path] == nil {
		s.subs[path] = map[int]store.UpdateFunc{}
	}
	id := s.next
	s.next++
	s.subs[path][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[path], id)
	}, nil
}
