package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SchedulerState is one of the scheduler's two states.
type SchedulerState int32

const (
	// Idle means no automatic syncing.
	Idle SchedulerState = iota
	// Running means a repeating timer is armed.
	Running
)

func (s SchedulerState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// SyncFunc runs one sync cycle. The scheduler ignores its error beyond
// logging; a failed cycle is retried on the next interval.
type SyncFunc func(ctx context.Context) error

// Scheduler drives the sync engine on a fixed interval while enabled, plus
// one immediate sync on enable. At most one sync is in flight at a time:
// ticks that arrive mid-sync are dropped, never queued. The scheduler lives
// for the process lifetime and toggles between Idle and Running.
type Scheduler struct {
	syncFn SyncFunc
	log    *zap.Logger

	mu     sync.Mutex
	state  SchedulerState
	cancel context.CancelFunc

	inFlight atomic.Bool
}

// NewScheduler constructs an idle scheduler around syncFn.
func NewScheduler(syncFn SyncFunc, log *zap.Logger) *Scheduler {
	return &Scheduler{syncFn: syncFn, log: log}
}

// State returns the current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enable transitions Idle -> Running: one immediate sync, then a repeating
// timer every interval. Enabling while Running is a no-op.
func (s *Scheduler) Enable(interval time.Duration) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = Running
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info("auto-sync enabled", zap.Duration("interval", interval))
	s.trigger()
	go s.loop(ctx, interval)
}

// Disable transitions Running -> Idle and cancels the timer. An in-flight
// sync is allowed to complete; no further ones are scheduled.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.log.Info("auto-sync disabled")
}

// OnSessionCleared forces Running -> Idle. Invoked on logout.
func (s *Scheduler) OnSessionCleared() {
	s.Disable()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger()
		}
	}
}

// trigger starts one sync cycle unless one is already in flight, in which
// case the trigger is dropped. The cycle runs on its own context so that
// Disable never aborts a sync already underway.
func (s *Scheduler) trigger() {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("sync already in flight, dropping trigger")
		return
	}
	go func() {
		defer s.inFlight.Store(false)
		if err := s.syncFn(context.Background()); err != nil {
			s.log.Warn("scheduled sync failed", zap.Error(err))
		}
	}()
}
