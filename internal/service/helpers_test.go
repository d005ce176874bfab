package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/health"
	"github.com/securimed/heartsync/internal/health/memhealth"
	"github.com/securimed/heartsync/internal/identity"
	"github.com/securimed/heartsync/internal/limiter"
	"github.com/securimed/heartsync/internal/model"
)

type fakeRepo struct {
	byAlias map[string]*model.IdentityRecord

	createErr error
	getErr    error
}

var _ identity.Repository = (*fakeRepo)(nil)

func (f *fakeRepo) Create(_ context.Context, rec *model.IdentityRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byAlias == nil {
		f.byAlias = map[string]*model.IdentityRecord{}
	}
	if _, exists := f.byAlias[rec.Alias]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *rec
	f.byAlias[rec.Alias] = &cpy
	return nil
}

func (f *fakeRepo) GetByAlias(_ context.Context, alias string) (*model.IdentityRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.byAlias[alias]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *rec
	return &c, nil
}

type fakeLimiter struct {
	allowOK     bool
	failBlocked bool

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, nil
}
func (l *fakeLimiter) Success(context.Context, string) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

func permissiveLimiter() *fakeLimiter { return &fakeLimiter{allowOK: true} }

// seededPort returns a fully granted health port holding alice's canonical
// three samples.
func seededPort(t *testing.T) *memhealth.Port {
	t.Helper()
	port := memhealth.New()
	port.GrantAll()
	if _, err := port.InsertRecords(context.Background(), health.KindHeartRate, aliceSamples()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return port
}

// newTestManager returns a session manager with a registered "alice"/"pw"
// identity and an authenticated session.
func newTestManager(t *testing.T) (*SessionManager, *model.Session) {
	t.Helper()
	m := NewSessionManager(&fakeRepo{byAlias: map[string]*model.IdentityRecord{}}, permissiveLimiter(), zap.NewNop())
	if _, err := m.Register(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sess, err := m.Authenticate(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return m, sess
}
