// Package service contains the sync core: session management, the encrypted
// sync engine, the auto-sync scheduler and caregiver pairing.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/securimed/heartsync/internal/crypto"
	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/identity"
	"github.com/securimed/heartsync/internal/limiter"
	"github.com/securimed/heartsync/internal/model"
)

// SessionManager owns the user's key material. It is the only component
// allowed to hold keys beyond the scope of one operation; everyone else
// borrows the session by reference.
type SessionManager struct {
	repo identity.Repository
	lim  limiter.Limiter
	log  *zap.Logger

	// Concurrent Authenticate calls for the same alias coalesce into one
	// flight; authMu keeps at most one credential check running per process.
	flights singleflight.Group
	authMu  sync.Mutex

	mu       sync.Mutex
	current  *model.Session
	epoch    uint64
	watchers []func(*model.Session)
}

// NewSessionManager constructs a SessionManager with required dependencies.
func NewSessionManager(repo identity.Repository, lim limiter.Limiter, log *zap.Logger) *SessionManager {
	return &SessionManager{repo: repo, lim: lim, log: log}
}

// Register creates a durable identity: fresh key material wrapped by a KEK
// derived from the passphrase. The alias must be unused.
func (m *SessionManager) Register(ctx context.Context, alias, passphrase string) (string, error) {
	if alias == "" || passphrase == "" {
		return "", errors.New("empty alias/passphrase")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := crypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	kekSalt, err := crypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	kp, err := crypto.NewKeyPair()
	if err != nil {
		return "", err
	}
	blob, err := crypto.WrapKeyPair(crypto.DeriveKEK([]byte(passphrase), kekSalt), kp)
	if err != nil {
		return "", err
	}
	rec := &model.IdentityRecord{
		ID:       id,
		Alias:    alias,
		PwdHash:  crypto.HashPassphrase([]byte(passphrase), saltAuth),
		SaltAuth: saltAuth,
		KekSalt:  kekSalt,
		KeyBlob:  blob,
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		return "", err
	}
	m.log.Info("identity registered", zap.String("alias", alias))
	return id.String(), nil
}

// Authenticate checks credentials against the identity store and, on
// success, installs and returns the new current session. A wrong passphrase
// is an expected outcome and comes back as errs.ErrInvalidCredentials; an
// unreachable store comes back as errs.ErrUnavailable and is never retried
// internally.
func (m *SessionManager) Authenticate(ctx context.Context, alias, passphrase string) (*model.Session, error) {
	v, err, _ := m.flights.Do(alias, func() (any, error) {
		m.authMu.Lock()
		defer m.authMu.Unlock()
		return m.authenticate(ctx, alias, passphrase)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Session), nil
}

func (m *SessionManager) authenticate(ctx context.Context, alias, passphrase string) (*model.Session, error) {
	allowed, retryAfter, err := m.lim.Allow(ctx, alias)
	if err != nil {
		return nil, err
	}
	if !allowed {
		m.log.Warn("authentication rate limited",
			zap.String("alias", alias), zap.Duration("retry_after", retryAfter))
		return nil, errs.ErrRateLimited
	}

	rec, err := m.repo.GetByAlias(ctx, alias)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Hide identity existence behind the same failure as a wrong
			// passphrase.
			return nil, m.recordFailure(ctx, alias)
		}
		return nil, err
	}
	if !crypto.VerifyPassphrase([]byte(passphrase), rec.SaltAuth, rec.PwdHash) {
		return nil, m.recordFailure(ctx, alias)
	}
	_ = m.lim.Success(ctx, alias)

	kek := crypto.DeriveKEK([]byte(passphrase), rec.KekSalt)
	kp, err := crypto.UnwrapKeyPair(kek, rec.KeyBlob)
	if err != nil {
		return nil, fmt.Errorf("unwrap keypair: %w", err)
	}

	m.mu.Lock()
	m.epoch++
	sess := &model.Session{
		Identity:       model.Identity{Alias: rec.Alias, KeyPair: kp},
		PublicKeyToken: crypto.EncodeKeyToken(kp.EncPublic),
		Epoch:          m.epoch,
	}
	m.current = sess
	watchers := append([]func(*model.Session){}, m.watchers...)
	m.mu.Unlock()

	m.log.Info("authenticated", zap.String("alias", alias), zap.String("pub", sess.PublicKeyToken))
	for _, w := range watchers {
		w(sess)
	}
	return sess, nil
}

func (m *SessionManager) recordFailure(ctx context.Context, alias string) error {
	if blocked, _, ferr := m.lim.Failure(ctx, alias); ferr == nil && blocked {
		return errs.ErrRateLimited
	}
	return errs.ErrInvalidCredentials
}

// Current returns the active session, or nil when logged out. A nil session
// means no sync activity is permitted.
func (m *SessionManager) Current() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Alive reports whether sess belongs to the installed epoch. Work that
// captured a session before a suspension point re-checks this before writing;
// a false result means logout happened and the result must be discarded.
func (m *SessionManager) Alive(sess *model.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess != nil && m.current != nil && m.current.Epoch == sess.Epoch
}

// Watch registers fn to be invoked on every session change (login with the
// new session, logout with nil). Watchers live for the process lifetime.
func (m *SessionManager) Watch(fn func(*model.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Logout clears in-memory key material and notifies watchers. The durable
// identity remains in the store for future re-authentication.
func (m *SessionManager) Logout() {
	m.mu.Lock()
	sess := m.current
	if sess == nil {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.epoch++
	watchers := append([]func(*model.Session){}, m.watchers...)
	m.mu.Unlock()

	crypto.Zero(&sess.Identity.KeyPair)
	m.log.Info("logged out", zap.String("alias", sess.Identity.Alias))
	for _, w := range watchers {
		w(nil)
	}
}
