package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/model"
	"github.com/securimed/heartsync/internal/store/memstore"
)

func newPeerManager(t *testing.T, alias string) (*SessionManager, *model.Session) {
	t.Helper()
	m := NewSessionManager(&fakeRepo{byAlias: map[string]*model.IdentityRecord{}}, permissiveLimiter(), zap.NewNop())
	if _, err := m.Register(context.Background(), alias, "pw"); err != nil {
		t.Fatalf("Register %s: %v", alias, err)
	}
	sess, err := m.Authenticate(context.Background(), alias, "pw")
	if err != nil {
		t.Fatalf("Authenticate %s: %v", alias, err)
	}
	return m, sess
}

func TestPairing_ExportToken(t *testing.T) {
	t.Parallel()
	_, sess := newTestManager(t)
	p := NewPairing(memstore.New(), zap.NewNop())

	tok := p.ExportToken(sess)
	if tok.Alias != "alice" || tok.Key != sess.PublicKeyToken {
		t.Fatalf("bad token: %+v", tok)
	}
	// Pure: repeated exports are identical.
	if p.ExportToken(sess) != tok {
		t.Fatalf("ExportToken must be a pure function of the session")
	}

	png, err := p.ExportQR(sess)
	if err != nil || len(png) == 0 {
		t.Fatalf("ExportQR: len=%d err=%v", len(png), err)
	}
}

func TestPairing_ImportToken(t *testing.T) {
	t.Parallel()
	_, alice := newTestManager(t)
	_, bob := newPeerManager(t, "bob")
	st := memstore.New()
	p := NewPairing(st, zap.NewNop())
	ctx := context.Background()

	// Bob imports Alice's exported token.
	rel, err := p.ImportToken(ctx, bob, p.ExportToken(alice).Key, "alice")
	if err != nil {
		t.Fatalf("ImportToken: %v", err)
	}
	if rel.PeerPublicKeyToken != alice.PublicKeyToken {
		t.Fatalf("relation must reference alice's key")
	}
	if rel.AccessLevel != model.AccessAlertsOnly {
		t.Fatalf("default access must be alerts-only, got %s", rel.AccessLevel)
	}

	list, err := p.Caregivers(ctx, bob)
	if err != nil {
		t.Fatalf("Caregivers: %v", err)
	}
	if len(list) != 1 || list[0].PeerPublicKeyToken != alice.PublicKeyToken || list[0].PeerAlias != "alice" {
		t.Fatalf("bob's caregiver list = %+v", list)
	}

	// One-way: alice's list is untouched.
	aliceList, _ := p.Caregivers(ctx, alice)
	if len(aliceList) != 0 {
		t.Fatalf("import must not touch the peer's list")
	}
}

func TestPairing_ImportToken_Invalid(t *testing.T) {
	t.Parallel()
	_, sess := newTestManager(t)
	p := NewPairing(memstore.New(), zap.NewNop())
	ctx := context.Background()

	for _, bad := range []string{"", "   ", "notakey", "!!!"} {
		if _, err := p.ImportToken(ctx, sess, bad, "x"); !errors.Is(err, errs.ErrInvalidToken) {
			t.Fatalf("ImportToken(%q): got %v, want ErrInvalidToken", bad, err)
		}
	}
	// Importing one's own token is rejected.
	if _, err := p.ImportToken(ctx, sess, sess.PublicKeyToken, "self"); !errors.Is(err, errs.ErrInvalidToken) {
		t.Fatalf("own token: got %v, want ErrInvalidToken", err)
	}

	list, _ := p.Caregivers(ctx, sess)
	if len(list) != 0 {
		t.Fatalf("invalid imports must not create relations")
	}
}

func TestPairing_GrantLetsCaregiverDecrypt(t *testing.T) {
	t.Parallel()
	aliceMgr, alice := newTestManager(t)
	_, bob := newPeerManager(t, "bob")
	st := memstore.New()
	p := NewPairing(st, zap.NewNop())
	ctx := context.Background()

	// Alice pairs Bob as her caregiver, which publishes a stream-key grant
	// sealed to Bob.
	if _, err := p.ImportToken(ctx, alice, bob.PublicKeyToken, "bob"); err != nil {
		t.Fatalf("alice imports bob: %v", err)
	}

	// Alice syncs her samples.
	e := NewEngine(seededPort(t), st, aliceMgr, nil, zap.NewNop())
	if _, err := e.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Bob decrypts Alice's stream through the grant.
	recs, err := e.ReadStream(ctx, alice.PublicKeyToken)
	if err != nil || len(recs) != 3 {
		t.Fatalf("ReadStream: n=%d err=%v", len(recs), err)
	}
	bpm, err := e.DecryptShared(ctx, bob, alice.PublicKeyToken, recs[0])
	if err != nil {
		t.Fatalf("DecryptShared: %v", err)
	}
	if bpm != 70 {
		t.Fatalf("bpm=%d, want 70", bpm)
	}

	// A third party without a grant gets nothing.
	_, eve := newPeerManager(t, "eve")
	if _, err := e.DecryptShared(ctx, eve, alice.PublicKeyToken, recs[0]); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("no grant: got %v, want ErrNotFound", err)
	}
}
