package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/crypto"
	"github.com/securimed/heartsync/internal/model"
	"github.com/securimed/heartsync/internal/service"
	"github.com/securimed/heartsync/internal/store/memstore"
)

func testSession(t *testing.T, alias string) *model.Session {
	t.Helper()
	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	return &model.Session{
		Identity:       model.Identity{Alias: alias, KeyPair: kp},
		PublicKeyToken: crypto.EncodeKeyToken(kp.EncPublic),
		Epoch:          1,
	}
}

func TestRunPairing_OneShot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sess := testSession(t, "alice")
	peer := testSession(t, "bob")
	pairing := service.NewPairing(memstore.New(), zap.NewNop())
	qrPath := filepath.Join(t.TempDir(), "pair.png")

	runPairing(ctx, pairing, sess, false, qrPath, peer.PublicKeyToken, "bob", zap.NewNop())

	png, err := os.ReadFile(qrPath)
	if err != nil || len(png) == 0 {
		t.Fatalf("QR file: len=%d err=%v", len(png), err)
	}

	rels, err := pairing.Caregivers(ctx, sess)
	if err != nil {
		t.Fatalf("Caregivers: %v", err)
	}
	if len(rels) != 1 || rels[0].PeerPublicKeyToken != peer.PublicKeyToken {
		t.Fatalf("relations=%+v, want the imported peer", rels)
	}
}
