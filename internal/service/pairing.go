package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/crypto"
	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/model"
	"github.com/securimed/heartsync/internal/store"
)

// Pairing establishes caregiver relationships via out-of-band public-key
// exchange. Pairing is symmetric by convention but executed as two
// independent one-way imports; there is no handshake and no revocation.
type Pairing struct {
	store store.Port
	log   *zap.Logger
}

// NewPairing constructs the pairing protocol over the replicated store.
func NewPairing(st store.Port, log *zap.Logger) *Pairing {
	return &Pairing{store: st, log: log}
}

// ExportToken returns the session's pairing token: the public key string to
// scan or copy, plus the display alias. Pure function of the session.
func (p *Pairing) ExportToken(sess *model.Session) model.PairingToken {
	return model.PairingToken{
		Alias: sess.Identity.Alias,
		Key:   sess.PublicKeyToken,
	}
}

// ExportQR renders the session's key token as a QR PNG.
func (p *Pairing) ExportQR(sess *model.Session) ([]byte, error) {
	return qrcode.Encode(sess.PublicKeyToken, qrcode.Medium, 256)
}

// ImportToken validates a scanned or pasted key token and registers the peer
// in the caller's caregiver list with the default access level. It also
// publishes a stream-key grant sealed to the peer, which is what lets the
// peer's read side decrypt the caller's stream. Importing a malformed token
// or one's own token yields errs.ErrInvalidToken and no relation.
func (p *Pairing) ImportToken(ctx context.Context, sess *model.Session, raw, peerAlias string) (*model.CaregiverRelation, error) {
	if sess == nil {
		return nil, errs.ErrNoSession
	}
	token := strings.TrimSpace(raw)
	peerPub, err := crypto.DecodeKeyToken(token)
	if err != nil {
		return nil, errs.ErrInvalidToken
	}
	if token == sess.PublicKeyToken {
		return nil, errs.ErrInvalidToken
	}

	rel := &model.CaregiverRelation{
		PeerPublicKeyToken: token,
		PeerAlias:          peerAlias,
		AccessLevel:        model.AccessAlertsOnly,
		AddedAt:            time.Now().UTC(),
	}
	data, err := json.Marshal(rel)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(ctx, store.Join(sess.PublicKeyToken, segCaregivers), token, string(data)); err != nil {
		return nil, err
	}

	// Grant publication is best-effort: the relation stands even if the
	// grant write fails, and re-importing the same token repairs it.
	streamKey, err := crypto.StreamKey(sess.Identity.KeyPair.RootSecret, segHeartRate)
	if err == nil {
		var grant string
		grant, err = crypto.SealGrant(streamKey, &peerPub, &sess.Identity.KeyPair.EncPrivate)
		if err == nil {
			err = p.store.Put(ctx, store.Join(sess.PublicKeyToken, segGrants), token, grant)
		}
	}
	if err != nil {
		p.log.Warn("grant publication failed", zap.String("peer", token), zap.Error(err))
	}

	p.log.Info("caregiver paired", zap.String("peer", token), zap.String("alias", peerAlias))
	return rel, nil
}

// Caregivers lists the caller's persisted caregiver relations, oldest first.
func (p *Pairing) Caregivers(ctx context.Context, sess *model.Session) ([]model.CaregiverRelation, error) {
	if sess == nil {
		return nil, errs.ErrNoSession
	}
	kv, err := p.store.Get(ctx, store.Join(sess.PublicKeyToken, segCaregivers))
	if err != nil {
		return nil, err
	}
	out := make([]model.CaregiverRelation, 0, len(kv))
	for _, v := range kv {
		var rel model.CaregiverRelation
		if err := json.Unmarshal([]byte(v), &rel); err != nil {
			p.log.Warn("skipping malformed caregiver entry", zap.Error(err))
			continue
		}
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}
