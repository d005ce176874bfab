package crypto

import (
	"crypto/ed25519"
	"errors"

	"github.com/securimed/heartsync/internal/model"
)

// Wire layout of a serialized keypair:
// encPub(32) | encPriv(32) | signPub(32) | signSecret(64) | rootSecret(32).
const keyPairLen = 32 + 32 + ed25519.PublicKeySize + ed25519.PrivateKeySize + RootSecretLen

var (
	errBlobTooShort = errors.New("wrapped blob too short")
	errBadKeyPair   = errors.New("malformed keypair blob")
)

func marshalKeyPair(kp model.KeyPair) []byte {
	out := make([]byte, 0, keyPairLen)
	out = append(out, kp.EncPublic[:]...)
	out = append(out, kp.EncPrivate[:]...)
	out = append(out, kp.SignPublic...)
	out = append(out, kp.SignSecret...)
	out = append(out, kp.RootSecret...)
	return out
}

func unmarshalKeyPair(b []byte) (model.KeyPair, error) {
	if len(b) != keyPairLen {
		return model.KeyPair{}, errBadKeyPair
	}
	var kp model.KeyPair
	copy(kp.EncPublic[:], b[:32])
	copy(kp.EncPrivate[:], b[32:64])
	kp.SignPublic = append([]byte(nil), b[64:64+ed25519.PublicKeySize]...)
	kp.SignSecret = append([]byte(nil), b[96:96+ed25519.PrivateKeySize]...)
	kp.RootSecret = append([]byte(nil), b[160:]...)
	return kp, nil
}
