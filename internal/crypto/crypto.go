// Package crypto implements passphrase hashing, keypair wrapping and
// per-record sealing for heart-rate streams. Primitives come from
// golang.org/x/crypto; the scheme itself is fixed, not pluggable.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"github.com/securimed/heartsync/internal/model"
)

// Argon2id parameters shared by the auth hash and the KEK derivation.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// RootSecretLen is the length of the per-identity root secret that
	// seeds stream key derivation.
	RootSecretLen = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassphrase returns the Argon2id hash of passphrase using the provided salt.
func HashPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassphrase verifies passphrase against the expected Argon2id hash and salt.
func VerifyPassphrase(passphrase, salt, expected []byte) bool {
	got := HashPassphrase(passphrase, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// DeriveKEK derives the key-encryption key from passphrase and kekSalt.
func DeriveKEK(passphrase, kekSalt []byte) []byte {
	return argon2.IDKey(passphrase, kekSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewKeyPair generates fresh identity key material: a Curve25519 encryption
// pair, an Ed25519 signing pair and a random root secret.
func NewKeyPair() (model.KeyPair, error) {
	encPub, encPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return model.KeyPair{}, err
	}
	signPub, signSecret, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return model.KeyPair{}, err
	}
	root, err := RandBytes(RootSecretLen)
	if err != nil {
		return model.KeyPair{}, err
	}
	return model.KeyPair{
		EncPublic:  *encPub,
		EncPrivate: *encPriv,
		SignPublic: signPub,
		SignSecret: signSecret,
		RootSecret: root,
	}, nil
}

// WrapKeyPair serializes kp and encrypts it with the KEK using
// XChaCha20-Poly1305 and a random nonce prepended to the ciphertext.
func WrapKeyPair(kek []byte, kp model.KeyPair) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	plain := marshalKeyPair(kp)
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plain, nil)...)
	return out, nil
}

// UnwrapKeyPair decrypts and deserializes a wrapped keypair blob.
func UnwrapKeyPair(kek, blob []byte) (model.KeyPair, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return model.KeyPair{}, errBlobTooShort
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return model.KeyPair{}, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return model.KeyPair{}, err
	}
	return unmarshalKeyPair(plain)
}

// Zero overwrites key material in place. Called on logout.
func Zero(kp *model.KeyPair) {
	for i := range kp.EncPrivate {
		kp.EncPrivate[i] = 0
	}
	for i := range kp.SignSecret {
		kp.SignSecret[i] = 0
	}
	for i := range kp.RootSecret {
		kp.RootSecret[i] = 0
	}
}
