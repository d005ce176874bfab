// Package model defines domain entities used by services and ports.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// KeyPair holds the raw key material backing one identity.
// Curve25519 keys encrypt, Ed25519 keys sign store write tokens, and
// RootSecret seeds HKDF derivation of per-stream data keys.
type KeyPair struct {
	EncPublic  [32]byte
	EncPrivate [32]byte
	SignPublic []byte // ed25519.PublicKey
	SignSecret []byte // ed25519.PrivateKey
	RootSecret []byte
}

// Identity is a durable alias plus its cryptographic keypair, independent
// of any running session.
type Identity struct {
	Alias   string
	KeyPair KeyPair
}

// Session is the runtime handle to an authenticated identity's key material,
// held only while the process is active. PublicKeyToken is the stable
// external form of the encryption public key, used for QR export/import.
// Epoch is bumped on every login and logout; work started under an older
// epoch must discard its result instead of writing.
type Session struct {
	Identity       Identity
	PublicKeyToken string
	Epoch          uint64
}

// IdentityRecord is the durable row kept in the identity store. Keys are
// never stored in plaintext: KeyBlob is the AEAD-wrapped KeyPair, wrapped by
// a KEK derived from the passphrase and KekSalt.
type IdentityRecord struct {
	ID        uuid.UUID
	Alias     string // unique
	PwdHash   []byte // Argon2id(passphrase, SaltAuth)
	SaltAuth  []byte
	KekSalt   []byte
	KeyBlob   []byte
	CreatedAt time.Time
}

// HeartRateSample is one time-stamped reading from the health data port.
// Read-only at the source; uniquely keyed by TimestampMillis within one
// owner's stream.
type HeartRateSample struct {
	TimestampMillis int64
	BeatsPerMinute  int
	SourceID        uuid.UUID
}

// EncryptedRecord is the replicated form of a sample. The timestamp stays in
// the clear as the storage key; the beats-per-minute value travels only as
// ciphertext.
type EncryptedRecord struct {
	TimestampMillis int64
	Ciphertext      string
}

// AccessLevel controls what a paired caregiver may see.
type AccessLevel string

const (
	AccessAlertsOnly AccessLevel = "alerts_only"
	AccessFull       AccessLevel = "full_access"
)

// CaregiverRelation records one paired peer in the owner's caregiver list.
type CaregiverRelation struct {
	PeerPublicKeyToken string      `json:"peer"`
	PeerAlias          string      `json:"alias"`
	AccessLevel        AccessLevel `json:"access"`
	AddedAt            time.Time   `json:"added_at"`
}

// PairingToken is the exported pairing payload: the owner's public key token
// plus a display alias. Key doubles as the copy-to-clipboard string.
type PairingToken struct {
	Alias string `json:"alias"`
	Key   string `json:"key"`
}

// SyncResult summarizes one harvest-encrypt-replicate cycle.
type SyncResult struct {
	Published int
	Skipped   int
}
