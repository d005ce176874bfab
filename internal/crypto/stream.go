package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strconv"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

// StreamKeyLen is the length of a derived per-stream data key.
const StreamKeyLen = 32

// StreamKey derives the symmetric key for one record kind via HKDF-SHA256
// from the identity's root secret. One key per stream, not per record, so a
// caregiver grant is a single sealed key.
func StreamKey(rootSecret []byte, recordKind string) ([]byte, error) {
	r := hkdf.New(sha256.New, rootSecret, nil, []byte(recordKind))
	key := make([]byte, StreamKeyLen)
	_, err := r.Read(key)
	return key, err
}

// SealBPM encrypts one beats-per-minute value with the stream key.
// AAD binds the ciphertext to the owner token and the record timestamp, so a
// record cannot be replayed into another stream or another slot.
func SealBPM(streamKey []byte, ownerToken string, timestampMillis int64, bpm int) (string, error) {
	aead, err := chacha20poly1305.NewX(streamKey)
	if err != nil {
		return "", err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", err
	}
	plain := []byte(strconv.Itoa(bpm))
	aad := recordAAD(ownerToken, timestampMillis)
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plain, aad)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenBPM decrypts a sealed beats-per-minute value using the same AAD as
// during sealing.
func OpenBPM(streamKey []byte, ownerToken string, timestampMillis int64, ciphertext string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return 0, err
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return 0, errBlobTooShort
	}
	aead, err := chacha20poly1305.NewX(streamKey)
	if err != nil {
		return 0, err
	}
	nonce := raw[:chacha20poly1305.NonceSizeX]
	ct := raw[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, recordAAD(ownerToken, timestampMillis))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(plain))
}

func recordAAD(ownerToken string, timestampMillis int64) []byte {
	aad := make([]byte, 0, len(ownerToken)+8)
	aad = append(aad, ownerToken...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampMillis))
	return append(aad, ts[:]...)
}

// SealGrant encrypts the owner's stream key to a peer's public key using
// nacl box, authenticated by the owner's private key. Random nonce prepended.
func SealGrant(streamKey []byte, peerPub, ownerPriv *[32]byte) (string, error) {
	nonceBytes, err := RandBytes(24)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	out := box.Seal(nonce[:], streamKey, &nonce, peerPub, ownerPriv)
	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenGrant recovers a stream key sealed to the caller by ownerPub.
func OpenGrant(grant string, ownerPub, selfPriv *[32]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(grant)
	if err != nil {
		return nil, err
	}
	if len(raw) < 24 {
		return nil, errBlobTooShort
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	key, ok := box.Open(nil, raw[24:], &nonce, ownerPub, selfPriv)
	if !ok {
		return nil, errors.New("grant authentication failed")
	}
	return key, nil
}
