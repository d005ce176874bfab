package crypto

import (
	"encoding/base64"
	"errors"
)

var errBadToken = errors.New("not a public key token")

// EncodeKeyToken renders a Curve25519 public key as its portable token form:
// unpadded base64url. This is the string carried in QR codes and pasted by
// peers.
func EncodeKeyToken(pub [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(pub[:])
}

// DecodeKeyToken parses a token back into a public key. Rejects anything
// that is not exactly a base64url-encoded 32-byte key.
func DecodeKeyToken(token string) ([32]byte, error) {
	var pub [32]byte
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pub, errBadToken
	}
	if len(raw) != 32 {
		return pub, errBadToken
	}
	copy(pub[:], raw)
	return pub, nil
}
