package relaystore

import (
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WriteTokenSigner mints short-lived EdDSA JWTs proving namespace ownership.
// Subject is the owner's public key token; the signed path claim scopes the
// token to one write target.
type WriteTokenSigner struct {
	OwnerToken string
	Key        ed25519.PrivateKey
	TTL        time.Duration
}

type writeClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// WriteToken signs a token authorizing writes under path.
func (s *WriteTokenSigner) WriteToken(path string) (string, error) {
	ttl := s.TTL
	if ttl == 0 {
		ttl = time.Minute
	}
	now := time.Now()
	claims := writeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.OwnerToken,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Path: path,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return tok.SignedString(s.Key)
}

// VerifyWriteToken checks a token against the public key and returns the
// subject and path claims. Used by relay-side tests and any embedded relay.
func VerifyWriteToken(token string, pub ed25519.PublicKey) (subject, path string, err error) {
	var claims writeClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return "", "", err
	}
	return claims.Subject, claims.Path, nil
}
