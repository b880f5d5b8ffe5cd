// Package keys holds the Ed25519 key material used by chronicle: the
// immutable PublicKey value that identifies clients, and the server Keyring
// that owns the process-wide signing keypair.
package keys

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidKey is returned when key material cannot be decoded.
var ErrInvalidKey = errors.New("invalid public key")

// PublicKey is an immutable Ed25519 verification key. The zero value is an
// empty key that never verifies anything and never equals a real key.
type PublicKey struct {
	b string
}

// PublicKeyFromBytes copies b into a PublicKey. The length must be
// ed25519.PublicKeySize.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), ed25519.PublicKeySize)
	}
	return PublicKey{b: string(b)}, nil
}

// ParsePublicKey decodes the base64url text form (padded or not). Standard
// base64 is accepted too since older clients register keys that way.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if raw, err := enc.DecodeString(s); err == nil {
			return PublicKeyFromBytes(raw)
		}
	}
	return PublicKey{}, fmt.Errorf("%w: not base64", ErrInvalidKey)
}

// Bytes returns a copy of the raw key.
func (k PublicKey) Bytes() []byte {
	return []byte(k.b)
}

// Ed25519 returns the key in the form crypto/ed25519 expects.
func (k PublicKey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(k.Bytes())
}

// IsZero reports whether the key is empty.
func (k PublicKey) IsZero() bool {
	return k.b == ""
}

// Equal compares two keys in constant time. Empty keys are never equal.
func (k PublicKey) Equal(other PublicKey) bool {
	if k.IsZero() || other.IsZero() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(k.b), []byte(other.b)) == 1
}

// String returns the base64url (unpadded) text form.
func (k PublicKey) String() string {
	return base64.RawURLEncoding.EncodeToString([]byte(k.b))
}

// Fingerprint returns a short BLAKE2b digest of the key, safe to log.
func (k PublicKey) Fingerprint() string {
	if k.IsZero() {
		return ""
	}
	sum := blake2b.Sum256([]byte(k.b))
	return hex.EncodeToString(sum[:8])
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
