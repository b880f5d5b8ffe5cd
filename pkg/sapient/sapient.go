// Package sapient implements detached Ed25519 body signatures carried in the
// Body-Signature-Ed25519 header. Requests are verified against a client's
// public key; responses are signed with the server keyring.
package sapient

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rhuss/chronicle/pkg/debug"
	"github.com/rhuss/chronicle/pkg/keys"
)

// SignatureHeader carries one base64url encoded signature of the raw body.
const SignatureHeader = "Body-Signature-Ed25519"

// DefaultMaxBodySize bounds how much of a request body is buffered for
// verification.
const DefaultMaxBodySize = 10 << 20

var (
	// ErrMissingSignature is returned when no signature header is present.
	ErrMissingSignature = errors.New("no signature provided")

	// ErrInvalidSignature is returned when no provided signature verifies.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer produces Ed25519 signatures. *keys.Keyring implements it.
type Signer interface {
	Sign(message []byte) []byte
}

// Verifier checks request signatures.
type Verifier struct {
	maxBodySize int64
}

// NewVerifier returns a Verifier that buffers at most maxBodySize bytes of
// the body. Zero selects DefaultMaxBodySize.
func NewVerifier(maxBodySize int64) *Verifier {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &Verifier{maxBodySize: maxBodySize}
}

// VerifyRequest checks that at least one Body-Signature-Ed25519 header of r
// is a valid signature of the body under key. On success it returns a copy
// of r with its own body reader. Reading drains r.Body, so in every case it
// is replaced with a reader over the same bytes (Body, ContentLength and
// GetBody change; nothing else does).
func (v *Verifier) VerifyRequest(r *http.Request, key keys.PublicKey) (*http.Request, error) {
	if r == nil {
		return nil, errors.New("nil request")
	}

	body, err := readBody(r.Body, v.maxBodySize)
	if err != nil {
		return nil, err
	}

	// The caller may read the body again whatever the outcome.
	setBody(r, body)

	debug.Log(debug.Sapient, "verifying request", "signatures", len(r.Header.Values(SignatureHeader)), "body_bytes", len(body))
	if debug.TraceIsEnabled(debug.Sapient) {
		debug.Trace(debug.Sapient, "request body", "body", debug.Truncate(string(body), 2048))
	}

	if err := VerifyBody(body, r.Header, key); err != nil {
		return nil, err
	}

	out := r.WithContext(r.Context())
	setBody(out, body)
	return out, nil
}

// VerifyBody checks the signature headers in h against body.
func VerifyBody(body []byte, h http.Header, key keys.PublicKey) error {
	values := h.Values(SignatureHeader)
	if len(values) == 0 {
		return ErrMissingSignature
	}
	if key.IsZero() {
		return ErrInvalidSignature
	}

	pub := key.Ed25519()
	for _, v := range values {
		sig, err := decodeSignature(v)
		if err != nil {
			continue
		}
		if ed25519.Verify(pub, body, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignRequest reads the body of r, signs it and sets the signature header.
// The body is restored so r can still be sent.
func SignRequest(r *http.Request, signer Signer) error {
	body, err := readBody(r.Body, -1)
	if err != nil {
		return err
	}
	r.Header.Set(SignatureHeader, EncodeSignature(signer.Sign(body)))
	setBody(r, body)
	return nil
}

// EncodeSignature returns the header form of a raw signature.
func EncodeSignature(sig []byte) string {
	return base64.URLEncoding.EncodeToString(sig)
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if sig, err := enc.DecodeString(s); err == nil && len(sig) == ed25519.SignatureSize {
			return sig, nil
		}
	}
	return nil, fmt.Errorf("malformed signature")
}

// readBody drains rc. A negative limit disables the size check.
func readBody(rc io.ReadCloser, limit int64) ([]byte, error) {
	if rc == nil || rc == http.NoBody {
		return nil, nil
	}
	defer rc.Close()

	var reader io.Reader = rc
	if limit >= 0 {
		reader = io.LimitReader(rc, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if limit >= 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}

func setBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}
