package auth

import (
	"errors"
	"net/http"

	"github.com/rhuss/chronicle/pkg/transport"
)

// Kind classifies a gate rejection.
type Kind int

const (
	// KindClientNotFound: header missing or identifier not resolvable.
	KindClientNotFound Kind = iota + 1
	// KindSecurityViolation: header supplied more than once.
	KindSecurityViolation
	// KindSignatureInvalid: signature verification failed for any reason.
	KindSignatureInvalid
	// KindServerKeyMisuse: the client key is the server's own key.
	KindServerKeyMisuse
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindClientNotFound:
		return "client_not_found"
	case KindSecurityViolation:
		return "security_violation"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindServerKeyMisuse:
		return "server_key_misuse"
	default:
		return "unknown"
	}
}

// Messages returned to callers.
const (
	MsgNoClientHeader   = "No client header provided"
	MsgDuplicateHeader  = "Only one client header may be provided"
	MsgClientNotFound   = "Client not found"
	MsgInvalidSignature = "Invalid signature"
	MsgServerKeyMisuse  = "The server's signing keys cannot be used by clients."
)

// RejectionError is returned by the gate's steps. Message is safe to show
// the caller; Err is the underlying cause and is only logged.
type RejectionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

func rejection(kind Kind, msg string, cause error) *RejectionError {
	return &RejectionError{Kind: kind, Message: msg, Err: cause}
}

// kindOf classifies err. Errors that are not rejections count as invalid
// signatures.
func kindOf(err error) Kind {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindSignatureInvalid
}

// reject is the only place a gate failure becomes a response.
func reject(resp *transport.Response, err error) *transport.Response {
	msg := MsgInvalidSignature
	var re *RejectionError
	if errors.As(err, &re) && re.Message != "" {
		msg = re.Message
	}
	return transport.BuildError(resp, msg, http.StatusForbidden)
}
