package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/textproto"

	"github.com/rhuss/chronicle/pkg/debug"
	"github.com/rhuss/chronicle/pkg/directory"
	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/observability"
	"github.com/rhuss/chronicle/pkg/transport"
)

// ClientHeader names the client identifier header.
const ClientHeader = "Chronicle-Client-Key-ID"

var clientHeaderKey = textproto.CanonicalMIMEHeaderKey(ClientHeader)

// Directory resolves a client identifier to a public key within a scope.
// Unknown identifiers are reported as directory.ErrClientNotFound.
type Directory interface {
	Resolve(ctx context.Context, clientID string, scope directory.Scope) (keys.PublicKey, error)
}

// ServerKeys exposes the server's own public signing key.
type ServerKeys interface {
	ServerPublicKey() keys.PublicKey
}

// RequestVerifier checks the detached signature of a request. On success
// it returns the request to continue with.
type RequestVerifier interface {
	VerifyRequest(r *http.Request, key keys.PublicKey) (*http.Request, error)
}

// Gate verifies signed requests. The zero value is not usable; use NewGate.
type Gate struct {
	directory Directory
	server    ServerKeys
	verifier  RequestVerifier
	scope     directory.Scope
	logger    *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithScope selects which identities the gate admits. The default is
// directory.ScopeClient.
func WithScope(s directory.Scope) Option {
	return func(g *Gate) { g.scope = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate from its collaborators.
func NewGate(dir Directory, server ServerKeys, verifier RequestVerifier, opts ...Option) *Gate {
	g := &Gate{
		directory: dir,
		server:    server,
		verifier:  verifier,
		scope:     directory.ScopeClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Scope returns the directory scope the gate resolves in.
func (g *Gate) Scope() directory.Scope {
	return g.scope
}

// ClientID returns the value of the single client header, unchanged.
func (g *Gate) ClientID(r *http.Request) (string, error) {
	values := r.Header[clientHeaderKey]
	switch len(values) {
	case 0:
		return "", rejection(KindClientNotFound, MsgNoClientHeader, nil)
	case 1:
		debug.Log(debug.Gate, "client header", "client_id", values[0], "scope", g.scope.String())
		return values[0], nil
	default:
		return "", rejection(KindSecurityViolation, MsgDuplicateHeader,
			fmt.Errorf("%d client headers", len(values)))
	}
}

// PublicKey resolves clientID in the gate's scope. Every failure, including
// backend errors, is a ClientNotFound rejection.
func (g *Gate) PublicKey(ctx context.Context, clientID string) (keys.PublicKey, error) {
	key, err := g.directory.Resolve(ctx, clientID, g.scope)
	if err != nil {
		if !errors.Is(err, directory.ErrClientNotFound) {
			g.logger.Error("directory lookup failed",
				"client_id", clientID,
				"scope", g.scope.String(),
				"error", err,
			)
		}
		return keys.PublicKey{}, rejection(KindClientNotFound, MsgClientNotFound, err)
	}
	if key.IsZero() {
		return keys.PublicKey{}, rejection(KindClientNotFound, MsgClientNotFound,
			errors.New("directory returned an empty key"))
	}
	return key, nil
}

// Verify checks the signature of r under key, refuses the server's own key
// and returns a new request carrying the verified attributes. Reading the
// body drains r.Body, so the verifier swaps in a buffered reader over the
// same bytes; the context and headers of r are left alone and r never
// carries the verified attributes.
func (g *Gate) Verify(r *http.Request, key keys.PublicKey) (out *http.Request, err error) {
	if r == nil {
		return nil, rejection(KindSignatureInvalid, MsgInvalidSignature, errors.New("nil request"))
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = rejection(KindSignatureInvalid, MsgInvalidSignature, fmt.Errorf("verifier panic: %v", rec))
		}
	}()

	verified, verr := g.verifier.VerifyRequest(r, key)
	if verr != nil {
		return nil, rejection(KindSignatureInvalid, MsgInvalidSignature, verr)
	}
	if verified == nil {
		return nil, rejection(KindSignatureInvalid, MsgInvalidSignature, errors.New("verifier returned no request"))
	}

	if key.Equal(g.server.ServerPublicKey()) {
		return nil, rejection(KindServerKeyMisuse, MsgServerKeyMisuse, nil)
	}

	return verified.WithContext(withVerified(verified.Context(), key)), nil
}

// Authenticate runs every check and returns the verified request.
func (g *Gate) Authenticate(r *http.Request) (*http.Request, error) {
	if r == nil {
		return nil, rejection(KindSignatureInvalid, MsgInvalidSignature, errors.New("nil request"))
	}

	clientID, err := g.ClientID(r)
	if err != nil {
		return nil, err
	}

	key, err := g.PublicKey(r.Context(), clientID)
	if err != nil {
		return nil, err
	}

	return g.Verify(r, key)
}

// Middleware returns the gate as a pipeline stage. Rejected requests never
// reach next.
func (g *Gate) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(r *http.Request, resp *transport.Response) *transport.Response {
			verified, err := g.Authenticate(r)
			if err != nil {
				kind := kindOf(err)
				observability.GateDecisionsTotal.WithLabelValues(g.scope.String(), kind.String()).Inc()
				g.logRejection(r, kind, err)
				return reject(resp, err)
			}

			observability.GateDecisionsTotal.WithLabelValues(g.scope.String(), "accepted").Inc()
			if key, ok := PublicKeyFromContext(verified.Context()); ok {
				g.logger.Debug("signature verified",
					"path", r.URL.Path,
					"scope", g.scope.String(),
					"fingerprint", key.Fingerprint(),
				)
			}

			return transport.Reconcile(next.Serve(verified, resp), resp)
		})
	}
}

func (g *Gate) logRejection(r *http.Request, kind Kind, err error) {
	attrs := []any{
		"kind", kind.String(),
		"scope", g.scope.String(),
		"error", err,
	}
	if r != nil {
		attrs = append(attrs,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", transport.RequestIDFromContext(r.Context()),
		)
		if ids := r.Header[clientHeaderKey]; len(ids) == 1 {
			attrs = append(attrs, "client_id", ids[0])
		}
	}
	g.logger.Warn("request rejected", attrs...)
}
