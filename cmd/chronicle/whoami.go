package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/textproto"

	"github.com/rhuss/chronicle/pkg/auth"
	"github.com/rhuss/chronicle/pkg/directory"
	"github.com/rhuss/chronicle/pkg/transport"
)

// identity is the result body of the whoami endpoints.
type identity struct {
	ClientID      string `json:"client_id"`
	PublicKey     string `json:"public_key"`
	Fingerprint   string `json:"fingerprint"`
	Scope         string `json:"scope"`
	Admin         bool   `json:"admin"`
	Authenticated bool   `json:"authenticated"`
}

// clientLookup returns the directory record of a client.
type clientLookup interface {
	Lookup(ctx context.Context, clientID string) (*directory.Client, error)
}

// whoami echoes the identity the gate in front of it verified. Scope names
// the gate; Admin is the flag on the client's own record. It runs only
// behind a gate, which guarantees a single client header.
func whoami(dir clientLookup, scope directory.Scope) transport.Handler {
	return transport.HandlerFunc(func(r *http.Request, resp *transport.Response) *transport.Response {
		key, ok := auth.PublicKeyFromContext(r.Context())
		if !ok || !auth.Authenticated(r.Context()) {
			return transport.BuildError(resp, auth.MsgInvalidSignature, http.StatusForbidden)
		}

		var clientID string
		if v := r.Header[textproto.CanonicalMIMEHeaderKey(auth.ClientHeader)]; len(v) == 1 {
			clientID = v[0]
		}

		c, err := dir.Lookup(r.Context(), clientID)
		if err != nil || !c.PublicKey.Equal(key) {
			slog.Warn("whoami lookup disagrees with gate", "client_id", clientID, "error", err)
			return transport.BuildError(resp, auth.MsgClientNotFound, http.StatusForbidden)
		}

		return transport.BuildJSON(resp, identity{
			ClientID:      clientID,
			PublicKey:     key.String(),
			Fingerprint:   key.Fingerprint(),
			Scope:         scope.String(),
			Admin:         c.Admin,
			Authenticated: true,
		}, http.StatusOK)
	})
}
