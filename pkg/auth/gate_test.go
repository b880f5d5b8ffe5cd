package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/chronicle/pkg/api"
	"github.com/rhuss/chronicle/pkg/directory"
	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/observability"
	"github.com/rhuss/chronicle/pkg/sapient"
	"github.com/rhuss/chronicle/pkg/storage/memory"
	"github.com/rhuss/chronicle/pkg/transport"
)

type fixture struct {
	server   *keys.Keyring
	client   *keys.Keyring
	admin    *keys.Keyring
	dir      *directory.Directory
	verifier *sapient.Verifier
}

const (
	clientID = "client-abc"
	adminID  = "admin-xyz"
	serverID = "server-impostor"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		server:   mustKeyring(t),
		client:   mustKeyring(t),
		admin:    mustKeyring(t),
		verifier: sapient.NewVerifier(0),
	}

	f.dir = directory.New(memory.New())
	require.NoError(t, f.dir.Seed(context.Background(), []*directory.Client{
		{ID: clientID, PublicKey: f.client.ServerPublicKey()},
		{ID: adminID, PublicKey: f.admin.ServerPublicKey(), Admin: true},
		// A misconfigured record registering the server's own key.
		{ID: serverID, PublicKey: f.server.ServerPublicKey(), Admin: true},
	}))
	return f
}

func (f *fixture) gate(opts ...Option) *Gate {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewGate(f.dir, f.server, f.verifier, opts...)
}

func mustKeyring(t *testing.T) *keys.Keyring {
	t.Helper()
	kr, err := keys.GenerateKeyring()
	require.NoError(t, err)
	return kr
}

func signed(t *testing.T, signer *keys.Keyring, id, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/chronicle/publish", strings.NewReader(body))
	if id != "" {
		r.Header.Set(ClientHeader, id)
	}
	require.NoError(t, sapient.SignRequest(r, signer))
	return r
}

// recorder is a next stage that remembers what it saw.
type recorder struct {
	calls int
	req   *http.Request
	out   func(resp *transport.Response) *transport.Response
}

func (n *recorder) Serve(r *http.Request, resp *transport.Response) *transport.Response {
	n.calls++
	n.req = r
	if n.out != nil {
		return n.out(resp)
	}
	return transport.BuildJSON(resp, map[string]string{"ok": "true"}, http.StatusOK)
}

func serve(g *Gate, next transport.Handler, r *http.Request) *transport.Response {
	return g.Middleware()(next).Serve(r, transport.NewResponse())
}

func decodeEnvelope(t *testing.T, resp *transport.Response) api.Envelope {
	t.Helper()
	var env api.Envelope
	require.NoError(t, json.Unmarshal(resp.Body, &env))
	return env
}

func assertRejected(t *testing.T, resp *transport.Response, next *recorder, msg string) {
	t.Helper()
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, api.StatusError, env.Status)
	assert.Equal(t, msg, env.Message)
	assert.Zero(t, next.calls, "next stage must not run for a rejected request")
}

func TestGateMissingHeader(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(), next, signed(t, f.client, "", "body"))

	assertRejected(t, resp, next, MsgNoClientHeader)
}

func TestGateDuplicateHeader(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	r := signed(t, f.client, clientID, "body")
	r.Header.Add(ClientHeader, clientID)

	resp := serve(f.gate(), next, r)

	assertRejected(t, resp, next, MsgDuplicateHeader)
}

func TestGateDuplicateHeaderWithDifferentValues(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	r := signed(t, f.client, clientID, "body")
	r.Header.Add(ClientHeader, adminID)

	resp := serve(f.gate(), next, r)

	assertRejected(t, resp, next, MsgDuplicateHeader)
}

func TestGateUnknownClient(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(), next, signed(t, f.client, "nobody", "body"))

	assertRejected(t, resp, next, MsgClientNotFound)
}

func TestGateClientIDIsByteExact(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{" " + clientID, clientID + " ", strings.ToUpper(clientID), ""} {
		t.Run(id, func(t *testing.T) {
			next := &recorder{}
			r := signed(t, f.client, "", "body")
			r.Header.Set(ClientHeader, id)

			resp := serve(f.gate(), next, r)

			assertRejected(t, resp, next, MsgClientNotFound)
		})
	}
}

func TestGateAdminScopeRejectsNonAdmin(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(WithScope(directory.ScopeAdmin)), next, signed(t, f.client, clientID, "body"))

	assertRejected(t, resp, next, MsgClientNotFound)
}

func TestGateAdminScopeAcceptsAdmin(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(WithScope(directory.ScopeAdmin)), next, signed(t, f.admin, adminID, "body"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, next.calls)
}

func TestGateScopesDifferOnlyInAdmission(t *testing.T) {
	f := newFixture(t)
	clientGate := f.gate()
	adminGate := f.gate(WithScope(directory.ScopeAdmin))

	// Admins pass both gates.
	for _, g := range []*Gate{clientGate, adminGate} {
		next := &recorder{}
		resp := serve(g, next, signed(t, f.admin, adminID, "body"))
		assert.Equal(t, http.StatusOK, resp.StatusCode, "scope %s", g.Scope())
	}

	// Bad signatures fail both gates the same way.
	for _, g := range []*Gate{clientGate, adminGate} {
		next := &recorder{}
		r := signed(t, f.client, adminID, "body")
		resp := serve(g, next, r)
		assertRejected(t, resp, next, MsgInvalidSignature)
	}
}

func TestGateTamperedBody(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	r := signed(t, f.client, clientID, `{"amount":1}`)
	r.Body = io.NopCloser(strings.NewReader(`{"amount":1000}`))

	resp := serve(f.gate(), next, r)

	assertRejected(t, resp, next, MsgInvalidSignature)
}

func TestGateMissingSignature(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("body"))
	r.Header.Set(ClientHeader, clientID)

	resp := serve(f.gate(), next, r)

	assertRejected(t, resp, next, MsgInvalidSignature)
}

func TestGateSignedByAnotherClient(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(), next, signed(t, f.admin, clientID, "body"))

	assertRejected(t, resp, next, MsgInvalidSignature)
}

func TestGateServerKeyMisuse(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(), next, signed(t, f.server, serverID, "body"))

	assertRejected(t, resp, next, MsgServerKeyMisuse)
}

func TestGateServerKeyMisuseInAdminScope(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	resp := serve(f.gate(WithScope(directory.ScopeAdmin)), next, signed(t, f.server, serverID, "body"))

	assertRejected(t, resp, next, MsgServerKeyMisuse)
}

func TestGateValidRequest(t *testing.T) {
	f := newFixture(t)
	next := &recorder{}

	r := signed(t, f.client, clientID, `{"message":"hi"}`)
	resp := serve(f.gate(), next, r)

	require.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.StatusOK, decodeEnvelope(t, resp).Status)

	assert.True(t, Authenticated(next.req.Context()))
	key, ok := PublicKeyFromContext(next.req.Context())
	require.True(t, ok)
	assert.True(t, key.Equal(f.client.ServerPublicKey()))

	body, err := io.ReadAll(next.req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"hi"}`, string(body), "next stage must see the full body")

	// The inbound request value is left untouched.
	assert.False(t, Authenticated(r.Context()))
	_, ok = PublicKeyFromContext(r.Context())
	assert.False(t, ok)
}

func TestGateReturnsNextResponse(t *testing.T) {
	f := newFixture(t)
	next := &recorder{out: func(resp *transport.Response) *transport.Response {
		out := resp.Clone()
		out.StatusCode = http.StatusCreated
		out.Body = []byte("created")
		return out
	}}

	resp := serve(f.gate(), next, signed(t, f.client, clientID, "body"))

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", string(resp.Body))
}

func TestGateReturnsOriginalWhenNextYieldsNothing(t *testing.T) {
	f := newFixture(t)

	for name, out := range map[string]func(*transport.Response) *transport.Response{
		"nil":       func(*transport.Response) *transport.Response { return nil },
		"no header": func(*transport.Response) *transport.Response { return &transport.Response{StatusCode: 200} },
		"no status": func(*transport.Response) *transport.Response { return &transport.Response{Header: http.Header{}} },
	} {
		t.Run(name, func(t *testing.T) {
			next := &recorder{out: out}
			orig := transport.NewResponse()
			orig.Header.Set("X-Original", "1")

			resp := f.gate().Middleware()(next).Serve(signed(t, f.client, clientID, "body"), orig)

			assert.Same(t, orig, resp)
			assert.Equal(t, 1, next.calls)
		})
	}
}

func TestGateRejectionLeavesOriginalResponseUntouched(t *testing.T) {
	f := newFixture(t)
	orig := transport.NewResponse()
	orig.Header.Set("X-Original", "1")

	resp := f.gate().Middleware()(&recorder{}).Serve(signed(t, f.client, "", "body"), orig)

	assert.NotSame(t, orig, resp)
	assert.Equal(t, http.StatusOK, orig.StatusCode)
	assert.Empty(t, orig.Body)
	assert.Equal(t, "1", resp.Header.Get("X-Original"))
}

func TestGateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	g := f.gate()
	r := signed(t, f.client, clientID, "same body")

	first, err := g.Authenticate(r)
	require.NoError(t, err)

	// Verifying the already verified request yields the same attributes.
	second, err := g.Authenticate(first)
	require.NoError(t, err)

	k1, _ := PublicKeyFromContext(first.Context())
	k2, _ := PublicKeyFromContext(second.Context())
	assert.True(t, k1.Equal(k2))
	assert.True(t, Authenticated(second.Context()))

	// The original can be verified again too; its body was not consumed.
	third, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.True(t, Authenticated(third.Context()))
}

func TestGateLeavesInboundRequestUnattributed(t *testing.T) {
	f := newFixture(t)
	g := f.gate()
	r := signed(t, f.client, clientID, "payload")
	ctx := r.Context()
	sig := r.Header.Get(sapient.SignatureHeader)

	verified, err := g.Authenticate(r)
	require.NoError(t, err)
	require.NotSame(t, r, verified)

	assert.Equal(t, ctx, r.Context(), "inbound context must not be replaced")
	assert.False(t, Authenticated(r.Context()))
	_, ok := PublicKeyFromContext(r.Context())
	assert.False(t, ok)
	assert.Equal(t, clientID, r.Header.Get(ClientHeader))
	assert.Equal(t, sig, r.Header.Get(sapient.SignatureHeader))

	// The inbound body still yields the signed bytes.
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int64(len("payload")), r.ContentLength)
}

func TestGateConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	gates := map[directory.Scope]*Gate{
		directory.ScopeClient: f.gate(WithScope(directory.ScopeClient)),
		directory.ScopeAdmin:  f.gate(WithScope(directory.ScopeAdmin)),
	}

	// next echoes the verified key so each response can be matched to its caller.
	var served atomic.Int64
	next := transport.HandlerFunc(func(r *http.Request, resp *transport.Response) *transport.Response {
		served.Add(1)
		key, ok := PublicKeyFromContext(r.Context())
		if !ok || !Authenticated(r.Context()) {
			return transport.BuildError(resp, "unauthenticated request reached next", http.StatusInternalServerError)
		}
		return transport.BuildJSON(resp, key.String(), http.StatusOK)
	})

	type call struct {
		scope   directory.Scope
		req     *http.Request
		status  int
		message string
		key     keys.PublicKey
	}

	tampered := signed(t, f.client, clientID, "original")
	tampered.Body = io.NopCloser(strings.NewReader("altered"))

	templates := []call{
		{scope: directory.ScopeClient, req: signed(t, f.client, clientID, "c"), status: http.StatusOK, key: f.client.ServerPublicKey()},
		{scope: directory.ScopeClient, req: signed(t, f.admin, adminID, "a"), status: http.StatusOK, key: f.admin.ServerPublicKey()},
		{scope: directory.ScopeAdmin, req: signed(t, f.admin, adminID, "a"), status: http.StatusOK, key: f.admin.ServerPublicKey()},
		{scope: directory.ScopeAdmin, req: signed(t, f.client, clientID, "c"), status: http.StatusForbidden, message: MsgClientNotFound},
		{scope: directory.ScopeClient, req: signed(t, f.client, "", "c"), status: http.StatusForbidden, message: MsgNoClientHeader},
		{scope: directory.ScopeClient, req: signed(t, f.server, serverID, "s"), status: http.StatusForbidden, message: MsgServerKeyMisuse},
		{scope: directory.ScopeClient, req: tampered, status: http.StatusForbidden, message: MsgInvalidSignature},
	}

	// Each goroutine gets its own request with its own body reader.
	const rounds = 20
	calls := make([]call, 0, rounds*len(templates))
	for i := 0; i < rounds; i++ {
		for _, tc := range templates {
			body, err := io.ReadAll(tc.req.Body)
			require.NoError(t, err)
			tc.req.Body = io.NopCloser(bytes.NewReader(body))

			r := tc.req.Clone(context.Background())
			r.Body = io.NopCloser(bytes.NewReader(body))
			tc.req = r
			calls = append(calls, tc)
		}
	}

	results := make([]*transport.Response, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = serve(gates[calls[i].scope], next, calls[i].req)
		}(i)
	}
	wg.Wait()

	var accepted int64
	for i, c := range calls {
		resp := results[i]
		require.NotNil(t, resp)
		require.Equal(t, c.status, resp.StatusCode, "call %d (%s)", i, c.scope)
		env := decodeEnvelope(t, resp)
		if c.status == http.StatusOK {
			accepted++
			assert.Equal(t, c.key.String(), env.Results, "call %d got another caller's key", i)
		} else {
			assert.Equal(t, c.message, env.Message, "call %d", i)
		}
	}
	assert.Equal(t, accepted, served.Load(), "only accepted requests reach next")
}

func TestGateRecordsMetrics(t *testing.T) {
	f := newFixture(t)
	g := f.gate(WithScope(directory.ScopeAdmin))

	accepted := observability.GateDecisionsTotal.WithLabelValues("admin", "accepted")
	misuse := observability.GateDecisionsTotal.WithLabelValues("admin", KindServerKeyMisuse.String())
	beforeAccepted := testutil.ToFloat64(accepted)
	beforeMisuse := testutil.ToFloat64(misuse)

	serve(g, &recorder{}, signed(t, f.admin, adminID, "body"))
	serve(g, &recorder{}, signed(t, f.server, serverID, "body"))

	assert.Equal(t, beforeAccepted+1, testutil.ToFloat64(accepted))
	assert.Equal(t, beforeMisuse+1, testutil.ToFloat64(misuse))
}

func TestGateLogsRejection(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	g := NewGate(f.dir, f.server, f.verifier, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	serve(g, &recorder{}, signed(t, f.client, "nobody", "body"))

	out := buf.String()
	assert.Contains(t, out, "request rejected")
	assert.Contains(t, out, `"kind":"client_not_found"`)
	assert.Contains(t, out, `"client_id":"nobody"`)
}
