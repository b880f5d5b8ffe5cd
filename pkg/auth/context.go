package auth

import (
	"context"

	"github.com/rhuss/chronicle/pkg/keys"
)

// authenticatedKey and publicKeyKey are private context key types.
type (
	authenticatedKey struct{}
	publicKeyKey     struct{}
)

// withVerified attaches the verified-identity attributes. It must only be
// called after the signature and the server key guard have both passed.
func withVerified(ctx context.Context, key keys.PublicKey) context.Context {
	ctx = context.WithValue(ctx, authenticatedKey{}, true)
	return context.WithValue(ctx, publicKeyKey{}, key)
}

// Authenticated reports whether the request passed the signature gate.
func Authenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authenticatedKey{}).(bool)
	return v
}

// PublicKeyFromContext returns the verified client key.
// The boolean is false if the request was not authenticated.
func PublicKeyFromContext(ctx context.Context) (keys.PublicKey, bool) {
	k, ok := ctx.Value(publicKeyKey{}).(keys.PublicKey)
	return k, ok && !k.IsZero()
}
