// Package directory resolves client identifiers to public keys. It sits in
// front of a storage.ClientStore, applies the admin/client scope and
// optionally caches records.
package directory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/chronicle/pkg/debug"
	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/observability"
	"github.com/rhuss/chronicle/pkg/storage"
)

// Client is the identity record held by the directory.
type Client = storage.Client

// ErrClientNotFound is returned when no client with the identifier exists in
// the requested scope.
var ErrClientNotFound = errors.New("client not found")

// Scope restricts which identities a lookup may return.
type Scope int

const (
	// ScopeClient admits every registered client.
	ScopeClient Scope = iota
	// ScopeAdmin admits only clients flagged as administrators.
	ScopeAdmin
)

// String returns the scope name used in logs and metrics.
func (s Scope) String() string {
	switch s {
	case ScopeAdmin:
		return "admin"
	case ScopeClient:
		return "client"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Permits reports whether c is visible in the scope. Unknown scopes admit
// nobody.
func (s Scope) Permits(c *Client) bool {
	if c == nil {
		return false
	}
	switch s {
	case ScopeClient:
		return true
	case ScopeAdmin:
		return c.Admin
	default:
		return false
	}
}

// Directory resolves and registers clients.
type Directory struct {
	store    storage.ClientStore
	cache    Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithCache enables caching of client records for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(d *Directory) {
		d.cache = c
		d.cacheTTL = ttl
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// New creates a Directory backed by store.
func New(store storage.ClientStore, opts ...Option) *Directory {
	d := &Directory{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve returns the public key of the client with the given identifier if
// it is visible in scope. The identifier is matched byte-exact. A client that
// exists but is outside the scope is reported as ErrClientNotFound.
func (d *Directory) Resolve(ctx context.Context, clientID string, scope Scope) (keys.PublicKey, error) {
	c, err := d.Lookup(ctx, clientID)
	if err != nil {
		return keys.PublicKey{}, err
	}
	if !scope.Permits(c) {
		return keys.PublicKey{}, ErrClientNotFound
	}
	if c.PublicKey.IsZero() {
		return keys.PublicKey{}, fmt.Errorf("client %q has no public key", clientID)
	}
	return c.PublicKey, nil
}

// Lookup returns the client record regardless of scope.
func (d *Directory) Lookup(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	key := cacheKey(ctx, clientID)
	if d.cache != nil {
		if c, ok := d.cached(ctx, key); ok {
			observability.DirectoryLookupsTotal.WithLabelValues("cache_hit").Inc()
			debug.Log(debug.Directory, "cache hit", "key", key)
			return c, nil
		}
	}

	debug.Log(debug.Directory, "store lookup", "key", key)
	c, err := d.store.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.DirectoryLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrClientNotFound
	}
	if err != nil {
		observability.DirectoryLookupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("looking up client: %w", err)
	}
	observability.DirectoryLookupsTotal.WithLabelValues("found").Inc()

	if d.cache != nil {
		if data, err := encodeClient(c); err == nil {
			if err := d.cache.Set(ctx, key, data, d.cacheTTL); err != nil {
				d.logger.Warn("directory cache write failed", "error", err)
			}
		}
	}
	return c, nil
}

func (d *Directory) cached(ctx context.Context, key string) (*Client, bool) {
	data, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("directory cache read failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c, err := decodeClient(data)
	if err != nil {
		d.logger.Warn("discarding undecodable cache entry", "error", err)
		return nil, false
	}
	return c, true
}

// Register stores a new client with a freshly generated identifier.
func (d *Directory) Register(ctx context.Context, publicKey keys.PublicKey, admin bool, comment string) (*Client, error) {
	if publicKey.IsZero() {
		return nil, keys.ErrInvalidKey
	}

	id, err := NewClientID()
	if err != nil {
		return nil, err
	}

	c := &Client{
		ID:        id,
		PublicKey: publicKey,
		Admin:     admin,
		Comment:   comment,
		Created:   time.Now().UTC(),
	}
	if err := d.store.SaveClient(ctx, c); err != nil {
		return nil, fmt.Errorf("registering client: %w", err)
	}
	return c, nil
}

// Seed registers fixed clients, typically from configuration. Clients whose
// identifier already exists are left untouched.
func (d *Directory) Seed(ctx context.Context, clients []*Client) error {
	for _, c := range clients {
		err := d.store.SaveClient(ctx, c)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding client %q: %w", c.ID, err)
		}
		d.logger.Info("seeded client", "client_id", c.ID, "admin", c.Admin, "fingerprint", c.PublicKey.Fingerprint())
	}
	return nil
}

// List returns all clients of the instance in ctx.
func (d *Directory) List(ctx context.Context) ([]*Client, error) {
	return d.store.ListClients(ctx)
}

// HealthCheck verifies the backing store is reachable.
func (d *Directory) HealthCheck(ctx context.Context) error {
	return d.store.HealthCheck(ctx)
}

// Close releases the store and the cache.
func (d *Directory) Close() error {
	var errs []error
	if d.cache != nil {
		errs = append(errs, d.cache.Close())
	}
	errs = append(errs, d.store.Close())
	return errors.Join(errs...)
}

// NewClientID returns a random, URL-safe client identifier.
func NewClientID() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating client id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
