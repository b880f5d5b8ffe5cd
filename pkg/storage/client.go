package storage

import (
	"context"
	"time"

	"github.com/rhuss/chronicle/pkg/keys"
)

// Client is a registered identity: a public identifier bound to the Ed25519
// key the client signs requests with.
type Client struct {
	ID        string
	PublicKey keys.PublicKey
	Admin     bool
	Comment   string
	Created   time.Time
}

// Clone returns a copy of the record. PublicKey is immutable and shared.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ClientStore persists client records. All methods are scoped to the
// instance carried by ctx (see SetInstance).
type ClientStore interface {
	// GetClient returns the client with the given public ID, or ErrNotFound.
	GetClient(ctx context.Context, id string) (*Client, error)

	// SaveClient registers a new client. ErrConflict if the ID is taken.
	SaveClient(ctx context.Context, c *Client) error

	// ListClients returns all clients ordered by creation time.
	ListClients(ctx context.Context) ([]*Client, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
