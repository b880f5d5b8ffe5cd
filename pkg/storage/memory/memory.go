// Package memory provides an in-memory implementation of storage.ClientStore
// for tests and single-process deployments. Clients are kept per instance and
// lost when the process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/chronicle/pkg/storage"
)

// Store is an in-memory ClientStore.
type Store struct {
	mu        sync.RWMutex
	instances map[string]map[string]*storage.Client // prefix -> public ID -> client
}

// Ensure Store implements storage.ClientStore at compile time.
var _ storage.ClientStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{instances: make(map[string]map[string]*storage.Client)}
}

// SaveClient registers a client in the instance selected by ctx.
func (s *Store) SaveClient(ctx context.Context, c *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := storage.GetInstance(ctx)
	clients, ok := s.instances[prefix]
	if !ok {
		clients = make(map[string]*storage.Client)
		s.instances[prefix] = clients
	}

	if _, exists := clients[c.ID]; exists {
		return storage.ErrConflict
	}

	stored := c.Clone()
	if stored.Created.IsZero() {
		stored.Created = time.Now().UTC()
	}
	clients[c.ID] = stored
	return nil
}

// GetClient returns a copy of the client, or storage.ErrNotFound.
func (s *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.instances[storage.GetInstance(ctx)][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// ListClients returns copies of all clients in the instance, oldest first.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := s.instances[storage.GetInstance(ctx)]
	out := make([]*storage.Client, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
