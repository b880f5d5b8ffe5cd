// Package postgres provides a PostgreSQL implementation of storage.ClientStore.
// It uses pgx/v5 for connection pooling. Each instance lives in its own
// chronicle_<prefix>_clients table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/storage"
)

// Store is a PostgreSQL-backed ClientStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.ClientStore at compile time.
var _ storage.ClientStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx, cfg.Prefixes); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

func table(ctx context.Context) string {
	return pgx.Identifier{storage.TableName(ctx, "clients")}.Sanitize()
}

// SaveClient registers a client in the instance table selected by ctx.
func (s *Store) SaveClient(ctx context.Context, c *storage.Client) error {
	created := c.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		"INSERT INTO "+table(ctx)+" (publicid, publickey, isadmin, comment, created) VALUES ($1, $2, $3, $4, $5)",
		c.ID, c.PublicKey.String(), c.Admin, c.Comment, created,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by public ID.
func (s *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT publicid, publickey, isadmin, comment, created FROM "+table(ctx)+" WHERE publicid = $1",
		id,
	)

	c, err := scanClient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}
	return c, nil
}

// ListClients returns all clients of the instance, oldest first.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT publicid, publickey, isadmin, comment, created FROM "+table(ctx)+" ORDER BY created, publicid",
	)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanClient(row pgx.Row) (*storage.Client, error) {
	var (
		c      storage.Client
		rawKey string
	)
	if err := row.Scan(&c.ID, &rawKey, &c.Admin, &c.Comment, &c.Created); err != nil {
		return nil, err
	}

	key, err := keys.ParsePublicKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("client %q: %w", c.ID, err)
	}
	c.PublicKey = key
	return &c, nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
