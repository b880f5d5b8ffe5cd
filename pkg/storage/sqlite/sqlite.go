// Package sqlite provides a SQLite implementation of storage.ClientStore
// using the pure Go modernc.org/sqlite driver. It suits single-node
// deployments that want clients to survive restarts without a database
// server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/storage"
)

const maxBusyTimeoutMs = 5000

// createdLayout is fixed width so that text order equals time order.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Config holds SQLite settings.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string

	// MigrateOnStart creates the clients tables if they do not exist.
	MigrateOnStart bool

	// Prefixes lists the instance table prefixes to create in addition to
	// the default table.
	Prefixes []string
}

// Store is a SQLite-backed ClientStore.
type Store struct {
	db *sql.DB
}

// Ensure Store implements storage.ClientStore at compile time.
var _ storage.ClientStore = (*Store)(nil)

// New opens (or creates) the database at cfg.Path.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+filepath.Clean(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}

	if cfg.MigrateOnStart {
		if err := s.ensureSchema(ctx, cfg.Prefixes); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context, prefixes []string) error {
	for _, prefix := range append([]string{""}, prefixes...) {
		if prefix != "" && !storage.ValidInstanceName(prefix) {
			return fmt.Errorf("invalid instance prefix %q", prefix)
		}
		table := storage.PrefixedTableName(prefix, "clients")

		if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+quote(table)+` (
			publicid TEXT PRIMARY KEY,
			publickey TEXT NOT NULL,
			isadmin INTEGER NOT NULL DEFAULT 0,
			comment TEXT NOT NULL DEFAULT '',
			created TEXT NOT NULL
		)`); err != nil {
			return fmt.Errorf("create %s table: %w", table, err)
		}
	}
	return nil
}

// quote returns an SQL identifier. Table names only ever contain
// [A-Za-z0-9_], so no escaping is needed beyond the quotes.
func quote(name string) string {
	return `"` + name + `"`
}

func table(ctx context.Context) string {
	return quote(storage.TableName(ctx, "clients"))
}

// SaveClient registers a client in the instance table selected by ctx.
func (s *Store) SaveClient(ctx context.Context, c *storage.Client) error {
	created := c.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+table(ctx)+" (publicid, publickey, isadmin, comment, created) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.PublicKey.String(), c.Admin, c.Comment, created.UTC().Format(createdLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by public ID.
func (s *Store) GetClient(ctx context.Context, id string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT publicid, publickey, isadmin, comment, created FROM "+table(ctx)+" WHERE publicid = ?",
		id,
	)

	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}
	return c, nil
}

// ListClients returns all clients of the instance, oldest first.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx,
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
	return s.db.PingContext(ctx)
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*storage.Client, error) {
	var (
		c       storage.Client
		rawKey  string
		created string
	)
	if err := row.Scan(&c.ID, &rawKey, &c.Admin, &c.Comment, &created); err != nil {
		return nil, err
	}

	key, err := keys.ParsePublicKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("client %q: %w", c.ID, err)
	}
	c.PublicKey = key

	c.Created, err = time.Parse(createdLayout, created)
	if err != nil {
		// Rows written before the fixed-width layout.
		c.Created, err = time.Parse(time.RFC3339Nano, created)
	}
	if err != nil {
		return nil, fmt.Errorf("client %q: parsing created: %w", c.ID, err)
	}
	return &c, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
