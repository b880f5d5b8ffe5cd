package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/chronicle/pkg/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one embedded schema step. Statements use {{table}} and
// {{index}} placeholders so the same step can be applied to every instance.
type migration struct {
	version int
	name    string
	sql     string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// Extract version from filename (e.g., "001_create_clients.sql" -> 1).
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{version: version, name: entry.Name(), sql: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// render fills the placeholders for the given table prefix.
func (m migration) render(prefix string) string {
	table := storage.PrefixedTableName(prefix, "clients")
	return strings.NewReplacer(
		"{{table}}", pgx.Identifier{table}.Sanitize(),
		"{{index}}", "idx_"+table,
	).Replace(m.sql)
}

// migrate applies pending schema migrations for the default tables and every
// configured prefix. Applied versions are tracked per prefix in
// chronicle_schema_migrations.
func (s *Store) migrate(ctx context.Context, prefixes []string) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chronicle_schema_migrations (
			prefix  TEXT NOT NULL,
			version INTEGER NOT NULL,
			PRIMARY KEY (prefix, version)
		)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, prefix := range append([]string{""}, prefixes...) {
		if prefix != "" && !storage.ValidInstanceName(prefix) {
			return fmt.Errorf("invalid instance prefix %q", prefix)
		}

		for _, m := range migrations {
			var exists bool
			if err := s.pool.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM chronicle_schema_migrations WHERE prefix = $1 AND version = $2)",
				prefix, m.version,
			).Scan(&exists); err != nil {
				return fmt.Errorf("checking migration %s: %w", m.name, err)
			}
			if exists {
				continue
			}

			slog.Info("applying migration", "file", m.name, "version", m.version, "prefix", prefix)

			if _, err := s.pool.Exec(ctx, m.render(prefix)); err != nil {
				return fmt.Errorf("applying migration %s: %w", m.name, err)
			}

			if _, err := s.pool.Exec(ctx,
				"INSERT INTO chronicle_schema_migrations (prefix, version) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				prefix, m.version,
			); err != nil {
				return fmt.Errorf("recording migration %s: %w", m.name, err)
			}
		}
	}

	return nil
}
