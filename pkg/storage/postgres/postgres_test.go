package postgres

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman when no Docker host is set.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("chronicle_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
		Prefixes:       []string{"qa"},
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeTestClient(t *testing.T, id string) *storage.Client {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := keys.PublicKeyFromBytes(pub)
	if err != nil {
		t.Fatal(err)
	}
	return &storage.Client{
		ID:        id,
		PublicKey: key,
		Comment:   "integration",
		Created:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := makeTestClient(t, fmt.Sprintf("client_%d", time.Now().UnixNano()))
	c.Admin = true
	if err := store.SaveClient(ctx, c); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := store.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}

	if got.ID != c.ID {
		t.Errorf("ID = %q, want %q", got.ID, c.ID)
	}
	if !got.PublicKey.Equal(c.PublicKey) {
		t.Error("PublicKey does not round trip")
	}
	if !got.Admin {
		t.Error("Admin flag lost")
	}
	if got.Comment != "integration" {
		t.Errorf("Comment = %q", got.Comment)
	}
	if !got.Created.Equal(c.Created) {
		t.Errorf("Created = %v, want %v", got.Created, c.Created)
	}
}

func TestPostgres_NotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetClient(context.Background(), "does-not-exist")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_Duplicate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	c := makeTestClient(t, "dup_client")
	if err := store.SaveClient(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveClient(ctx, makeTestClient(t, "dup_client")); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestPostgres_List(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first := makeTestClient(t, "list_a")
	second := makeTestClient(t, "list_b")
	second.Created = first.Created.Add(time.Second)

	for _, c := range []*storage.Client{second, first} {
		if err := store.SaveClient(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	list, err := store.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(list) < 2 || list[0].ID != "list_a" || list[1].ID != "list_b" {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestPostgres_InstanceIsolation(t *testing.T) {
	store := setupTestDB(t)

	qa := storage.SetInstance(context.Background(), "qa")
	c := makeTestClient(t, "instance_client")

	if err := store.SaveClient(qa, c); err != nil {
		t.Fatalf("SaveClient(qa): %v", err)
	}

	if _, err := store.GetClient(qa, c.ID); err != nil {
		t.Fatalf("qa should see own client: %v", err)
	}

	if _, err := store.GetClient(context.Background(), c.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("default tables should not see the qa client")
	}
}

func TestPostgres_MigrateIdempotent(t *testing.T) {
	store := setupTestDB(t)

	if err := store.migrate(context.Background(), []string{"qa"}); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestMigrationRender(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 || migrations[0].version != 1 {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}

	sql := migrations[0].render("qa")
	if !strings.Contains(sql, `"chronicle_qa_clients"`) {
		t.Errorf("rendered SQL missing prefixed table: %s", sql)
	}
	if strings.Contains(sql, "{{") {
		t.Errorf("unrendered placeholder: %s", sql)
	}
}
