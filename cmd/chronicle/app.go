package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/chronicle/pkg/auth"
	"github.com/rhuss/chronicle/pkg/config"
	"github.com/rhuss/chronicle/pkg/directory"
	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/sapient"
	"github.com/rhuss/chronicle/pkg/storage"
	"github.com/rhuss/chronicle/pkg/storage/memory"
	"github.com/rhuss/chronicle/pkg/storage/postgres"
	"github.com/rhuss/chronicle/pkg/storage/sqlite"
	"github.com/rhuss/chronicle/pkg/transport"
	transporthttp "github.com/rhuss/chronicle/pkg/transport/http"
)

// app bundles the long-lived components of a running gate.
type app struct {
	keyring   *keys.Keyring
	directory *directory.Directory
	server    *transporthttp.Server
}

// newApp wires the keyring, the client directory and the HTTP server from
// cfg. The caller owns the returned app and must Close it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	kr, err := keys.LoadOrCreateKeyring(cfg.Keys.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	logger.Info("server key loaded", "fingerprint", kr.ServerPublicKey().Fingerprint())

	dir, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := seedClients(ctx, dir, cfg.Directory.Clients, kr.ServerPublicKey()); err != nil {
		dir.Close()
		return nil, err
	}

	verifier := sapient.NewVerifier(cfg.Server.MaxBodySize)
	clientGate := auth.NewGate(dir, kr, verifier, auth.WithScope(directory.ScopeClient), auth.WithLogger(logger))
	adminGate := auth.NewGate(dir, kr, verifier, auth.WithScope(directory.ScopeAdmin), auth.WithLogger(logger))

	srv := transporthttp.NewServer(
		transporthttp.WithAddr(net.JoinHostPort("", strconv.Itoa(cfg.Server.Port))),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithInstances(cfg.Directory.Instances),
		transporthttp.WithMetrics(cfg.Observability.Metrics.Enabled, cfg.Observability.Metrics.Path),
		transporthttp.WithReadiness(dir.HealthCheck),
		transporthttp.WithLogger(logger),
		transporthttp.WithMiddleware(
			transport.Recovery(),
			transport.RequestID(),
			transport.Logging(logger),
			sapient.SignResponses(kr),
		),
	)

	srv.Handle(http.MethodGet, "/chronicle/whoami", clientGate.Middleware()(whoami(dir, directory.ScopeClient)))
	srv.Handle(http.MethodGet, "/chronicle/admin/whoami", adminGate.Middleware()(whoami(dir, directory.ScopeAdmin)))

	return &app{keyring: kr, directory: dir, server: srv}, nil
}

// Close releases the directory.
func (a *app) Close() error {
	return a.directory.Close()
}

// openStore opens the client store selected by cfg.Directory.Type.
func openStore(ctx context.Context, cfg *config.Config) (storage.ClientStore, error) {
	switch cfg.Directory.Type {
	case "memory":
		return memory.New(), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Directory.Postgres.DSN,
			MaxConns:       cfg.Directory.Postgres.MaxConns,
			MigrateOnStart: cfg.Directory.Postgres.MigrateOnStart,
			Prefixes:       cfg.Directory.InstancePrefixes(),
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres directory: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(ctx, sqlite.Config{
			Path:           cfg.Directory.SQLite.Path,
			MigrateOnStart: cfg.Directory.SQLite.MigrateOnStart,
			Prefixes:       cfg.Directory.InstancePrefixes(),
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite directory: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown directory type %q", cfg.Directory.Type)
	}
}

// openDirectory opens the store and wraps it with the configured cache.
func openDirectory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*directory.Directory, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []directory.Option{directory.WithLogger(logger)}

	cacheCfg := cfg.Directory.Cache
	switch cacheCfg.Type {
	case "memory":
		opts = append(opts, directory.WithCache(directory.NewMemoryCache(cacheCfg.TTL), cacheCfg.TTL))
	case "redis":
		c, err := directory.NewRedisCache(ctx, directory.RedisConfig{
			Addr:     cacheCfg.Redis.Addr,
			Password: cacheCfg.Redis.Password,
			DB:       cacheCfg.Redis.DB,
			Prefix:   cacheCfg.Redis.Prefix,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("opening redis cache: %w", err)
		}
		opts = append(opts, directory.WithCache(c, cacheCfg.TTL))
	}

	logger.Info("directory ready", "type", cfg.Directory.Type, "cache", cacheCfg.Type)
	return directory.New(store, opts...), nil
}

// seedClients registers the configured clients. A client configured with
// the server's own key is refused.
func seedClients(ctx context.Context, dir *directory.Directory, clients []config.ClientConfig, serverKey keys.PublicKey) error {
	if len(clients) == 0 {
		return nil
	}

	seed := make([]*directory.Client, 0, len(clients))
	var errs []error
	for _, c := range clients {
		key, err := keys.ParsePublicKey(c.PublicKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("client %q: %w", c.ID, err))
			continue
		}
		if key.Equal(serverKey) {
			errs = append(errs, fmt.Errorf("client %q: %s", c.ID, auth.MsgServerKeyMisuse))
			continue
		}
		seed = append(seed, &directory.Client{
			ID:        c.ID,
			PublicKey: key,
			Admin:     c.Admin,
			Comment:   c.Comment,
			Created:   time.Now().UTC(),
		})
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return dir.Seed(ctx, seed)
}
