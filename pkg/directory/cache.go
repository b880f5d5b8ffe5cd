package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/storage"
)

// Cache stores encoded client records. Only successful lookups are cached,
// so a newly registered client is visible immediately.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// cacheKey namespaces entries by instance. Prefixes never contain ':', so
// the key is unambiguous.
func cacheKey(ctx context.Context, clientID string) string {
	return "client:" + storage.GetInstance(ctx) + ":" + clientID
}

type cachedClient struct {
	ID        string         `json:"id"`
	PublicKey keys.PublicKey `json:"public_key"`
	Admin     bool           `json:"admin"`
	Comment   string         `json:"comment,omitempty"`
	Created   time.Time      `json:"created"`
}

func encodeClient(c *Client) ([]byte, error) {
	return json.Marshal(cachedClient{
		ID:        c.ID,
		PublicKey: c.PublicKey,
		Admin:     c.Admin,
		Comment:   c.Comment,
		Created:   c.Created,
	})
}

func decodeClient(data []byte) (*Client, error) {
	var cc cachedClient
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, err
	}
	return &Client{
		ID:        cc.ID,
		PublicKey: cc.PublicKey,
		Admin:     cc.Admin,
		Comment:   cc.Comment,
		Created:   cc.Created,
	}, nil
}

// memoryCache is an in-process cache backed by go-cache.
type memoryCache struct{ c *gocache.Cache }

// NewMemoryCache returns a process-local cache with the given default TTL.
func NewMemoryCache(defaultTTL time.Duration) Cache {
	return &memoryCache{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, true, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *memoryCache) Close() error {
	m.c.Flush()
	return nil
}

// RedisConfig holds the connection settings of a shared Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// redisCache shares cached records between gate replicas.
type redisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisCache(rdb, cfg.Prefix), nil
}

func newRedisCache(rdb *redis.Client, prefix string) *redisCache {
	if prefix == "" {
		prefix = "chronicle"
	}
	return &redisCache{client: rdb, prefix: prefix}
}

func (c *redisCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
