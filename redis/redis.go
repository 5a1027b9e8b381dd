package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"document-gateway/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient connects to addr and pings it once.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Cache stores JSON values in redis. A Cache with a nil client is disabled:
// reads miss and writes are dropped.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	val, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, val, ttl).Err()
}

// SnapshotKey names one immutable version of a document. Versions are only
// unique within a store epoch, so the epoch is part of the key.
func SnapshotKey(epoch string, key domain.IdentityKey, version int64) string {
	return fmt.Sprintf("doc:%s:%s:%s:%s:v:%d",
		url.QueryEscape(epoch),
		url.QueryEscape(key.Repo),
		url.QueryEscape(key.Branch),
		url.QueryEscape(key.Path),
		version,
	)
}

// GetSnapshot returns a cached historical version. Cache failures are logged and count as a miss.
func (c *Cache) GetSnapshot(ctx context.Context, epoch string, key domain.IdentityKey, version int64) (*domain.Document, bool) {
	var doc domain.Document
	found, err := c.Get(ctx, SnapshotKey(epoch, key, version), &doc)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Int64("version", version).Msg("snapshot cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &doc, true
}

// PutSnapshot caches doc under its own version. Versions never change once written.
func (c *Cache) PutSnapshot(ctx context.Context, epoch string, doc *domain.Document) {
	if err := c.Set(ctx, SnapshotKey(epoch, doc.Key, doc.Version), doc, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", doc.Key.String()).Int64("version", doc.Version).Msg("snapshot cache write failed")
	}
}

func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
