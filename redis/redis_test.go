package redis

import (
	"context"
	"testing"
	"time"

	"document-gateway/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewCache(client, time.Hour, zerolog.Nop()), mr
}

func TestSnapshotRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	key := domain.IdentityKey{Repo: "r", Branch: "main", Path: "docs/a:b.md"}

	_, found := cache.GetSnapshot(ctx, "e1", key, 1)
	assert.False(t, found)

	cache.PutSnapshot(ctx, "e1", &domain.Document{ID: "id", Key: key, Blob: []byte("a"), Version: 1, Author: "alice"})

	doc, found := cache.GetSnapshot(ctx, "e1", key, 1)
	require.True(t, found)
	assert.Equal(t, []byte("a"), doc.Blob)
	assert.Equal(t, "alice", doc.Author)

	assert.True(t, mr.Exists(SnapshotKey("e1", key, 1)))
	assert.Equal(t, time.Hour, mr.TTL(SnapshotKey("e1", key, 1)))
}

func TestSnapshot_EpochsAreIsolated(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	key := domain.IdentityKey{Repo: "r", Branch: "main", Path: "f"}

	cache.PutSnapshot(ctx, "old", &domain.Document{Key: key, Blob: []byte("old-1"), Version: 1})
	_, found := cache.GetSnapshot(ctx, "new", key, 1)
	assert.False(t, found)
}

func TestSnapshotKey_EscapesSeparators(t *testing.T) {
	a := SnapshotKey("e", domain.IdentityKey{Repo: "r", Branch: "a:b", Path: "c"}, 1)
	b := SnapshotKey("e", domain.IdentityKey{Repo: "r", Branch: "a", Path: "b:c"}, 1)
	assert.NotEqual(t, a, b)
	c := SnapshotKey("e:r", domain.IdentityKey{Repo: "b", Branch: "c", Path: "d"}, 1)
	d := SnapshotKey("e", domain.IdentityKey{Repo: "r:b", Branch: "c", Path: "d"}, 1)
	assert.NotEqual(t, c, d)
}

func TestCache_ServerDownIsAMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	_, found := cache.GetSnapshot(context.Background(), "e", domain.IdentityKey{Repo: "r", Branch: "b", Path: "p"}, 1)
	assert.False(t, found)
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(nil, time.Hour, zerolog.Nop())
	assert.False(t, cache.Enabled())

	found, err := cache.Get(context.Background(), "k", &struct{}{})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Set(context.Background(), "k", "v", time.Minute))
	assert.NoError(t, cache.Close())
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), addr)
	assert.Error(t, err)
}
