package store

import (
	"context"
	"sort"
	"sync"
	"testing"

	"document-gateway/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadgerStore(t *testing.T, opts ...Option) *BadgerStore {
	t.Helper()
	s, err := OpenBadger("", zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newBadgerStore(t) })
}

func TestBadgerStore_EpochSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(dir, zerolog.Nop())
	require.NoError(t, err)
	epoch, err := s.Epoch(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	reopened, err := s.Epoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, epoch, reopened)
}

// TestBadgerStore_ConcurrentCreate checks that exactly one of many racing first writes wins.
func TestBadgerStore_ConcurrentCreate(t *testing.T) {
	s := newBadgerStore(t)
	const writers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts []int64
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Write(context.Background(), WriteRequest{Key: testKey, Blob: []byte("x")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			current, ok := domain.CurrentVersion(err)
			if ok {
				conflicts = append(conflicts, current)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, conflicts, writers-1)
	for _, c := range conflicts {
		assert.Equal(t, int64(1), c)
	}
}

// TestBadgerStore_ConcurrentRetries checks versions stay gapless when writers retry on conflict.
func TestBadgerStore_ConcurrentRetries(t *testing.T) {
	pub := &lockedPublisher{}
	s := newBadgerStore(t, WithPublisher(pub))
	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perWriter; n++ {
				for {
					var parent int64
					if doc, err := s.Read(context.Background(), testKey, 0); err == nil {
						parent = doc.Version
					}
					_, err := s.Write(context.Background(), WriteRequest{Key: testKey, Blob: []byte("x"), ParentVersion: parent})
					if err == nil {
						break
					}
					if domain.KindOf(err) != domain.KindConflict {
						t.Errorf("unexpected error: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	doc, err := s.Read(context.Background(), testKey, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), doc.Version)

	got := pub.versions()
	require.Len(t, got, writers*perWriter)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
	for i, v := range got {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestBadgerStore_PublishesCommittedWrites(t *testing.T) {
	pub := &recordingPublisher{}
	s := newBadgerStore(t, WithPublisher(pub))
	ctx := context.Background()

	_, err := s.Write(ctx, WriteRequest{Key: testKey, Blob: []byte("a"), Author: "alice"})
	require.NoError(t, err)
	_, err = s.Write(ctx, WriteRequest{Key: testKey, Blob: []byte("b"), Author: "alice"})
	require.Error(t, err)
	_, err = s.Write(ctx, WriteRequest{Key: testKey, Blob: []byte("c"), Author: "bob", ParentVersion: 1})
	require.NoError(t, err)

	require.Len(t, pub.records, 2)
	assert.Equal(t, domain.ChangeCreated, pub.records[0].Kind)
	assert.Equal(t, int64(1), pub.records[0].Version)
	assert.Equal(t, domain.ChangeUpdated, pub.records[1].Kind)
	assert.Equal(t, []byte("c"), pub.records[1].Blob)
	assert.Equal(t, "bob", pub.records[1].Author)
}

type lockedPublisher struct {
	mu      sync.Mutex
	records []domain.ChangeRecord
}

func (p *lockedPublisher) Publish(rec domain.ChangeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
}

func (p *lockedPublisher) versions() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r.Version)
	}
	return out
}
