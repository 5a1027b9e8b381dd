package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"document-gateway/internal/changefeed"
	"document-gateway/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mainFilter = domain.Filter{Repo: "r", Branch: "main"}

func rec(path string, version int64) domain.ChangeRecord {
	return domain.ChangeRecord{
		Kind:    domain.ChangeUpdated,
		Key:     domain.IdentityKey{Repo: "r", Branch: "main", Path: path},
		Version: version,
	}
}

type countingObserver struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (o *countingObserver) SubscriptionOpened() { o.opened.Add(1) }
func (o *countingObserver) SubscriptionClosed() { o.closed.Add(1) }

// fakeSource hands out one endless stream producing increasing versions.
type fakeSource struct {
	openErr error
	stream  *fakeStream
}

func (s *fakeSource) Open(ctx context.Context, filter domain.Filter) (changefeed.Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

type fakeStream struct {
	calls  atomic.Int64
	closed atomic.Bool
	failAt int64
}

func (s *fakeStream) Next(ctx context.Context) (domain.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChangeRecord{}, err
	}
	n := s.calls.Add(1)
	if s.failAt > 0 && n >= s.failAt {
		return domain.ChangeRecord{}, domain.AdapterFailure("next change", errors.New("cursor lost"))
	}
	return rec("f", n), nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

func receive(t *testing.T, sub *Subscription) domain.ChangeRecord {
	t.Helper()
	select {
	case r, ok := <-sub.Records():
		require.True(t, ok, "records channel closed")
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record")
		return domain.ChangeRecord{}
	}
}

func TestSubscribe_ReceivesCommittedChange(t *testing.T) {
	log := changefeed.NewLog(64)
	r := New(log, zerolog.Nop())

	sub, err := r.Subscribe(context.Background(), mainFilter)
	require.NoError(t, err)
	defer sub.Close()

	created := rec("f", 1)
	created.Kind = domain.ChangeCreated
	log.Publish(created)

	got := receive(t, sub)
	assert.Equal(t, domain.ChangeCreated, got.Kind)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, StateOpen, sub.State())
}

func TestSubscribe_AppliesFilter(t *testing.T) {
	log := changefeed.NewLog(64)
	r := New(log, zerolog.Nop())

	sub, err := r.Subscribe(context.Background(), domain.Filter{Repo: "r", Branch: "main", Paths: []string{"f"}, MinVersion: 2})
	require.NoError(t, err)
	defer sub.Close()

	log.Publish(rec("f", 1))
	log.Publish(rec("f", 2))
	log.Publish(rec("g", 5))
	log.Publish(domain.ChangeRecord{Key: domain.IdentityKey{Repo: "r", Branch: "dev", Path: "f"}, Version: 9})
	log.Publish(rec("f", 3))

	got := receive(t, sub)
	assert.Equal(t, "f", got.Key.Path)
	assert.Equal(t, int64(3), got.Version)
}

func TestSubscribe_PreservesOrderBeyondBuffer(t *testing.T) {
	log := changefeed.NewLog(1024)
	r := New(log, zerolog.Nop(), WithBuffer(8))

	sub, err := r.Subscribe(context.Background(), mainFilter)
	require.NoError(t, err)
	defer sub.Close()

	const total = 300
	for v := int64(1); v <= total; v++ {
		log.Publish(rec("f", v))
	}
	for v := int64(1); v <= total; v++ {
		assert.Equal(t, v, receive(t, sub).Version)
	}
}

// TestSubscribe_BlocksWhenQueueFull checks the producer stops reading instead of dropping.
func TestSubscribe_BlocksWhenQueueFull(t *testing.T) {
	stream := &fakeStream{}
	r := New(&fakeSource{stream: stream}, zerolog.Nop(), WithBuffer(4))

	sub, err := r.Subscribe(context.Background(), mainFilter)
	require.NoError(t, err)
	defer sub.Close()

	// four queued plus one held by the blocked send
	require.Eventually(t, func() bool { return stream.calls.Load() == 5 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(5), stream.calls.Load())

	assert.Equal(t, int64(1), receive(t, sub).Version)
	require.Eventually(t, func() bool { return stream.calls.Load() == 6 }, time.Second, 5*time.Millisecond)
}

func TestSubscription_CloseStopsReadLoop(t *testing.T) {
	stream := &fakeStream{}
	obs := &countingObserver{}
	r := New(&fakeSource{stream: stream}, zerolog.Nop(), WithBuffer(2), WithObserver(obs))

	sub, err := r.Subscribe(context.Background(), mainFilter)
	require.NoError(t, err)
	assert.Equal(t, int32(1), obs.opened.Load())
	assert.Equal(t, 1, r.Active())

	sub.Close()
	sub.Close()

	assert.Equal(t, StateClosedByClient, sub.State())
	assert.True(t, stream.closed.Load())
	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(1), obs.closed.Load())
	assert.Equal(t, 0, r.Active())

	calls := stream.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, stream.calls.Load())

	for range sub.Records() {
	}
}

func TestSubscription_ContextCancel(t *testing.T) {
	obs := &countingObserver{}
	r := New(changefeed.NewLog(8), zerolog.Nop(), WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := r.Subscribe(ctx, mainFilter)
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
	assert.Equal(t, StateClosedByClient, sub.State())
	assert.Equal(t, int32(1), obs.closed.Load())
}

func TestSubscription_AdapterFailure(t *testing.T) {
	stream := &fakeStream{failAt: 3}
	obs := &countingObserver{}
	r := New(&fakeSource{stream: stream}, zerolog.Nop(), WithObserver(obs))

	sub, err := r.Subscribe(context.Background(), mainFilter)
	require.NoError(t, err)

	var got []int64
	for rec := range sub.Records() {
		got = append(got, rec.Version)
	}
	<-sub.Done()

	assert.Equal(t, []int64{1, 2}, got)
	assert.Equal(t, StateClosedByError, sub.State())
	assert.ErrorIs(t, sub.Err(), domain.ErrAdapterFailure)
	assert.True(t, stream.closed.Load())
	assert.Equal(t, int32(1), obs.closed.Load())
}

func TestSubscribe_OpenFailure(t *testing.T) {
	obs := &countingObserver{}
	openErr := domain.AdapterFailure("open change stream", errors.New("connection refused"))
	r := New(&fakeSource{openErr: openErr}, zerolog.Nop(), WithObserver(obs))

	_, err := r.Subscribe(context.Background(), mainFilter)
	assert.ErrorIs(t, err, domain.ErrAdapterFailure)
	assert.Equal(t, int32(0), obs.opened.Load())
}

func TestSubscribe_InvalidFilter(t *testing.T) {
	r := New(changefeed.NewLog(8), zerolog.Nop())
	_, err := r.Subscribe(context.Background(), domain.Filter{Branch: "main"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRelay_CloseAll(t *testing.T) {
	log := changefeed.NewLog(8)
	r := New(log, zerolog.Nop())

	var subs []*Subscription
	for i := 0; i < 3; i++ {
		sub, err := r.Subscribe(context.Background(), mainFilter)
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	require.Equal(t, 3, r.Active())

	r.Close()
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			<-s.Done()
		}(sub)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Active())
}
