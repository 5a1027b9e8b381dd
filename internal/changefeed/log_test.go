package changefeed

import (
	"context"
	"testing"
	"time"

	"document-gateway/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(repo, branch, path string, version int64) domain.ChangeRecord {
	return domain.ChangeRecord{
		Kind:    domain.ChangeUpdated,
		Key:     domain.IdentityKey{Repo: repo, Branch: branch, Path: path},
		Version: version,
	}
}

func TestLog_DeliversInOrderAfterOpen(t *testing.T) {
	l := NewLog(16)
	l.Publish(record("r", "main", "f", 1)) // before open, never seen

	stream, err := l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)
	defer stream.Close()

	l.Publish(record("r", "main", "f", 2))
	l.Publish(record("r", "dev", "f", 1))
	l.Publish(record("r", "main", "g", 1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "f", first.Key.Path)
	assert.Equal(t, int64(2), first.Version)

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g", second.Key.Path)
}

func TestLog_NextWaitsForPublish(t *testing.T) {
	l := NewLog(16)
	stream, err := l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)
	defer stream.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Publish(record("r", "main", "f", 1))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
}

func TestLog_CancelledContext(t *testing.T) {
	l := NewLog(16)
	stream, err := l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLog_RetentionExpired(t *testing.T) {
	l := NewLog(2)
	stream, err := l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)
	defer stream.Close()

	for v := int64(1); v <= 3; v++ {
		l.Publish(record("r", "main", "f", v))
	}

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrRetentionExpired)
	assert.Equal(t, domain.KindAdapterFailure, domain.KindOf(err))
}

func TestLog_CloseEndsStreams(t *testing.T) {
	l := NewLog(4)
	stream, err := l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrFeedClosed)
	case <-time.After(time.Second):
		t.Fatal("stream did not observe close")
	}

	_, err = l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	assert.ErrorIs(t, err, domain.ErrAdapterFailure)
}

func TestLog_StreamClose(t *testing.T) {
	l := NewLog(4)
	stream, err := l.Open(context.Background(), domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestLog_OpenRejectsInvalidFilter(t *testing.T) {
	l := NewLog(4)
	_, err := l.Open(context.Background(), domain.Filter{Repo: "r"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
