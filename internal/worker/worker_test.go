package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPool_RunsTasks(t *testing.T) {
	pool := NewPool(3, 10, time.Second, zerolog.Nop())

	var ran atomic.Int32
	for range 10 {
		assert.True(t, pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	pool.Shutdown()

	assert.Equal(t, int32(10), ran.Load())
	assert.Zero(t, pool.Dropped())
}

func TestPool_DropsWhenFull(t *testing.T) {
	pool := NewPool(1, 1, 0, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})

	assert.True(t, pool.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	assert.True(t, pool.Submit(func(ctx context.Context) error { return nil }))
	assert.False(t, pool.Submit(func(ctx context.Context) error { return nil }))
	assert.Equal(t, int64(1), pool.Dropped())

	close(release)
	pool.Shutdown()
}

func TestPool_RejectsAfterShutdown(t *testing.T) {
	pool := NewPool(1, 1, 0, zerolog.Nop())
	pool.Shutdown()
	pool.Shutdown()

	assert.False(t, pool.Submit(func(ctx context.Context) error { return errors.New("never runs") }))
}

func TestPool_SubmitDuringShutdown(t *testing.T) {
	for range 50 {
		pool := NewPool(2, 4, 0, zerolog.Nop())
		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
			ran      atomic.Int64
		)
		start := make(chan struct{})
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for range 100 {
					if pool.Submit(func(ctx context.Context) error {
						ran.Add(1)
						return nil
					}) {
						accepted.Add(1)
					}
				}
			}()
		}
		close(start)
		pool.Shutdown()
		wg.Wait()

		assert.Equal(t, accepted.Load(), ran.Load())
		assert.Equal(t, int64(800), accepted.Load()+pool.Dropped())
	}
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := NewPool(1, 1, 10*time.Millisecond, zerolog.Nop())
	done := make(chan error, 1)

	pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
	pool.Shutdown()
}
