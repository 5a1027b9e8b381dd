package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

// Pool runs best-effort background tasks. Tasks submitted while the queue is
// full or the pool is shutting down are dropped.
type Pool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	// mu guards closing and the close of taskQueue against in-flight sends.
	mu        sync.RWMutex
	closing   bool
	dropped   atomic.Int64
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewPool(size, queue int, timeout time.Duration, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue <= 0 {
		queue = 1000
	}
	wp := &Pool{
		taskQueue: make(chan Task, queue),
		timeout:   timeout,
		logger:    logger,
	}

	// Start the workers
	for range size {
		wp.wg.Add(1)
		go wp.startWorker()
	}

	return wp
}

func (wp *Pool) startWorker() {
	defer wp.wg.Done()
	for task := range wp.taskQueue {
		wp.run(task)
	}
}

func (wp *Pool) run(task Task) {
	ctx := context.Background()
	if wp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.timeout)
		defer cancel()
	}
	if err := task(ctx); err != nil {
		wp.logger.Warn().Err(err).Msg("worker task failed")
	}
}

// Submit queues t and reports whether it was accepted.
func (wp *Pool) Submit(t Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closing {
		wp.dropped.Add(1)
		wp.logger.Debug().Msg("task submitted during shutdown, dropping")
		return false
	}
	select {
	case wp.taskQueue <- t:
		return true
	default:
		wp.dropped.Add(1)
		wp.logger.Warn().Msg("task queue full, dropping task")
		return false
	}
}

// Dropped counts tasks rejected by Submit.
func (wp *Pool) Dropped() int64 {
	return wp.dropped.Load()
}

// Shutdown closes the queue and waits for workers to finish
func (wp *Pool) Shutdown() {
	wp.mu.Lock()
	if wp.closing {
		wp.mu.Unlock()
		return
	}
	wp.closing = true
	close(wp.taskQueue)
	wp.mu.Unlock()
	wp.wg.Wait()
}
