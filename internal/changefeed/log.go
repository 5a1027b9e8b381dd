package changefeed

import (
	"context"
	"sync"

	"document-gateway/internal/domain"
)

const DefaultRetention = 4096

// Log is an in-process commit log. The store publishes every committed write to
// it and streams tail it from their own cursor. Only the most recent records are
// retained; a stream whose cursor falls out of the window fails with
// ErrRetentionExpired.
type Log struct {
	mu     sync.Mutex
	ring   []domain.ChangeRecord
	next   uint64
	wake   chan struct{}
	closed bool
}

func NewLog(retention int) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{
		ring: make([]domain.ChangeRecord, retention),
		wake: make(chan struct{}),
	}
}

// Publish appends rec and wakes waiting streams. It never blocks on readers.
func (l *Log) Publish(rec domain.ChangeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.ring[l.next%uint64(len(l.ring))] = rec
	l.next++
	close(l.wake)
	l.wake = make(chan struct{})
}

func (l *Log) Open(ctx context.Context, filter domain.Filter) (Stream, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, domain.AdapterFailure("open change stream", ErrFeedClosed)
	}
	return &logStream{
		log:    l,
		cursor: l.next,
		repo:   filter.Repo,
		branch: filter.Branch,
		done:   make(chan struct{}),
	}, nil
}

// Close ends every open stream with ErrFeedClosed.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.wake)
}

type logStream struct {
	log    *Log
	cursor uint64
	repo   string
	branch string

	closeOnce sync.Once
	done      chan struct{}
}

func (s *logStream) Next(ctx context.Context) (domain.ChangeRecord, error) {
	l := s.log
	for {
		select {
		case <-s.done:
			return domain.ChangeRecord{}, domain.AdapterFailure("next change", ErrStreamClosed)
		default:
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return domain.ChangeRecord{}, domain.AdapterFailure("next change", ErrFeedClosed)
		}
		size := uint64(len(l.ring))
		if l.next > size && s.cursor < l.next-size {
			l.mu.Unlock()
			return domain.ChangeRecord{}, domain.AdapterFailure("next change", ErrRetentionExpired)
		}
		for s.cursor < l.next {
			rec := l.ring[s.cursor%size]
			s.cursor++
			if rec.Key.Repo == s.repo && rec.Key.Branch == s.branch {
				l.mu.Unlock()
				return rec, nil
			}
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.ChangeRecord{}, ctx.Err()
		case <-s.done:
		case <-wake:
		}
	}
}

func (s *logStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
