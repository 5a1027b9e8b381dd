// Package relay fans change streams out to subscribers with per-subscription
// filtering, ordering and bounded, blocking delivery.
package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"document-gateway/internal/changefeed"
	"document-gateway/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultBuffer = 128

type State int32

const (
	StateOpen State = iota
	StateClosedByClient
	StateClosedByError
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosedByClient:
		return "CLOSED_BY_CLIENT"
	case StateClosedByError:
		return "CLOSED_BY_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Observer is told when subscriptions open and reach a terminal state.
type Observer interface {
	SubscriptionOpened()
	SubscriptionClosed()
}

type nopObserver struct{}

func (nopObserver) SubscriptionOpened() {}
func (nopObserver) SubscriptionClosed() {}

type Relay struct {
	source   changefeed.Source
	buffer   int
	observer Observer
	logger   zerolog.Logger

	mu     sync.Mutex
	active map[string]*Subscription
}

type Option func(*Relay)

func WithBuffer(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.buffer = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Relay) {
		if o != nil {
			r.observer = o
		}
	}
}

func New(source changefeed.Source, logger zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		source:   source,
		buffer:   DefaultBuffer,
		observer: nopObserver{},
		logger:   logger,
		active:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe opens a filtered stream. The subscription ends when ctx is done,
// when Close is called or when the change source fails.
func (r *Relay) Subscribe(ctx context.Context, filter domain.Filter) (*Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	filter.Paths = append([]string(nil), filter.Paths...)

	ctx, cancel := context.WithCancel(ctx)
	stream, err := r.source.Open(ctx, filter)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		ID:      uuid.NewString(),
		filter:  filter,
		records: make(chan domain.ChangeRecord, r.buffer),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	r.mu.Lock()
	r.active[sub.ID] = sub
	r.mu.Unlock()
	r.observer.SubscriptionOpened()

	r.logger.Debug().
		Str("subscription", sub.ID).
		Str("repo", filter.Repo).
		Str("branch", filter.Branch).
		Strs("paths", filter.Paths).
		Int64("min_version", filter.MinVersion).
		Msg("subscription opened")

	go r.run(ctx, sub, stream)
	return sub, nil
}

func (r *Relay) run(ctx context.Context, sub *Subscription, stream changefeed.Stream) {
	defer func() {
		stream.Close()
		close(sub.records)
		r.mu.Lock()
		delete(r.active, sub.ID)
		r.mu.Unlock()
		r.observer.SubscriptionClosed()

		event := r.logger.Debug()
		if sub.State() == StateClosedByError {
			event = r.logger.Warn().Err(sub.err)
		}
		event.Str("subscription", sub.ID).Str("state", sub.State().String()).Msg("subscription closed")
		close(sub.done)
	}()

	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				sub.state.Store(int32(StateClosedByClient))
				return
			}
			if domain.KindOf(err) != domain.KindAdapterFailure {
				err = domain.AdapterFailure("subscription", err)
			}
			sub.err = err
			sub.state.Store(int32(StateClosedByError))
			return
		}
		if !sub.filter.Matches(rec) {
			continue
		}

		// blocks while the queue is full
		select {
		case sub.records <- rec:
		case <-ctx.Done():
			sub.state.Store(int32(StateClosedByClient))
			return
		}
	}
}

// Active reports the number of open subscriptions.
func (r *Relay) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Close cancels every open subscription and waits for them to finish.
func (r *Relay) Close() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.active))
	for _, sub := range r.active {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

type Subscription struct {
	ID string

	filter  domain.Filter
	records chan domain.ChangeRecord
	done    chan struct{}
	cancel  context.CancelFunc
	state   atomic.Int32
	err     error
}

// Records yields matching changes in source order. The channel is closed when
// the subscription reaches a terminal state.
func (s *Subscription) Records() <-chan domain.ChangeRecord {
	return s.records
}

func (s *Subscription) Filter() domain.Filter {
	return s.filter
}

func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Done is closed once the subscription has released its stream.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the subscription, nil for a cancellation.
// It is only meaningful after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the subscription and waits for its read loop to stop.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
