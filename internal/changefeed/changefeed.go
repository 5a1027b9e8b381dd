// Package changefeed turns the persistence layer's change notifications into
// typed change records.
package changefeed

import (
	"context"
	"errors"

	"document-gateway/internal/domain"
)

var (
	// ErrRetentionExpired means a stream fell behind the feed's retention window
	// and cannot be resumed; the caller must open a new stream.
	ErrRetentionExpired = errors.New("change feed retention window expired")
	ErrStreamClosed     = errors.New("change stream closed")
	ErrFeedClosed       = errors.New("change feed closed")
)

// Source opens change streams. Streams only see changes committed after Open returns.
type Source interface {
	Open(ctx context.Context, filter domain.Filter) (Stream, error)
}

// Stream is an infinite sequence of change records. Next returns ctx.Err() on
// cancellation and a domain AdapterFailure for anything else; after an error
// the stream is finished.
type Stream interface {
	Next(ctx context.Context) (domain.ChangeRecord, error)
	Close() error
}
