package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"document-gateway/internal/domain"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type WriteRequest struct {
	Key      domain.IdentityKey
	Blob     []byte
	Author   string
	Metadata map[string]string
	// ParentVersion is the version the caller last observed, 0 when it believes the document does not exist.
	ParentVersion int64
}

type WriteResult struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type HistoryQuery struct {
	Limit int
	// BeforeVersion restricts results to versions strictly below it. 0 means no bound.
	BeforeVersion int64
}

// HistoryPage holds entries in descending version order.
// HasMore is true whenever the page is full, which is a false positive when the
// final page happens to be exactly Limit entries long.
type HistoryPage struct {
	Entries []domain.HistoryEntry `json:"entries"`
	HasMore bool                  `json:"has_more"`
}

// Store is the version store. Write is a compare-and-swap on the document version.
// A rejected write returns *domain.ConflictError and mutates nothing.
// Read with version 0 returns the current document, any other version is
// reconstructed from the history ledger.
// Epoch identifies the store's data set. It is stable for the life of the
// data and changes when the data is lost, so version numbers are only unique
// within one epoch.
type Store interface {
	Write(ctx context.Context, req WriteRequest) (WriteResult, error)
	Read(ctx context.Context, key domain.IdentityKey, version int64) (*domain.Document, error)
	History(ctx context.Context, key domain.IdentityKey, query HistoryQuery) (HistoryPage, error)
	Epoch(ctx context.Context) (string, error)
	Close() error
}

// Publisher receives every committed change, in commit order per identity key.
type Publisher interface {
	Publish(rec domain.ChangeRecord)
}

type options struct {
	publisher Publisher
	notifier  Notifier
}

type Option func(*options)

// WithPublisher hands every committed change to p while the key is still locked.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithNotifier runs n inside every write transaction of a relational store.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NormalizeLimit applies the default and the hard cap to a history limit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func validateWrite(req WriteRequest) error {
	if err := req.Key.Validate(); err != nil {
		return err
	}
	if req.ParentVersion < 0 {
		return domain.InvalidRequest("write", "parent version must not be negative")
	}
	return nil
}

func validateRead(key domain.IdentityKey, version int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if version < 0 {
		return domain.InvalidRequest("read", "version must not be negative")
	}
	return nil
}

func validateHistory(key domain.IdentityKey, query HistoryQuery) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if query.BeforeVersion < 0 {
		return domain.InvalidRequest("history", "before_version must not be negative")
	}
	return nil
}

func changeRecord(req WriteRequest, version int64, ts time.Time) domain.ChangeRecord {
	kind := domain.ChangeUpdated
	if version == 1 {
		kind = domain.ChangeCreated
	}
	return domain.ChangeRecord{
		Kind:      kind,
		Key:       req.Key,
		Blob:      req.Blob,
		Author:    req.Author,
		Version:   version,
		Timestamp: ts,
		Metadata:  maps.Clone(req.Metadata),
	}
}

func encodeKey(k domain.IdentityKey) string {
	return k.Repo + "\x00" + k.Branch + "\x00" + k.Path
}

// keyLocks serializes writers per identity key. Entries are dropped once unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
