package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"document-gateway/internal/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	docPrefix        = "doc/"
	histPrefix       = "hist/"
	epochKey         = "meta/epoch"
	maxCommitRetries = 5
)

type historyRecord struct {
	domain.HistoryEntry
	Blob     []byte            `json:"blob"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BadgerStore keeps documents and their history in badger.
// Writes to one identity key are serialized in process, writes to different keys run concurrently.
type BadgerStore struct {
	db        *badger.DB
	locks     *keyLocks
	publisher Publisher
	epoch     string
	logger    zerolog.Logger
}

// OpenBadger opens a store in dir, or an in-memory store when dir is empty.
func OpenBadger(dir string, logger zerolog.Logger, opts ...Option) (*BadgerStore, error) {
	options := badger.DefaultOptions(dir)
	if dir == "" {
		options = options.WithInMemory(true)
	}
	options = options.WithLogger(badgerLogger{logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(options)
	if err != nil {
		return nil, domain.Internal("open badger", err)
	}

	epoch, err := loadEpoch(db)
	if err != nil {
		db.Close()
		return nil, domain.Internal("load epoch", err)
	}

	o := applyOptions(opts)
	return &BadgerStore{
		db:        db,
		locks:     newKeyLocks(),
		publisher: o.publisher,
		epoch:     epoch,
		logger:    logger,
	}, nil
}

// loadEpoch returns the epoch recorded in db, minting one on first open.
func loadEpoch(db *badger.DB) (string, error) {
	var epoch string
	err := db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(epochKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			epoch = uuid.NewString()
			return txn.Set([]byte(epochKey), []byte(epoch))
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		epoch = string(val)
		return err
	})
	return epoch, err
}

func (s *BadgerStore) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if err := validateWrite(req); err != nil {
		return WriteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, domain.Internal("write", err)
	}

	unlock := s.locks.lock(encodeKey(req.Key))
	defer unlock()

	var (
		result WriteResult
		err    error
	)
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		result, err = s.commit(req)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug().Str("key", req.Key.String()).Int("attempt", attempt).Msg("badger transaction conflict, retrying")
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			return WriteResult{}, err
		}
		return WriteResult{}, domain.Internal("write", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(changeRecord(req, result.Version, result.Timestamp))
	}
	return result, nil
}

func (s *BadgerStore) commit(req WriteRequest) (WriteResult, error) {
	var result WriteResult
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := getDocument(txn, req.Key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		var currentVersion int64
		var previous []byte
		if current != nil {
			currentVersion = current.Version
			previous = current.Blob
		}
		if currentVersion != req.ParentVersion {
			return domain.Conflict(currentVersion)
		}

		now := time.Now().UTC()
		doc := domain.Document{
			Key:       req.Key,
			Blob:      req.Blob,
			Author:    req.Author,
			Version:   currentVersion + 1,
			Timestamp: now,
			Type:      domain.DocumentType,
			Metadata:  maps.Clone(req.Metadata),
		}
		if current != nil {
			doc.ID = current.ID
		} else {
			doc.ID = uuid.NewString()
		}

		additions, deletions := DiffStats(previous, req.Blob)
		entry := historyRecord{
			HistoryEntry: domain.HistoryEntry{
				ID:         ulid.Make().String(),
				DocumentID: doc.ID,
				Version:    doc.Version,
				Author:     doc.Author,
				Message:    req.Metadata["message"],
				Timestamp:  now,
				Additions:  additions,
				Deletions:  deletions,
			},
			Blob:     doc.Blob,
			Metadata: doc.Metadata,
		}

		if err := setJSON(txn, documentKey(req.Key), doc); err != nil {
			return err
		}
		if err := setJSON(txn, historyKey(req.Key, doc.Version), entry); err != nil {
			return err
		}

		result = WriteResult{ID: doc.ID, Version: doc.Version, Timestamp: now}
		return nil
	})
	return result, err
}

func (s *BadgerStore) Read(ctx context.Context, key domain.IdentityKey, version int64) (*domain.Document, error) {
	if err := validateRead(key, version); err != nil {
		return nil, err
	}

	var doc *domain.Document
	err := s.db.View(func(txn *badger.Txn) error {
		current, err := getDocument(txn, key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.NotFound("read", "document not found")
		}
		if err != nil {
			return err
		}
		if version == 0 || version == current.Version {
			doc = current
			return nil
		}

		item, err := txn.Get(historyKey(key, version))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.NotFound("read", fmt.Sprintf("version %d not found", version))
		}
		if err != nil {
			return err
		}
		var entry historyRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}
		doc = &domain.Document{
			ID:        current.ID,
			Key:       key,
			Blob:      entry.Blob,
			Author:    entry.Author,
			Version:   entry.Version,
			Timestamp: entry.Timestamp,
			Type:      current.Type,
			Metadata:  entry.Metadata,
		}
		return nil
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, err
		}
		return nil, domain.Internal("read", err)
	}
	return doc, nil
}

func (s *BadgerStore) History(ctx context.Context, key domain.IdentityKey, query HistoryQuery) (HistoryPage, error) {
	if err := validateHistory(key, query); err != nil {
		return HistoryPage{}, err
	}
	limit := NormalizeLimit(query.Limit)
	page := HistoryPage{Entries: []domain.HistoryEntry{}}

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := historyPrefix(key)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks to the largest key <= seek
		seek := historyKey(key, -1)
		if query.BeforeVersion > 0 {
			seek = historyKey(key, query.BeforeVersion-1)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(page.Entries) < limit; it.Next() {
			var entry historyRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			page.Entries = append(page.Entries, entry.HistoryEntry)
		}
		return nil
	})
	if err != nil {
		return HistoryPage{}, domain.Internal("history", err)
	}
	page.HasMore = len(page.Entries) == limit
	return page, nil
}

func (s *BadgerStore) Epoch(ctx context.Context) (string, error) {
	return s.epoch, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getDocument(txn *badger.Txn, key domain.IdentityKey) (*domain.Document, error) {
	item, err := txn.Get(documentKey(key))
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, err
	}
	return &doc, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

func documentKey(k domain.IdentityKey) []byte {
	return []byte(docPrefix + encodeKey(k))
}

func historyPrefix(k domain.IdentityKey) []byte {
	return []byte(histPrefix + encodeKey(k) + "\x00")
}

// historyKey orders versions by their big-endian encoding. -1 encodes as all 0xff.
func historyKey(k domain.IdentityKey, version int64) []byte {
	key := historyPrefix(k)
	return binary.BigEndian.AppendUint64(key, uint64(version))
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
