package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"document-gateway/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Notifier emits a change from inside the write transaction, so it is only
// delivered if the write commits.
type Notifier interface {
	NotifyTx(tx *gorm.DB, rec domain.ChangeRecord) error
}

type DocumentModel struct {
	ID          string            `gorm:"primaryKey;size:36"`
	Repo        string            `gorm:"not null;uniqueIndex:idx_documents_identity"`
	Branch      string            `gorm:"not null;uniqueIndex:idx_documents_identity"`
	Path        string            `gorm:"not null;uniqueIndex:idx_documents_identity"`
	Blob        []byte
	Author      string
	Version     int64  `gorm:"not null"`
	Type        string `gorm:"size:32"`
	Metadata    map[string]string `gorm:"serializer:json"`
	CommittedAt time.Time
}

func (DocumentModel) TableName() string { return "documents" }

type HistoryModel struct {
	ID          string `gorm:"primaryKey;size:26"`
	DocumentID  string `gorm:"not null;index"`
	Repo        string `gorm:"not null;uniqueIndex:idx_history_version"`
	Branch      string `gorm:"not null;uniqueIndex:idx_history_version"`
	Path        string `gorm:"not null;uniqueIndex:idx_history_version"`
	Version     int64  `gorm:"not null;uniqueIndex:idx_history_version"`
	Author      string
	Message     string
	Blob        []byte
	Metadata    map[string]string `gorm:"serializer:json"`
	Additions   int32
	Deletions   int32
	CommittedAt time.Time
}

func (HistoryModel) TableName() string { return "history_entries" }

// MetaModel holds store-wide settings such as the epoch.
type MetaModel struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"not null"`
}

func (MetaModel) TableName() string { return "gateway_meta" }

const epochSetting = "epoch"

// Models lists the tables GormStore needs, for migrations.
func Models() []any {
	return []any{&DocumentModel{}, &HistoryModel{}, &MetaModel{}}
}

var errInsertRace = errors.New("document created concurrently")

// GormStore keeps documents in a relational database. The compare-and-swap is a
// conditional UPDATE on the stored version, and first writes rely on the unique
// identity index, so no in-process lock is needed for correctness. When a
// Publisher is configured, writes are serialized per key so publication follows
// commit order.
type GormStore struct {
	db        *gorm.DB
	locks     *keyLocks
	publisher Publisher
	notifier  Notifier
	logger    zerolog.Logger

	epochMu sync.Mutex
	epoch   string
}

func NewGormStore(db *gorm.DB, logger zerolog.Logger, opts ...Option) *GormStore {
	o := applyOptions(opts)
	return &GormStore{
		db:        db,
		locks:     newKeyLocks(),
		publisher: o.publisher,
		notifier:  o.notifier,
		logger:    logger,
	}
}

func (s *GormStore) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if err := validateWrite(req); err != nil {
		return WriteResult{}, err
	}
	if s.publisher != nil {
		unlock := s.locks.lock(encodeKey(req.Key))
		defer unlock()
	}

	var result WriteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var current DocumentModel
		err := whereKey(tx, req.Key).Take(&current).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var previous []byte
		doc := DocumentModel{
			Repo:        req.Key.Repo,
			Branch:      req.Key.Branch,
			Path:        req.Key.Path,
			Blob:        req.Blob,
			Author:      req.Author,
			Type:        domain.DocumentType,
			Metadata:    req.Metadata,
			CommittedAt: now,
		}

		if !found {
			if req.ParentVersion != 0 {
				return domain.Conflict(0)
			}
			doc.ID = uuid.NewString()
			doc.Version = 1
			if err := tx.Create(&doc).Error; err != nil {
				if isDuplicateKey(err) {
					return errInsertRace
				}
				return err
			}
		} else {
			if current.Version != req.ParentVersion {
				return domain.Conflict(current.Version)
			}
			previous = current.Blob
			doc.ID = current.ID
			doc.Version = current.Version + 1

			// 1. conditional update, the WHERE on version is the compare-and-swap
			res := tx.Model(&DocumentModel{}).
				Where("id = ? AND version = ?", current.ID, req.ParentVersion).
				Select("blob", "author", "version", "metadata", "committed_at").
				Updates(&doc)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var version int64
				if err := tx.Model(&DocumentModel{}).Where("id = ?", current.ID).Select("version").Scan(&version).Error; err != nil {
					return err
				}
				return domain.Conflict(version)
			}
		}

		// 2. append history in the same transaction
		additions, deletions := DiffStats(previous, req.Blob)
		if err := tx.Create(&HistoryModel{
			ID:          ulid.Make().String(),
			DocumentID:  doc.ID,
			Repo:        doc.Repo,
			Branch:      doc.Branch,
			Path:        doc.Path,
			Version:     doc.Version,
			Author:      doc.Author,
			Message:     req.Metadata["message"],
			Blob:        doc.Blob,
			Metadata:    doc.Metadata,
			Additions:   additions,
			Deletions:   deletions,
			CommittedAt: now,
		}).Error; err != nil {
			return err
		}

		// 3. notify, delivered by the database on commit
		if s.notifier != nil {
			if err := s.notifier.NotifyTx(tx, changeRecord(req, doc.Version, now)); err != nil {
				return err
			}
		}

		result = WriteResult{ID: doc.ID, Version: doc.Version, Timestamp: now}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errInsertRace):
		version, rerr := s.currentVersion(ctx, req.Key)
		if rerr != nil {
			return WriteResult{}, domain.Internal("write", rerr)
		}
		return WriteResult{}, domain.Conflict(version)
	case domain.KindOf(err) == domain.KindConflict, domain.KindOf(err) == domain.KindInvalidRequest:
		return WriteResult{}, err
	default:
		return WriteResult{}, domain.Internal("write", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(changeRecord(req, result.Version, result.Timestamp))
	}
	return result, nil
}

func (s *GormStore) Read(ctx context.Context, key domain.IdentityKey, version int64) (*domain.Document, error) {
	if err := validateRead(key, version); err != nil {
		return nil, err
	}

	var current DocumentModel
	err := whereKey(s.db.WithContext(ctx), key).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("read", "document not found")
	}
	if err != nil {
		return nil, domain.Internal("read", err)
	}
	if version == 0 || version == current.Version {
		return current.toDomain(), nil
	}

	var entry HistoryModel
	err = whereKey(s.db.WithContext(ctx), key).Where("version = ?", version).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFound("read", fmt.Sprintf("version %d not found", version))
	}
	if err != nil {
		return nil, domain.Internal("read", err)
	}
	return &domain.Document{
		ID:        current.ID,
		Key:       key,
		Blob:      entry.Blob,
		Author:    entry.Author,
		Version:   entry.Version,
		Timestamp: entry.CommittedAt,
		Type:      current.Type,
		Metadata:  entry.Metadata,
	}, nil
}

func (s *GormStore) History(ctx context.Context, key domain.IdentityKey, query HistoryQuery) (HistoryPage, error) {
	if err := validateHistory(key, query); err != nil {
		return HistoryPage{}, err
	}
	limit := NormalizeLimit(query.Limit)

	q := whereKey(s.db.WithContext(ctx), key)
	if query.BeforeVersion > 0 {
		q = q.Where("version < ?", query.BeforeVersion)
	}
	var rows []HistoryModel
	if err := q.Order("version DESC").Limit(limit).Find(&rows).Error; err != nil {
		return HistoryPage{}, domain.Internal("history", err)
	}

	page := HistoryPage{Entries: make([]domain.HistoryEntry, 0, len(rows))}
	for _, row := range rows {
		page.Entries = append(page.Entries, domain.HistoryEntry{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			Version:    row.Version,
			Author:     row.Author,
			Message:    row.Message,
			Timestamp:  row.CommittedAt,
			Additions:  row.Additions,
			Deletions:  row.Deletions,
		})
	}
	page.HasMore = len(page.Entries) == limit
	return page, nil
}

// Epoch reads the epoch row, creating it the first time any replica asks.
func (s *GormStore) Epoch(ctx context.Context) (string, error) {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if s.epoch != "" {
		return s.epoch, nil
	}

	var meta MetaModel
	err := s.db.WithContext(ctx).
		Where(MetaModel{Key: epochSetting}).
		Attrs(MetaModel{Value: uuid.NewString()}).
		FirstOrCreate(&meta).Error
	if err != nil && isDuplicateKey(err) {
		// another replica created it first
		err = s.db.WithContext(ctx).Where(MetaModel{Key: epochSetting}).First(&meta).Error
	}
	if err != nil {
		return "", domain.Internal("load epoch", err)
	}
	s.epoch = meta.Value
	return s.epoch, nil
}

// Close is a no-op, the connection pool belongs to the caller.
func (s *GormStore) Close() error {
	return nil
}

func (s *GormStore) currentVersion(ctx context.Context, key domain.IdentityKey) (int64, error) {
	var version int64
	err := whereKey(s.db.WithContext(ctx).Model(&DocumentModel{}), key).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	return version, err
}

func (m DocumentModel) toDomain() *domain.Document {
	return &domain.Document{
		ID:        m.ID,
		Key:       domain.IdentityKey{Repo: m.Repo, Branch: m.Branch, Path: m.Path},
		Blob:      m.Blob,
		Author:    m.Author,
		Version:   m.Version,
		Timestamp: m.CommittedAt,
		Type:      m.Type,
		Metadata:  m.Metadata,
	}
}

func whereKey(db *gorm.DB, key domain.IdentityKey) *gorm.DB {
	return db.Where("repo = ? AND branch = ? AND path = ?", key.Repo, key.Branch, key.Path)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
