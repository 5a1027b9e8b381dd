package changefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"document-gateway/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// notification is the NOTIFY payload. Payloads are capped at 8000 bytes by
// postgres, so the blob is loaded separately.
type notification struct {
	Kind    domain.ChangeKind `json:"kind"`
	Repo    string            `json:"repo"`
	Branch  string            `json:"branch"`
	Path    string            `json:"path"`
	Version int64             `json:"version"`
}

// ChannelName is the LISTEN channel for one repo and branch.
func ChannelName(repo, branch string) string {
	h := fnv.New64a()
	h.Write([]byte(repo))
	h.Write([]byte{0})
	h.Write([]byte(branch))
	return fmt.Sprintf("docgw_changes_%016x", h.Sum64())
}

// PostgresNotifier issues pg_notify from inside the write transaction.
type PostgresNotifier struct{}

func (PostgresNotifier) NotifyTx(tx *gorm.DB, rec domain.ChangeRecord) error {
	payload, err := notificationPayload(rec)
	if err != nil {
		return err
	}
	return tx.Exec("SELECT pg_notify(?, ?)", ChannelName(rec.Key.Repo, rec.Key.Branch), payload).Error
}

// maxNotifyPayload is the largest payload pg_notify accepts.
const maxNotifyPayload = 7999

func notificationPayload(rec domain.ChangeRecord) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(notification{
		Kind:    rec.Kind,
		Repo:    rec.Key.Repo,
		Branch:  rec.Key.Branch,
		Path:    rec.Key.Path,
		Version: rec.Version,
	}); err != nil {
		return "", err
	}
	payload := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(payload) > maxNotifyPayload {
		return "", domain.InvalidRequest("notify", fmt.Sprintf("change notification is %d bytes, the limit is %d", len(payload), maxNotifyPayload))
	}
	return string(payload), nil
}

// SnapshotReader loads one pinned version of a document.
type SnapshotReader interface {
	Read(ctx context.Context, key domain.IdentityKey, version int64) (*domain.Document, error)
}

// PostgresSource streams changes with LISTEN on a dedicated connection per stream.
type PostgresSource struct {
	dsn    string
	reader SnapshotReader
	logger zerolog.Logger
}

func NewPostgresSource(dsn string, reader SnapshotReader, logger zerolog.Logger) *PostgresSource {
	return &PostgresSource{dsn: dsn, reader: reader, logger: logger}
}

func (p *PostgresSource) Open(ctx context.Context, filter domain.Filter) (Stream, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, domain.AdapterFailure("open change stream", err)
	}
	channel := ChannelName(filter.Repo, filter.Branch)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, domain.AdapterFailure("open change stream", err)
	}
	p.logger.Debug().Str("channel", channel).Str("repo", filter.Repo).Str("branch", filter.Branch).Msg("listening for changes")

	return &pgStream{
		conn:   conn,
		reader: p.reader,
		repo:   filter.Repo,
		branch: filter.Branch,
	}, nil
}

type pgStream struct {
	conn   *pgx.Conn
	reader SnapshotReader
	repo   string
	branch string

	closeOnce sync.Once
}

func (s *pgStream) Next(ctx context.Context) (domain.ChangeRecord, error) {
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ChangeRecord{}, ctx.Err()
			}
			return domain.ChangeRecord{}, domain.AdapterFailure("next change", err)
		}

		payload, ok, err := parseNotification(n.Payload, s.repo, s.branch)
		if err != nil {
			return domain.ChangeRecord{}, domain.AdapterFailure("next change", err)
		}
		if !ok {
			continue
		}

		key := domain.IdentityKey{Repo: payload.Repo, Branch: payload.Branch, Path: payload.Path}
		doc, err := s.reader.Read(ctx, key, payload.Version)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ChangeRecord{}, ctx.Err()
			}
			return domain.ChangeRecord{}, domain.AdapterFailure("load change", err)
		}
		return domain.ChangeRecord{
			Kind:      payload.Kind,
			Key:       key,
			Blob:      doc.Blob,
			Author:    doc.Author,
			Version:   doc.Version,
			Timestamp: doc.Timestamp,
			Metadata:  doc.Metadata,
		}, nil
	}
}

// Close must not be called while Next is running on another goroutine.
func (s *pgStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close(context.Background())
	})
	return err
}

// parseNotification decodes a payload and reports whether it belongs to the
// stream's repo and branch. Channel names are hashes, so collisions are dropped here.
func parseNotification(payload, repo, branch string) (notification, bool, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, false, fmt.Errorf("decode notification: %w", err)
	}
	return n, n.Repo == repo && n.Branch == branch, nil
}
