// Package gateway is the transport-independent document service. It authorizes
// callers, reports to the metrics observer and enriches write conflicts.
package gateway

import (
	"context"
	"time"

	"document-gateway/auth"
	"document-gateway/internal/domain"
	"document-gateway/internal/metrics"
	"document-gateway/internal/relay"
	"document-gateway/internal/resolver"
	"document-gateway/internal/store"
	"document-gateway/internal/worker"
	"document-gateway/redis"

	"github.com/rs/zerolog"
)

type WriteDiffRequest struct {
	Key           domain.IdentityKey
	Blob          []byte
	Metadata      map[string]string
	ParentVersion int64
}

// ConflictInfo describes the stored document a write lost against.
type ConflictInfo struct {
	HasConflict    bool   `json:"has_conflict"`
	CurrentVersion int64  `json:"current_version"`
	CurrentAuthor  string `json:"current_author"`
	CurrentContent []byte `json:"current_content"`
}

// WriteDiffResponse carries either the committed version or, when Conflict is
// set, the state the caller has to reconcile with.
type WriteDiffResponse struct {
	ID        string        `json:"id,omitempty"`
	Version   int64         `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Conflict  *ConflictInfo `json:"conflict,omitempty"`
}

type ResolveRequest struct {
	Key      domain.IdentityKey
	Strategy string
	Local    []byte
	Remote   []byte
}

type Service interface {
	WriteDiff(ctx context.Context, claims auth.Claims, req WriteDiffRequest) (*WriteDiffResponse, error)
	ReadSnapshot(ctx context.Context, claims auth.Claims, key domain.IdentityKey, version int64) (*domain.Document, error)
	GetHistory(ctx context.Context, claims auth.Claims, key domain.IdentityKey, query store.HistoryQuery) (*store.HistoryPage, error)
	ResolveConflict(ctx context.Context, claims auth.Claims, req ResolveRequest) (*resolver.Resolution, error)
	SubscribeChanges(ctx context.Context, claims auth.Claims, filter domain.Filter) (*relay.Subscription, error)
}

type DefaultService struct {
	store    store.Store
	relay    *relay.Relay
	resolver *resolver.Resolver
	cache    *redis.Cache
	observer metrics.Observer
	warmer   *worker.Pool
	logger   zerolog.Logger
}

type Option func(*DefaultService)

// WithCacheWarmer stores every committed version in the snapshot cache from
// the given pool, so later pinned reads skip the store.
func WithCacheWarmer(pool *worker.Pool) Option {
	return func(s *DefaultService) {
		s.warmer = pool
	}
}

func NewService(
	st store.Store,
	rl *relay.Relay,
	rs *resolver.Resolver,
	cache *redis.Cache,
	observer metrics.Observer,
	logger zerolog.Logger,
	opts ...Option,
) Service {
	if observer == nil {
		observer = metrics.Nop{}
	}
	s := &DefaultService{
		store:    st,
		relay:    rl,
		resolver: rs,
		cache:    cache,
		observer: observer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DefaultService) WriteDiff(ctx context.Context, claims auth.Claims, req WriteDiffRequest) (*WriteDiffResponse, error) {
	if err := claims.Require(auth.ScopeWrite); err != nil {
		return nil, err
	}
	s.observer.WriteAttempted()

	res, err := s.store.Write(ctx, store.WriteRequest{
		Key:           req.Key,
		Blob:          req.Blob,
		Author:        claims.Subject,
		Metadata:      req.Metadata,
		ParentVersion: req.ParentVersion,
	})
	if err != nil {
		if current, ok := domain.CurrentVersion(err); ok {
			s.observer.WriteConflicted()
			s.logger.Info().
				Str("repo", req.Key.Repo).Str("branch", req.Key.Branch).Str("path", req.Key.Path).
				Int64("parent_version", req.ParentVersion).Int64("current_version", current).
				Msg("write rejected by version conflict")
			return &WriteDiffResponse{Version: current, Conflict: s.conflictInfo(ctx, req.Key, current)}, nil
		}
		s.observer.WriteFailed()
		return nil, err
	}

	s.observer.WriteSucceeded()
	s.logger.Debug().
		Str("repo", req.Key.Repo).Str("branch", req.Key.Branch).Str("path", req.Key.Path).
		Int64("version", res.Version).Str("author", claims.Subject).
		Msg("write committed")

	if s.warmer != nil && s.cache.Enabled() {
		doc := &domain.Document{
			ID:        res.ID,
			Key:       req.Key,
			Blob:      req.Blob,
			Author:    claims.Subject,
			Version:   res.Version,
			Timestamp: res.Timestamp,
			Type:      domain.DocumentType,
			Metadata:  req.Metadata,
		}
		s.warmer.Submit(func(ctx context.Context) error {
			epoch, err := s.store.Epoch(ctx)
			if err != nil {
				return err
			}
			s.cache.PutSnapshot(ctx, epoch, doc)
			return nil
		})
	}
	return &WriteDiffResponse{ID: res.ID, Version: res.Version, Timestamp: res.Timestamp}, nil
}

// conflictInfo reads the current document so the caller can reconcile in one round trip.
func (s *DefaultService) conflictInfo(ctx context.Context, key domain.IdentityKey, current int64) *ConflictInfo {
	info := &ConflictInfo{HasConflict: true, CurrentVersion: current}
	if current == 0 {
		return info
	}
	// pinned, so content matches the reported version even if another write lands meanwhile
	doc, err := s.store.Read(ctx, key, current)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("could not load current document for conflict")
		return info
	}
	info.CurrentAuthor = doc.Author
	info.CurrentContent = doc.Blob
	return info
}

func (s *DefaultService) ReadSnapshot(ctx context.Context, claims auth.Claims, key domain.IdentityKey, version int64) (*domain.Document, error) {
	if err := claims.Require(auth.ScopeRead); err != nil {
		return nil, err
	}
	s.observer.ReadAttempted()

	epoch := s.snapshotEpoch(ctx, version)
	if epoch != "" {
		if doc, ok := s.cache.GetSnapshot(ctx, epoch, key, version); ok {
			s.observer.ReadSucceeded()
			return doc, nil
		}
	}

	doc, err := s.store.Read(ctx, key, version)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			s.observer.ReadNotFound()
		} else {
			s.observer.ReadFailed()
		}
		return nil, err
	}
	s.observer.ReadSucceeded()

	if epoch != "" {
		s.cache.PutSnapshot(ctx, epoch, doc)
	}
	return doc, nil
}

// snapshotEpoch returns the store epoch when a pinned read may use the cache, or "" to bypass it.
func (s *DefaultService) snapshotEpoch(ctx context.Context, version int64) string {
	if version <= 0 || !s.cache.Enabled() {
		return ""
	}
	epoch, err := s.store.Epoch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("store epoch unavailable, bypassing snapshot cache")
		return ""
	}
	return epoch
}

func (s *DefaultService) GetHistory(ctx context.Context, claims auth.Claims, key domain.IdentityKey, query store.HistoryQuery) (*store.HistoryPage, error) {
	if err := claims.Require(auth.ScopeRead); err != nil {
		return nil, err
	}
	page, err := s.store.History(ctx, key, query)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *DefaultService) ResolveConflict(ctx context.Context, claims auth.Claims, req ResolveRequest) (*resolver.Resolution, error) {
	if err := claims.Require(auth.ScopeWrite); err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(req.Strategy, req.Local, req.Remote)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("key", req.Key.String()).Str("strategy", res.Strategy).Msg("conflict resolved")
	return &res, nil
}

func (s *DefaultService) SubscribeChanges(ctx context.Context, claims auth.Claims, filter domain.Filter) (*relay.Subscription, error) {
	if err := claims.Require(auth.ScopeRead); err != nil {
		return nil, err
	}
	return s.relay.Subscribe(ctx, filter)
}

// Version is reported by health checks. Overridden at build time with -ldflags.
var Version = "dev"
