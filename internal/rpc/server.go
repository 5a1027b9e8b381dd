package rpc

import (
	"context"
	"errors"
	"maps"

	"document-gateway/auth"
	"document-gateway/internal/domain"
	"document-gateway/internal/gateway"
	"document-gateway/internal/middleware"
	"document-gateway/internal/resolver"
	"document-gateway/internal/store"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server adapts gateway.Service to the DocumentGateway RPC surface.
type Server struct {
	service gateway.Service
	logger  zerolog.Logger
}

func NewServer(service gateway.Service, logger zerolog.Logger) *Server {
	return &Server{service: service, logger: logger}
}

// NewGRPCServer builds a grpc.Server with authentication and logging interceptors,
// the DocumentGateway service and the standard health service registered.
func NewGRPCServer(service gateway.Service, validator middleware.TokenValidator, logger zerolog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryLogger(logger), UnaryAuth(validator)),
		grpc.ChainStreamInterceptor(StreamLogger(logger), StreamAuth(validator)),
	)
	srv := grpc.NewServer(opts...)
	RegisterDocumentGatewayServer(srv, NewServer(service, logger))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func claimsFrom(ctx context.Context) auth.Claims {
	claims, _ := auth.FromContext(ctx)
	return claims
}

func (s *Server) WriteDiff(ctx context.Context, in *WriteDiffRequest) (*gateway.WriteDiffResponse, error) {
	metadata := maps.Clone(in.Metadata)
	if metadata == nil {
		metadata = make(map[string]string)
	}
	if in.Message != "" {
		metadata["message"] = in.Message
	}

	// a version conflict is reported in the response body, not as an error status
	res, err := s.service.WriteDiff(ctx, claimsFrom(ctx), gateway.WriteDiffRequest{
		Key:           domain.IdentityKey{Repo: in.Repo, Branch: in.Branch, Path: in.Path},
		Blob:          in.Diff,
		Metadata:      metadata,
		ParentVersion: in.ParentVersion,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *Server) ReadSnapshot(ctx context.Context, in *ReadSnapshotRequest) (*Snapshot, error) {
	key := domain.IdentityKey{Repo: in.Repo, Branch: in.Branch, Path: in.Path}
	doc, err := s.service.ReadSnapshot(ctx, claimsFrom(ctx), key, in.Version)
	if err != nil {
		return nil, toStatus(err)
	}
	return &Snapshot{
		ID:        doc.ID,
		Content:   doc.Blob,
		Version:   doc.Version,
		Author:    doc.Author,
		Timestamp: doc.Timestamp,
		Type:      doc.Type,
		Metadata:  doc.Metadata,
	}, nil
}

func (s *Server) GetHistory(ctx context.Context, in *HistoryRequest) (*store.HistoryPage, error) {
	key := domain.IdentityKey{Repo: in.Repo, Branch: in.Branch, Path: in.Path}
	page, err := s.service.GetHistory(ctx, claimsFrom(ctx), key, store.HistoryQuery{
		Limit:         int(in.Limit),
		BeforeVersion: in.BeforeVersion,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return page, nil
}

func (s *Server) ResolveConflict(ctx context.Context, in *ResolveRequest) (*resolver.Resolution, error) {
	res, err := s.service.ResolveConflict(ctx, claimsFrom(ctx), gateway.ResolveRequest{
		Key:      domain.IdentityKey{Repo: in.Repo, Branch: in.Branch, Path: in.Path},
		Strategy: in.Strategy,
		Local:    in.Local,
		Remote:   in.Remote,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

// SubscribeChanges forwards relay records until the caller cancels or the feed fails.
func (s *Server) SubscribeChanges(in *SubscribeRequest, stream grpc.ServerStreamingServer[domain.ChangeRecord]) error {
	ctx := stream.Context()
	sub, err := s.service.SubscribeChanges(ctx, claimsFrom(ctx), in.filter())
	if err != nil {
		return toStatus(err)
	}
	defer sub.Close()

	for rec := range sub.Records() {
		if err := stream.Send(&rec); err != nil {
			return err
		}
	}
	<-sub.Done()
	if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("subscription", sub.ID).Msg("change stream ended with error")
		return toStatus(err)
	}
	return toStatus(ctx.Err())
}
