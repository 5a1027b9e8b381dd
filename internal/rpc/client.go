package rpc

import (
	"context"

	"document-gateway/internal/domain"
	"document-gateway/internal/gateway"
	"document-gateway/internal/resolver"
	"document-gateway/internal/store"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// bearerCredentials attaches the token to every call.
type bearerCredentials struct {
	token string
}

func (b bearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerCredentials) RequireTransportSecurity() bool {
	return false
}

type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target without TLS unless opts supply transport credentials.
func NewClient(target, token string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(bearerCredentials{token: token}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) WriteDiff(ctx context.Context, in *WriteDiffRequest) (*gateway.WriteDiffResponse, error) {
	out := new(gateway.WriteDiffResponse)
	if err := c.conn.Invoke(ctx, writeDiffMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) ReadSnapshot(ctx context.Context, in *ReadSnapshotRequest) (*Snapshot, error) {
	out := new(Snapshot)
	if err := c.conn.Invoke(ctx, readSnapshotMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) GetHistory(ctx context.Context, in *HistoryRequest) (*store.HistoryPage, error) {
	out := new(store.HistoryPage)
	if err := c.conn.Invoke(ctx, getHistoryMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func (c *Client) ResolveConflict(ctx context.Context, in *ResolveRequest) (*resolver.Resolution, error) {
	out := new(resolver.Resolution)
	if err := c.conn.Invoke(ctx, resolveConflictMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// SubscribeChanges opens a server stream. Cancel ctx to end it.
func (c *Client) SubscribeChanges(ctx context.Context, in *SubscribeRequest) (grpc.ServerStreamingClient[domain.ChangeRecord], error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, fromStatus(err)
	}
	s := &grpc.GenericClientStream[SubscribeRequest, domain.ChangeRecord]{ClientStream: stream}
	if err := s.ClientStream.SendMsg(in); err != nil {
		return nil, fromStatus(err)
	}
	if err := s.ClientStream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	return s, nil
}
