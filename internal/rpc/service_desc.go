package rpc

import (
	"context"

	"document-gateway/internal/domain"
	"document-gateway/internal/gateway"
	"document-gateway/internal/resolver"
	"document-gateway/internal/store"

	"google.golang.org/grpc"
)

const ServiceName = "docgateway.v1.DocumentGateway"

const (
	writeDiffMethod       = "/" + ServiceName + "/WriteDiff"
	readSnapshotMethod    = "/" + ServiceName + "/ReadSnapshot"
	getHistoryMethod      = "/" + ServiceName + "/GetHistory"
	resolveConflictMethod = "/" + ServiceName + "/ResolveConflict"
	subscribeMethod       = "/" + ServiceName + "/SubscribeChanges"
)

type DocumentGatewayServer interface {
	WriteDiff(context.Context, *WriteDiffRequest) (*gateway.WriteDiffResponse, error)
	ReadSnapshot(context.Context, *ReadSnapshotRequest) (*Snapshot, error)
	GetHistory(context.Context, *HistoryRequest) (*store.HistoryPage, error)
	ResolveConflict(context.Context, *ResolveRequest) (*resolver.Resolution, error)
	SubscribeChanges(*SubscribeRequest, grpc.ServerStreamingServer[domain.ChangeRecord]) error
}

func RegisterDocumentGatewayServer(s grpc.ServiceRegistrar, srv DocumentGatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler that decodes Req and calls fn through the interceptor chain.
func unary[Req, Res any](method string, fn func(DocumentGatewayServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(DocumentGatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(DocumentGatewayServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocumentGatewayServer).SubscribeChanges(in, &grpc.GenericServerStream[SubscribeRequest, domain.ChangeRecord]{ServerStream: stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WriteDiff", Handler: unary(writeDiffMethod, DocumentGatewayServer.WriteDiff)},
		{MethodName: "ReadSnapshot", Handler: unary(readSnapshotMethod, DocumentGatewayServer.ReadSnapshot)},
		{MethodName: "GetHistory", Handler: unary(getHistoryMethod, DocumentGatewayServer.GetHistory)},
		{MethodName: "ResolveConflict", Handler: unary(resolveConflictMethod, DocumentGatewayServer.ResolveConflict)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SubscribeChanges", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "docgateway/v1/gateway",
}
