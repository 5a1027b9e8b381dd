package rpc

import (
	"context"
	"errors"

	"document-gateway/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = map[domain.Kind]codes.Code{
	domain.KindNotFound:         codes.NotFound,
	domain.KindConflict:         codes.Aborted,
	domain.KindInvalidRequest:   codes.InvalidArgument,
	domain.KindUnimplemented:    codes.Unimplemented,
	domain.KindAdapterFailure:   codes.Unavailable,
	domain.KindUnauthenticated:  codes.Unauthenticated,
	domain.KindPermissionDenied: codes.PermissionDenied,
	domain.KindInternal:         codes.Internal,
}

// toStatus converts a domain error into a gRPC status error. Internal causes are never sent to the caller.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(kindCodes[domain.KindOf(err)], domain.Message(err))
}

// fromStatus maps a status received by a client back onto the domain sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for kind, code := range kindCodes {
		if code == st.Code() {
			return &domain.Error{Kind: kind, Op: "rpc", Msg: st.Message()}
		}
	}
	return err
}
