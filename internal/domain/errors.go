package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalidRequest
	KindUnimplemented
	KindAdapterFailure
	KindUnauthenticated
	KindPermissionDenied
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "version_conflict"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUnimplemented:
		return "unimplemented"
	case KindAdapterFailure:
		return "adapter_failure"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is checks against any error of the matching kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrVersionConflict  = errors.New("version conflict")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnimplemented    = errors.New("not implemented")
	ErrAdapterFailure   = errors.New("change feed failure")
	ErrInternal         = errors.New("internal error")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
)

var sentinels = map[Kind]error{
	KindInternal:         ErrInternal,
	KindNotFound:         ErrNotFound,
	KindConflict:         ErrVersionConflict,
	KindInvalidRequest:   ErrInvalidRequest,
	KindUnimplemented:    ErrUnimplemented,
	KindAdapterFailure:   ErrAdapterFailure,
	KindUnauthenticated:  ErrUnauthenticated,
	KindPermissionDenied: ErrPermissionDenied,
}

// Error is the error type returned across component boundaries.
// Driver errors are kept in Err for logging but never exposed in Msg.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == sentinels[e.Kind]
}

// ConflictError reports a lost compare-and-swap together with the version actually stored.
type ConflictError struct {
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

func Conflict(current int64) *ConflictError {
	return &ConflictError{CurrentVersion: current}
}

func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func InvalidRequest(op, msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Op: op, Msg: msg}
}

func Unimplemented(op, msg string) *Error {
	return &Error{Kind: KindUnimplemented, Op: op, Msg: msg}
}

func AdapterFailure(op string, err error) *Error {
	return &Error{Kind: KindAdapterFailure, Op: op, Err: err}
}

func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

func Unauthenticated(msg string, err error) *Error {
	return &Error{Kind: KindUnauthenticated, Msg: msg, Err: err}
}

func PermissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Msg: msg}
}

// KindOf classifies err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return KindConflict
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CurrentVersion extracts the stored version from a conflict error.
func CurrentVersion(err error) (int64, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.CurrentVersion, true
	}
	return 0, false
}

// Message returns a caller-safe description of err.
func Message(err error) string {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Error()
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return sentinels[e.Kind].Error()
	}
	return ErrInternal.Error()
}
