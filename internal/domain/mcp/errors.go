package mcp

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind is the gateway's internal error taxonomy, each variant mapped
// to a gRPC status code at the facade boundary (spec §6).
type ErrorKind string

const (
	ErrServerNotFound   ErrorKind = "SERVER_NOT_FOUND"
	ErrServerUnavailable ErrorKind = "SERVER_UNAVAILABLE"
	ErrTransport        ErrorKind = "TRANSPORT_ERROR"
	ErrProtocol         ErrorKind = "PROTOCOL_ERROR"
	ErrTool             ErrorKind = "TOOL_ERROR"
	ErrCallTimeout      ErrorKind = "CALL_TIMEOUT"
	ErrShuttingDown     ErrorKind = "SHUTTING_DOWN"
	ErrValidation       ErrorKind = "VALIDATION_ERROR"
)

// Error is the concrete error type carried through the engine. It wraps an
// underlying cause the way the teacher's StepError wraps Err, and exposes a
// Kind used to pick a gRPC status code at the RPC facade boundary.
type Error struct {
	Kind     ErrorKind
	ServerID string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.ServerID != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.ServerID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, serverID, msg string, cause error) *Error {
	return &Error{Kind: kind, ServerID: serverID, Message: msg, Err: cause}
}

func NewValidationError(msg string) *Error {
	return newError(ErrValidation, "", msg, nil)
}

func NewServerNotFoundError(serverID string) *Error {
	return newError(ErrServerNotFound, serverID, "server not registered", nil)
}

func NewServerUnavailableError(serverID string, cause error) *Error {
	return newError(ErrServerUnavailable, serverID, "server unavailable", cause)
}

func NewTransportError(serverID, msg string, cause error) *Error {
	return newError(ErrTransport, serverID, msg, cause)
}

func NewProtocolError(serverID, msg string, cause error) *Error {
	return newError(ErrProtocol, serverID, msg, cause)
}

func NewToolError(serverID, msg string, cause error) *Error {
	return newError(ErrTool, serverID, msg, cause)
}

func NewCallTimeoutError(serverID string) *Error {
	return newError(ErrCallTimeout, serverID, "call deadline exceeded", nil)
}

func NewShuttingDownError(serverID string) *Error {
	return newError(ErrShuttingDown, serverID, "registry is shutting down", nil)
}

// GRPCStatus maps the internal Kind to a gRPC status code and wraps the
// message, so handlers can return it directly as the RPC error.
func (e *Error) GRPCStatus() *status.Status {
	code := codes.Internal
	switch e.Kind {
	case ErrServerNotFound:
		code = codes.NotFound
	case ErrServerUnavailable, ErrTransport:
		code = codes.Unavailable
	case ErrShuttingDown:
		code = codes.FailedPrecondition
	case ErrCallTimeout:
		code = codes.DeadlineExceeded
	case ErrValidation:
		code = codes.InvalidArgument
	case ErrProtocol, ErrTool:
		code = codes.Internal
	}
	return status.New(code, e.Error())
}

// AsError unwraps err looking for a *Error, the way callers check whether a
// failure originated inside the engine versus from an unrelated cause.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
