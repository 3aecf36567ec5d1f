// ABOUTME: Error taxonomy for executor calls and routing.
// ABOUTME: Classifies transport, timeout, HTTP and protocol failures into stable kinds.

package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed executor call.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindTimeout          ErrorKind = "timeout"
	KindCanceled         ErrorKind = "canceled"
	KindHTTP4xx          ErrorKind = "http_4xx"
	KindHTTP5xx          ErrorKind = "http_5xx"
	KindInvalidResponse  ErrorKind = "invalid_response"
	KindExecutionFailure ErrorKind = "execution_failure" // the tool itself threw
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrNetwork          = errors.New("executor unreachable")
	ErrTimeout          = errors.New("executor timed out")
	ErrCanceled         = errors.New("executor call canceled")
	ErrHTTP4xx          = errors.New("executor rejected request")
	ErrHTTP5xx          = errors.New("executor server error")
	ErrInvalidResponse  = errors.New("invalid executor response")
	ErrExecutionFailure = errors.New("tool execution failed")
)

var kindSentinels = map[ErrorKind]error{
	KindNetwork:          ErrNetwork,
	KindTimeout:          ErrTimeout,
	KindCanceled:         ErrCanceled,
	KindHTTP4xx:          ErrHTTP4xx,
	KindHTTP5xx:          ErrHTTP5xx,
	KindInvalidResponse:  ErrInvalidResponse,
	KindExecutionFailure: ErrExecutionFailure,
}

// Error is returned by every Client operation that fails.
type Error struct {
	Kind       ErrorKind
	Op         string // "introspect", "health", "execute"
	StatusCode int    // set for http_4xx / http_5xx
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel, so errors.Is(err, ErrTimeout) works.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of an executor error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// classifyTransport maps an error from http.Client.Do or body reads.
func classifyTransport(op string, ctx context.Context, err error) *Error {
	kind := KindNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		// The caller went away; a deadline on ctx still counts as a timeout.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		} else {
			kind = KindCanceled
		}
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func classifyStatus(op string, status int, message string) *Error {
	kind := KindHTTP5xx
	if status >= 400 && status < 500 {
		kind = KindHTTP4xx
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: message}
}

// RouteCode is the stable error vocabulary the router exposes to callers.
type RouteCode string

const (
	CodeUnreachable RouteCode = "executor_unreachable"
	CodeTimeout     RouteCode = "executor_timeout"
	CodeRejected    RouteCode = "executor_rejected"
)

// Route-level sentinels matched by errors.Is against a *RouteError.
var (
	ErrExecutorUnreachable = errors.New(string(CodeUnreachable))
	ErrExecutorTimeout     = errors.New(string(CodeTimeout))
	ErrExecutorRejected    = errors.New(string(CodeRejected))
)

// RouteError wraps a transport failure seen while routing a call.
type RouteError struct {
	Code     RouteCode
	Executor string // "default" or "custom"
	Err      *Error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s (%s executor): %v", e.Code, e.Executor, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

func (e *RouteError) Is(target error) bool {
	switch e.Code {
	case CodeUnreachable:
		return target == ErrExecutorUnreachable
	case CodeTimeout:
		return target == ErrExecutorTimeout
	case CodeRejected:
		return target == ErrExecutorRejected
	}
	return false
}

// routeCodeFor maps a client error kind to the router vocabulary.
// Execution failures and cancellations are not transport faults and have no code.
func routeCodeFor(kind ErrorKind) (RouteCode, bool) {
	switch kind {
	case KindNetwork:
		return CodeUnreachable, true
	case KindTimeout:
		return CodeTimeout, true
	case KindHTTP4xx, KindHTTP5xx, KindInvalidResponse:
		return CodeRejected, true
	}
	return "", false
}
