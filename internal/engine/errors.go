package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/ability/internal/ir"
)

// RuntimeError is the error every computation callback reports.
//
// Codes:
//   - INTERRUPTED: the remote side intentionally aborted the request
//   - FAILURE: the remote side reported it could not satisfy the request
//   - ABORTED: the local caller aborted the computation
//   - TRANSPORT: the message could not be delivered or the peer went down
//   - TIMEOUT: a wait ran past its deadline
//   - PRECONDITION_FAILED: a recipe's preconditions did not hold
//   - UNKNOWN_AGENT: no route to the named agent
//   - NOT_FOUND: a referenced variable, task or request does not exist
//   - QUEUE_FULL: the constraint queue rejected a request
//
// Callers that want to treat interruption differently from failure use
// IsInterrupted rather than comparing codes.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Request identifies the affected request, if any.
	Request ir.Identifier

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeInterrupted  RuntimeErrorCode = "INTERRUPTED"
	ErrCodeFailure      RuntimeErrorCode = "FAILURE"
	ErrCodeAborted      RuntimeErrorCode = "ABORTED"
	ErrCodeTransport    RuntimeErrorCode = "TRANSPORT"
	ErrCodeTimeout      RuntimeErrorCode = "TIMEOUT"
	ErrCodePrecondition RuntimeErrorCode = "PRECONDITION_FAILED"
	ErrCodeUnknownAgent RuntimeErrorCode = "UNKNOWN_AGENT"
	ErrCodeNotFound     RuntimeErrorCode = "NOT_FOUND"
	ErrCodeQueueFull    RuntimeErrorCode = "QUEUE_FULL"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Request.IsZero() {
		msg = fmt.Sprintf("%s (request=%s)", msg, e.Request)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first RuntimeError in err's chain, or "".
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsInterrupted reports whether err means the remote side aborted us.
func IsInterrupted(err error) bool { return CodeOf(err) == ErrCodeInterrupted }

// IsFailure reports whether err is a remote failure answer.
func IsFailure(err error) bool { return CodeOf(err) == ErrCodeFailure }

// IsAborted reports whether err means the computation was aborted locally.
func IsAborted(err error) bool { return CodeOf(err) == ErrCodeAborted }

// IsTransport reports whether err is a delivery or liveness failure.
func IsTransport(err error) bool { return CodeOf(err) == ErrCodeTransport }

// IsTimeout reports whether err is a wait deadline.
func IsTimeout(err error) bool { return CodeOf(err) == ErrCodeTimeout }

// IsPrecondition reports whether err is an unmet-precondition error.
func IsPrecondition(err error) bool { return CodeOf(err) == ErrCodePrecondition }

// NewInterruptedError reports that the remote side aborted a request.
func NewInterruptedError(req ir.Identifier) *RuntimeError {
	return &RuntimeError{Code: ErrCodeInterrupted, Message: "request interrupted by remote", Request: req}
}

// NewFailureError reports a FAILURE answer.
func NewFailureError(req ir.Identifier, reason string) *RuntimeError {
	if reason == "" {
		reason = "constraint could not be satisfied"
	}
	return &RuntimeError{Code: ErrCodeFailure, Message: reason, Request: req}
}

// NewAbortedError reports a local abort.
func NewAbortedError(what string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeAborted, Message: what + " aborted"}
}

// NewTransportError wraps a delivery failure.
func NewTransportError(req ir.Identifier, peer string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTransport,
		Message: fmt.Sprintf("send to %s failed", peer),
		Request: req,
		Details: map[string]string{"peer": peer},
		Err:     err,
	}
}

// NewPeerDownError fails a request whose peer stopped answering pings.
func NewPeerDownError(req ir.Identifier, peer string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTransport,
		Message: fmt.Sprintf("peer %s is down", peer),
		Request: req,
		Details: map[string]string{"peer": peer},
	}
}

// NewTimeoutError reports a wait deadline.
func NewTimeoutError(what string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeTimeout, Message: what + " timed out"}
}

// NewUnknownAgentError reports a missing route.
func NewUnknownAgentError(agent string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownAgent,
		Message: fmt.Sprintf("no route to agent %q", agent),
		Details: map[string]string{"agent": agent},
	}
}

// NewNotFoundError reports a missing variable, task or request.
func NewNotFoundError(kind, name string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", kind, name),
		Details: map[string]string{kind: name},
	}
}

// NewQueueFullError reports a rejected push into a bounded queue.
func NewQueueFullError(queue string, req ir.Identifier) *RuntimeError {
	return &RuntimeError{Code: ErrCodeQueueFull, Message: queue + " queue is full", Request: req}
}
