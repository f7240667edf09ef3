// Package rlmerr defines the error taxonomy shared across the orchestrator,
// REPL pool, memory store, and epistemic gate.
package rlmerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the taxonomy of errors the orchestrator needs to branch
// on (budget exhaustion vs. depth exceeded vs. a plain internal bug).
type Kind int

const (
	KindInternal Kind = iota
	KindReplExecution
	KindSubprocessComm
	KindTimeout
	KindLlmAPI
	KindMaxDepthExceeded
	KindBudgetExhausted
	KindMemoryStorage
	KindSerialization
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindReplExecution:
		return "repl_execution"
	case KindSubprocessComm:
		return "subprocess_comm"
	case KindTimeout:
		return "timeout"
	case KindLlmAPI:
		return "llm_api"
	case KindMaxDepthExceeded:
		return "max_depth_exceeded"
	case KindBudgetExhausted:
		return "budget_exhausted"
	case KindMemoryStorage:
		return "memory_storage"
	case KindSerialization:
		return "serialization"
	case KindConfig:
		return "config"
	default:
		return "internal"
	}
}

// Error wraps a cause with a taxonomy Kind, so callers can branch with
// errors.As while fmt.Errorf-based call sites keep their wrapped chain.
type Error struct {
	Kind    Kind
	Op      string
	Cause   error
	Message string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, rlmerr.ErrBudgetExhausted) match any *Error with the
// same Kind, without requiring identical messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause, Message: message}
}

func Wrap(kind Kind, op string, cause error) *Error {
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Op: op, Cause: cause, Message: msg}
}

// Sentinels for errors.Is comparisons where no extra context is needed.
var (
	ErrBudgetExhausted   = &Error{Kind: KindBudgetExhausted, Op: "budget", Message: "budget exhausted"}
	ErrMaxDepthExceeded  = &Error{Kind: KindMaxDepthExceeded, Op: "orchestrator", Message: "max recursion depth exceeded"}
	ErrTimeout           = &Error{Kind: KindTimeout, Op: "repl", Message: "operation timed out"}
	ErrReplUnavailable   = &Error{Kind: KindReplExecution, Op: "repl", Message: "no repl handle available"}
	ErrNoSignature       = &Error{Kind: KindSerialization, Op: "signature", Message: "no signature registered"}
	ErrMultipleSubmits   = &Error{Kind: KindSerialization, Op: "signature", Message: "multiple submit calls observed"}
)

// KindOf extracts the taxonomy Kind from err, defaulting to KindInternal
// when err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
