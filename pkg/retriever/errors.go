package retriever

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a retrieval failure so the tool layer can build
// {error: ...} payloads without string matching.
type ErrorKind string

const (
	// KindConfig marks a missing or invalid setting, such as an absent
	// LLM API key when an LLM-using strategy is requested.
	KindConfig ErrorKind = "config_error"

	// KindStrategyUnknown marks a factory call with an unregistered name.
	KindStrategyUnknown ErrorKind = "strategy_unknown"

	// KindAdapterUnavailable marks an unreachable vector store, LLM, or
	// embedding provider.
	KindAdapterUnavailable ErrorKind = "adapter_unavailable"

	// KindSubStrategyFailure marks a failed ensemble or multi-query
	// member. It is logged, never propagated: the parent call succeeds
	// with the surviving contributions.
	KindSubStrategyFailure ErrorKind = "sub_strategy_failure"

	// KindTimeout marks a deadline expiry at the top level.
	KindTimeout ErrorKind = "timeout"
)

// Error attaches the failing strategy and a classification to an
// underlying cause.
type Error struct {
	Strategy string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(strategy string, kind ErrorKind, err error) *Error {
	return &Error{Strategy: strategy, Kind: kind, Err: err}
}

// KindOf returns the classification carried by err. Deadline expiry
// maps to KindTimeout; errors without a classification map to "".
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}
