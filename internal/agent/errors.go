package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned when a provider's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrNoProvider is returned when a runner is built without a provider.
	ErrNoProvider = errors.New("no execution provider configured")
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindServerError     ErrorKind = "server_error"
	KindConnectionReset ErrorKind = "connection_reset"
	KindTimeout         ErrorKind = "timeout"
	KindOther           ErrorKind = "other"
)

// ProviderError is a typed failure reported by a provider.
type ProviderError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ProviderError) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: rate limits, server
// errors, connection resets and timeouts.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindRateLimited, KindServerError, KindConnectionReset, KindTimeout:
			return true
		}
	}
	return false
}

// ExecutionError wraps a failure that survived every retry.
type ExecutionError struct {
	Agent    string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s failed after %d attempt(s): %v", e.Agent, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// classify maps context expiry of a single invocation to a timeout.
func classify(err error, parent context.Context) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return &ProviderError{Kind: KindTimeout, Msg: "invocation deadline exceeded", Err: err}
	}
	return err
}
