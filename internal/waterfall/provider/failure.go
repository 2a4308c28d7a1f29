package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/skiptrace/internal/resilience"
)

// Kind classifies a lookup failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindTransport   Kind = "transport"
	KindHTTP        Kind = "http"
	KindMalformed   Kind = "malformed"
	KindNoMatch     Kind = "no_match"
	KindCircuitOpen Kind = "circuit_open"
)

// Failure is the error returned by every adapter.
type Failure struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("provider %s: %s", f.Provider, f.Reason())
	}
	return fmt.Sprintf("provider %s: %s: %v", f.Provider, f.Reason(), f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Reason is the short form stored in the ledger, e.g. "timeout" or "http_503".
func (f *Failure) Reason() string {
	if f.Kind == KindHTTP && f.StatusCode > 0 {
		return fmt.Sprintf("http_%d", f.StatusCode)
	}
	return string(f.Kind)
}

// Retryable reports whether another attempt within the same invocation
// could succeed.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindHTTP:
		return resilience.TransientStatus(f.StatusCode)
	default:
		return false
	}
}

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// classify wraps a transport-level error from http.Client.Do.
func classify(provider string, err error) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		kind = KindTimeout
	}
	return &Failure{Provider: provider, Kind: kind, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func retryable(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Retryable()
}
