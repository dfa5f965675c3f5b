package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind classifies a resolution failure.
type Kind int

const (
	// KindPermanent failures will not succeed on retry.
	KindPermanent Kind = iota
	// KindTransient failures are likely to succeed on retry.
	KindTransient
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var (
	ErrUnsupported = errors.New("unsupported reference")
	ErrNotFound    = errors.New("no playable result")
	ErrPoolClosed  = errors.New("resolver pool closed")
)

// Error is the classified failure returned across the pool boundary.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Message: err.Error(), cause: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Message: err.Error(), cause: err}
}

// Classify returns err as an *Error, deciding the kind from its text when
// the provider did not classify it already.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}
	if errors.Is(err, context.DeadlineExceeded) || isTransient(err) {
		return Transient(err)
	}
	return Permanent(err)
}

// isTransient matches rate limiting, forbidden and server error signatures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, sig := range []string{
		"403", "forbidden",
		"429", "too many requests", "rate limit",
		"500", "502", "503", "504",
		"timed out", "timeout", "connection reset", "temporary failure",
	} {
		if strings.Contains(s, sig) {
			return true
		}
	}
	return false
}
