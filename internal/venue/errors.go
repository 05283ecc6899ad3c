// internal/venue/errors.go
package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a venue failure for the caller's error policy:
// transient failures are retried, validation and insufficient-resource
// failures fail the triggering action only, fatal failures terminate the
// session.
type Kind string

const (
	KindTransient         Kind = "transient"
	KindValidation        Kind = "validation"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindBelowMinimum      Kind = "below_minimum_size"
	KindFatal             Kind = "fatal"
)

// Error is a classified venue failure with call context.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue %s [%s]: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("venue %s [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified venue error.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the classification from err. Untyped errors fall back to
// the network heuristic: anything that looks like a transport failure is
// transient, everything else is treated as validation-grade (fail fast,
// retrying an unknown error against a funds-moving venue is worse than
// skipping a cycle).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if IsNetworkError(err) {
		return KindTransient
	}
	return KindValidation
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsValidation reports whether err is a parameter/config rejection.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsInsufficientFunds reports whether the trader's available balance could
// not cover the request.
func IsInsufficientFunds(err error) bool {
	return KindOf(err) == KindInsufficientFunds
}

// IsBelowMinimum reports whether the requested position was under the
// venue's minimum size.
func IsBelowMinimum(err error) bool {
	return KindOf(err) == KindBelowMinimum
}

// IsFatal reports whether err is irrecoverable for the session.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// IsNoTrade reports whether err means "no trade this cycle" rather than a
// real failure: the balance or size was not enough, the session carries on.
func IsNoTrade(err error) bool {
	k := KindOf(err)
	return k == KindInsufficientFunds || k == KindBelowMinimum
}

var networkErrorMarkers = []string{
	"connection refused",
	"connection reset",
	"connection aborted",
	"no such host",
	"timeout",
	"timed out",
	"network is unreachable",
	"broken pipe",
	"socket",
	"EOF",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
}

// IsNetworkError reports whether err looks like a transport-level failure.
// Typed checks first, keyword match as the last resort for errors that
// arrive as bare strings from the venue.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := err.Error()
	for _, marker := range networkErrorMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
