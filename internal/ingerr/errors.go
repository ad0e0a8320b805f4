// Package ingerr defines the error kinds providers and the composite
// classify failures into (spec.md §7). Prefer the typed constructors;
// the substring-sniffing fallback exists only for providers that can only
// signal rate limiting through a message string and is kept behind a named
// function so it can be tested in isolation (design note, §9).
package ingerr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failure for composite/reconnect retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindUnauthorized
	KindNotFound
	KindTransient
	KindCancellation
	KindValidation
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindCancellation:
		return "cancellation"
	case KindValidation:
		return "validation"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a classification and, for
// KindRateLimited, an optional Retry-After duration.
type Error struct {
	Kind       Kind
	Provider   string
	RetryAfter time.Duration // only meaningful for KindRateLimited
	Cause      error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s): %v", e.Provider, e.Kind, e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// RateLimited builds a KindRateLimited error with the given optional
// Retry-After hint (0 means "use the tracker's default").
func RateLimited(provider string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindRateLimited, Provider: provider, RetryAfter: retryAfter, Cause: cause}
}

// Unauthorized builds a KindUnauthorized error. The composite charges it like
// any other non-rate-limit failure: the provider is skipped for the
// failure-backoff window and then tried again. It is not disabled for the
// lifetime of the process.
func Unauthorized(provider string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Provider: provider, Cause: cause}
}

// NotFound builds a KindNotFound error. It is a non-empty error that is NOT
// a failure: callers (the composite) should continue to the next provider
// without charging it against the failure-backoff window.
func NotFound(provider string, cause error) *Error {
	return &Error{Kind: KindNotFound, Provider: provider, Cause: cause}
}

// Transient builds a KindTransient error — retried by the reconnect helper
// (streaming) or the composite's next-provider loop (historical).
func Transient(provider string, cause error) *Error {
	return &Error{Kind: KindTransient, Provider: provider, Cause: cause}
}

// Validation builds a KindValidation error for a payload that fails schema
// or OHLC sanity checks. Never propagated to callers — droppers bump a
// counter and continue.
func Validation(provider string, cause error) *Error {
	return &Error{Kind: KindValidation, Provider: provider, Cause: cause}
}

// Internal builds a KindInternal error, used only when aggregating every
// provider's failure into a single error surfaced to the caller.
func Internal(provider string, cause error) *Error {
	return &Error{Kind: KindInternal, Provider: provider, Cause: cause}
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCancellation reports whether err represents a propagated cancellation
// (context.Canceled/DeadlineExceeded, or a KindCancellation *Error).
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := As(err); ok && e.Kind == KindCancellation {
		return true
	}
	return errors.Is(err, ErrCanceled) || errors.Is(err, ErrDeadlineExceeded)
}

// Sentinels aliased to context's so callers of this package don't need to
// also import "context" just to compare cancellation causes, and so
// errors.Is against an actual context.Canceled/DeadlineExceeded works.
var (
	ErrCanceled         = context.Canceled
	ErrDeadlineExceeded = context.DeadlineExceeded
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry-after:\s*(\d+)`)

// LooksLikeRateLimit is the last-resort fallback for providers that only
// signal rate limiting via a free-text message (HTTP body, exception
// string, …). It never throws; it returns the matched Retry-After duration
// if one could be parsed, or 0 if the message doesn't carry one.
//
// Kept as a standalone, named function (rather than inlined in the
// composite) specifically so it is independently unit-testable, per
// spec.md §9's guidance on exceptions-as-flow-control.
func LooksLikeRateLimit(msg string) (isRateLimit bool, retryAfter time.Duration) {
	lower := strings.ToLower(msg)
	isRateLimit = strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests")
	if !isRateLimit {
		return false, 0
	}

	if m := retryAfterPattern.FindStringSubmatch(lower); len(m) == 2 {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return true, time.Duration(secs) * time.Second
		}
	}
	return true, 0
}
