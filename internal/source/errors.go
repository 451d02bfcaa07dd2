package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindUnreachable       ErrorKind = "unreachable"
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindNotFound          ErrorKind = "not_found"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Transient reports whether the kind is worth retrying.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindUnreachable, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// FetchError is the only failure an adapter reports.
type FetchError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // set for rate_limited when the source said so
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the error may succeed on retry.
func (e *FetchError) Transient() bool {
	return e.Kind.Transient()
}

// Unreachable wraps a network or server failure.
func Unreachable(cause error) *FetchError {
	return &FetchError{Kind: KindUnreachable, Cause: cause}
}

// RateLimited reports a throttled request.
func RateLimited(retryAfter time.Duration, cause error) *FetchError {
	return &FetchError{Kind: KindRateLimited, RetryAfter: retryAfter, Cause: cause}
}

// Timeout reports that the shared fetch deadline was reached.
func Timeout(cause error) *FetchError {
	return &FetchError{Kind: KindTimeout, Cause: cause}
}

// NotFound reports that the source does not know the asset.
func NotFound(cause error) *FetchError {
	return &FetchError{Kind: KindNotFound, Cause: cause}
}

// Malformed reports an undecodable or structurally invalid response.
func Malformed(cause error) *FetchError {
	return &FetchError{Kind: KindMalformedResponse, Cause: cause}
}

// AsFetchError classifies any error. Context expiry becomes timeout and
// unknown errors become unreachable.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(err)
	}
	return Unreachable(err)
}
