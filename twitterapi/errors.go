package twitterapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

var (
	// ErrUnauthorized matches upstream 401/403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserNotFound is returned when a screen name does not resolve to a user.
	ErrUserNotFound = errors.New("user not found")
	// ErrSpaceNotFound is returned when the audio space payload is empty.
	ErrSpaceNotFound = errors.New("space not found")
)

// ErrorClass represents whether an error is worth retrying on a later cycle.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure (network, 5xx, rate limiting).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the same request will keep failing (auth, not found, bad payload).
	ErrorClassFatal
	// ErrorClassUnknown is reported for nil errors.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError labels an upstream error for logs and metrics. Classification never changes
// control flow in the watcher (every failure is skipped for the cycle); it tells operators
// whether a failure is expected to clear up by itself.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrSpaceNotFound) {
		return ErrorClassFatal
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		switch {
		case serr.Code == 429 || serr.Code >= 500:
			return ErrorClassRetryable
		case serr.Unauthorized():
			// guest token was dropped; the next call re-activates
			return ErrorClassRetryable
		default:
			return ErrorClassFatal
		}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrorClassFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassRetryable
	}

	lower := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection reset",
		"connection refused",
		"timeout",
		"no such host",
		"eof",
		"broken pipe",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(lower, pattern) {
			return ErrorClassRetryable
		}
	}
	// Default: unknown errors are treated as retryable to avoid giving up too early
	return ErrorClassRetryable
}
