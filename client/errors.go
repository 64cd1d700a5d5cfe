package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrConfiguration matches every *ConfigError via errors.Is.
	ErrConfiguration = errors.New("hsearch: invalid configuration")
	// ErrBodyNotAllowed is returned when a body is attached to a method other
	// than PUT or POST. No host is contacted.
	ErrBodyNotAllowed = errors.New("hsearch: request body only allowed with PUT or POST")
	// ErrCancelled is returned by Future.Wait after Cancel won.
	ErrCancelled = errors.New("hsearch: request cancelled")
	// ErrExecutorClosed is returned when work is submitted to a closed executor.
	ErrExecutorClosed = errors.New("hsearch: executor closed")
	// ErrIteratorDone is returned by BrowseIterator.Next when the index is exhausted.
	ErrIteratorDone = errors.New("hsearch: no more objects")
)

// ConfigError reports an invalid client setting. It is always fatal.
type ConfigError struct {
	// Field names the offending setting.
	Field string
	// Err describes the problem.
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hsearch: config %s: %v", e.Field, e.Err)
}

// Unwrap exposes the underlying reason.
func (e *ConfigError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// ClientRequestError is a 4xx answer. The request itself is wrong, so the
// remaining hosts are not tried.
type ClientRequestError struct {
	// Host that answered.
	Host string
	// Status is the HTTP status code.
	Status int
	// Message is the service supplied reason.
	Message string
	// Body holds the raw response for diagnostics.
	Body []byte
}

func (e *ClientRequestError) Error() string {
	return fmt.Sprintf("hsearch: %s: status %d: %s", e.Host, e.Status, e.Message)
}

// TransportError wraps a network level failure talking to Host: DNS, dial,
// TLS, timeouts, resets or a truncated body.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hsearch: %s: %v", e.Host, e.Err)
}

// Unwrap exposes the transport error.
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool {
	var te interface{ Timeout() bool }
	if errors.As(e.Err, &te) && te.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ServerError is a non-2xx, non-4xx answer. The host is marked down.
type ServerError struct {
	Host    string
	Status  int
	Message string
	Body    []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("hsearch: %s: status %d: %s", e.Host, e.Status, e.Message)
}

// DecodeError reports a 2xx body that is not valid JSON for the expected
// payload. It is not retried.
type DecodeError struct {
	Host string
	Err  error
	Body []byte
}

func (e *DecodeError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("hsearch: decode response: %v", e.Err)
	}
	return fmt.Sprintf("hsearch: %s: decode response: %v", e.Host, e.Err)
}

// Unwrap exposes the JSON error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Attempt records one failed try against one host.
type Attempt struct {
	Host    string
	Elapsed time.Duration
	Err     error
}

// AggregatedFailure is returned when every candidate host failed. Attempts
// are in the order they were made.
type AggregatedFailure struct {
	Attempts []Attempt
}

func (e *AggregatedFailure) Error() string {
	var b strings.Builder
	b.WriteString("hsearch: all hosts failed: [")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(a.Host)
		b.WriteString(": ")
		if a.Err != nil {
			b.WriteString(describeCause(a.Err))
		}
	}
	b.WriteString("]")
	return b.String()
}

// Unwrap returns the last attempt's error.
func (e *AggregatedFailure) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Hosts lists the hosts tried, in order.
func (e *AggregatedFailure) Hosts() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Host
	}
	return out
}

// describeCause strips the "hsearch: host:" prefix already carried by the
// per-host errors so the aggregate message stays readable.
func describeCause(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Err.Error()
	}
	var se *ServerError
	if errors.As(err, &se) {
		return fmt.Sprintf("status %d: %s", se.Status, se.Message)
	}
	return err.Error()
}

// IsRetryable reports whether err marks a single host as failed while other
// hosts may still succeed.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *ServerError
	return errors.As(err, &se)
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ce *ClientRequestError
	if errors.As(err, &ce) {
		return ce.Status
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsNotFound reports a 404 answer.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
