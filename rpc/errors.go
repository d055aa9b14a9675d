package rpc

import (
	"errors"
	"fmt"
)

// ErrNoData matches every failure that leaves an operation without a value.
var ErrNoData = errors.New("no data")

// TransportError is returned once every attempt against every endpoint failed
// at the network or HTTP level.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrNoData }

// ParseError reports a successful response that does not have the expected
// shape. It is never retried.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrNoData }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func fieldError(field string, err error) error {
	return &ParseError{Field: field, Err: err}
}
