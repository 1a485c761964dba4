package types

import (
	"errors"
	"fmt"
	"io"
)

// ErrConfiguration is returned for invalid, unknown or conflicting options.
var ErrConfiguration = errors.New("configuration error")

// ErrNoMatchingImplementation is a configuration error: no registered
// implementation satisfies the requested properties.
var ErrNoMatchingImplementation = fmt.Errorf("%w: no matching implementation", ErrConfiguration)

// ErrEndOfStream signals the normal termination of an iteration.
var ErrEndOfStream = io.EOF

type ErrUnsupportedParameter struct {
	Param  string
	Reason string
}

func (e ErrUnsupportedParameter) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported parameter %s", e.Param)
	}
	return fmt.Sprintf("unsupported parameter %s: %s", e.Param, e.Reason)
}

type ErrAllocationFailed struct {
	Resource string
	Err      error
}

func (e ErrAllocationFailed) Error() string {
	return fmt.Sprintf("unable to allocate %s: %v", e.Resource, e.Err)
}

func (e ErrAllocationFailed) Unwrap() error {
	return e.Err
}

type ErrIO struct {
	Op  string
	Err error
}

func (e ErrIO) Error() string {
	return fmt.Sprintf("I/O error on %s: %v", e.Op, e.Err)
}

func (e ErrIO) Unwrap() error {
	return e.Err
}

type ErrInvalidAccess struct {
	Reason string
}

func (e ErrInvalidAccess) Error() string {
	return fmt.Sprintf("invalid access: %s", e.Reason)
}

type ErrCancelled struct {
	Err error
}

func (e ErrCancelled) Error() string {
	if e.Err == nil {
		return "cancelled"
	}
	return fmt.Sprintf("cancelled: %v", e.Err)
}

func (e ErrCancelled) Unwrap() error {
	return e.Err
}

// IsInvalidAccess returns true if err is (or wraps) an ErrInvalidAccess.
func IsInvalidAccess(err error) bool {
	var target ErrInvalidAccess
	return errors.As(err, &target)
}

// IsCancelled returns true if err is (or wraps) an ErrCancelled.
func IsCancelled(err error) bool {
	var target ErrCancelled
	return errors.As(err, &target)
}
