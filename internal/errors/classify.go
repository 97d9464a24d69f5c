package errors

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// TransientError marks an error as safe to retry.
type TransientError struct {
	Err     error
	Message string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as retryable.
func NewTransient(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanent wraps err as non-retryable.
func NewPermanent(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// IsTransient reports whether err is safe to retry. Explicit markers win;
// otherwise network-shaped errors are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		return false
	}

	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransportError
	}

	return isNetworkError(err)
}

// IsPermanent reports whether err should never be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	return !IsTransient(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}
