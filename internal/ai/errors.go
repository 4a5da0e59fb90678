package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrUnavailable means the provider is not configured (no api key).
	ErrUnavailable          = errors.New("ai provider unavailable")
	ErrEmptyInput           = errors.New("empty input")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrInvalidCredentials   = errors.New("backend credentials invalid")
	ErrAllBackendsExhausted = errors.New("all backends temporarily unavailable")
	ErrStreamInterrupted    = errors.New("stream interrupted")
)

type ErrorClass string

const (
	ClassTimeout       ErrorClass = "timeout"
	ClassAuth          ErrorClass = "auth"
	ClassRateLimit     ErrorClass = "rate_limit"
	ClassModelNotFound ErrorClass = "model_not_found"
	ClassServer        ErrorClass = "server"
	ClassNetwork       ErrorClass = "network"
	ClassUnconfigured  ErrorClass = "unconfigured"
	ClassUnknown       ErrorClass = "unknown"
)

// BackendError is a failed call to a chat backend, tagged with its class.
type BackendError struct {
	Backend string
	Class   ErrorClass
	Status  int
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Backend, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Class, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is lets callers match the taxonomy sentinels without caring about the
// concrete class.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Class == ClassAuth
	case ErrBackendUnavailable:
		return e.Class != ClassAuth
	}
	return false
}

func newStatusError(backend string, status int, body string) *BackendError {
	return &BackendError{
		Backend: backend,
		Class:   ClassifyStatus(status),
		Status:  status,
		Err:     fmt.Errorf("%s", body),
	}
}

func wrapBackendError(backend string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Class: ClassifyError(err), Err: err}
}

func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusNotFound:
		return ClassModelNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ClassTimeout
	case status >= 500:
		return ClassServer
	}
	return ClassUnknown
}

func ClassifyError(err error) ErrorClass {
	var be *BackendError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &be):
		return be.Class
	case errors.Is(err, ErrUnavailable):
		return ClassUnconfigured
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassUnknown
}
