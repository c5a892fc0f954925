package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrUpstreamAuth    = errors.New("upstream auth error")
	ErrUpstreamRequest = errors.New("upstream request error")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
	ErrTemporary       = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// UpstreamRequestError is returned for any non-2xx registry response.
type UpstreamRequestError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *UpstreamRequestError) Error() string {
	if e == nil {
		return "upstream request error"
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("registry %s status: %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("registry %s status: %d: %s", e.Endpoint, e.StatusCode, body)
}

func (e *UpstreamRequestError) Unwrap() error {
	return ErrUpstreamRequest
}
