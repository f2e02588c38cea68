package client

import (
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = http.StatusText(e.StatusCode)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d %s: %s (retry after %v)", e.StatusCode, code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, code, e.Message)
}

// RetryableError is returned when a request kept failing at the transport
// level until retries ran out.
type RetryableError struct {
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
