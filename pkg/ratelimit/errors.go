// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrRateLimitExceeded is the sentinel carried by RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrPolicyNotFound is returned when a named policy is not registered.
	ErrPolicyNotFound = errors.New("policy not found")
)

// RateLimitError describes a denied admission for callers that need an error
// value, such as transport adapters. The limiter itself never returns it.
type RateLimitError struct {
	// Message is a human-readable error message.
	Message string

	// Decision is the denied decision.
	Decision Decision
}

// Error returns the error message.
func (e *RateLimitError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// NewRateLimitError creates a RateLimitError from a denied Decision.
func NewRateLimitError(d Decision) *RateLimitError {
	message := "rate limit exceeded"
	switch d.Reason {
	case ReasonKeyspace:
		message = "rate limit exceeded: too many tracked keys"
	case ReasonInvalidCost:
		message = "rate limit exceeded: cost must be positive"
	case ReasonQuota:
		if d.RetryAfter > 0 {
			message = fmt.Sprintf("rate limit exceeded: retry after %s", d.RetryAfter)
		}
	}
	return &RateLimitError{
		Message:  message,
		Decision: d,
	}
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return errors.Is(err, ErrRateLimitExceeded)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the validation error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
