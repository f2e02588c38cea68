package ratelimit

import (
	"time"
)

// Reason explains why a decision was reached.
type Reason string

const (
	ReasonAllowed     Reason = "allowed"      // Estimate plus cost fits the quota
	ReasonQuota       Reason = "quota"        // Estimate plus cost exceeds the quota
	ReasonKeyspace    Reason = "keyspace"     // New key rejected because MaxKeys is reached
	ReasonInvalidCost Reason = "invalid_cost" // Cost was negative
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
	Cost    int64  `json:"cost"` // Cost that was requested

	Limit     int64   `json:"limit"`     // Quota per window
	Estimate  float64 `json:"estimate"`  // Weighted estimate after this decision
	Remaining int64   `json:"remaining"` // Whole units still admissible right now

	ResetAt    time.Time     `json:"reset_at,omitempty"`    // End of the current window
	RetryAfter time.Duration `json:"retry_after,omitempty"` // Wait before the same cost fits, 0 if unknown or allowed
}

// Usage is a read-only view of a tracked key.
type Usage struct {
	PreviousCount int64     `json:"previous_count"`
	CurrentCount  int64     `json:"current_count"`
	Estimate      float64   `json:"estimate"`
	Limit         int64     `json:"limit"`
	Remaining     int64     `json:"remaining"`
	WindowStart   time.Time `json:"window_start"`
	ResetAt       time.Time `json:"reset_at"`
	LastAccess    time.Time `json:"last_access"`
}

// Percentage returns the estimate as a percentage of the limit.
func (u Usage) Percentage() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return u.Estimate / float64(u.Limit) * 100
}

// remaining converts an estimate into whole admissible units.
func remaining(limit int64, estimate float64) int64 {
	left := float64(limit) - estimate
	if left <= 0 {
		return 0
	}
	return int64(left)
}
