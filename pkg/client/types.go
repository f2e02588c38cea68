package client

import (
	"time"

	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

const (
	CodeKeyNotFound    = "key_not_found"
	CodePolicyNotFound = "policy_not_found"
	CodeRateLimited    = "rate_limit_exceeded"
	CodeUnauthorized   = "unauthorized"
)

type checkRequest struct {
	Key  string `json:"key"`
	Cost *int64 `json:"cost,omitempty"`
}

// Decision is the server's answer to a check.
type Decision struct {
	Policy       string           `json:"policy"`
	Key          string           `json:"key"`
	Allowed      bool             `json:"allowed"`
	Reason       ratelimit.Reason `json:"reason"`
	Cost         int64            `json:"cost"`
	Limit        int64            `json:"limit"`
	Remaining    int64            `json:"remaining"`
	Estimate     float64          `json:"estimate"`
	ResetAt      time.Time        `json:"reset_at"`
	RetryAfterMS int64            `json:"retry_after_ms"`

	// RetryAfter is RetryAfterMS as a duration.
	RetryAfter time.Duration `json:"-"`
}

type KeyUsage struct {
	Policy      string          `json:"policy"`
	Key         string          `json:"key"`
	Usage       ratelimit.Usage `json:"usage"`
	UsedPercent float64         `json:"used_percent"`
}

type Policy struct {
	Name             string `json:"name"`
	Limit            int64  `json:"limit"`
	Window           string `json:"window"`
	TTL              string `json:"ttl"`
	CleanupInterval  string `json:"cleanup_interval"`
	MaxKeys          *int   `json:"max_keys,omitempty"`
	IdleResetWindows int    `json:"idle_reset_windows"`
	TrackedKeys      int    `json:"tracked_keys"`
}

type errorBody struct {
	Error *errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
