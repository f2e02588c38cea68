// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client is a Go client for the ratewindow HTTP API.
//
// Transient failures (502, 503, 504, transport errors) and throttling of the
// API itself are retried with backoff. A denied check is a decision, not a
// failure, and is returned to the caller as-is.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 250 * time.Millisecond
	DefaultMaxDelay   = 10 * time.Second
	DefaultTimeout    = 10 * time.Second

	maxResponseBody = 1 << 20
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

type RetryStrategyFunc func(int) RetryStrategy

type Client struct {
	baseURL      *url.URL
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	token        string
	userAgent    string
	strategyFunc RetryStrategyFunc
	tlsErr       error
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithMaxDelay caps a single backoff sleep, including server-provided
// Retry-After values.
func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

// WithBearerToken sends the token in the Authorization header of every
// request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL:      u,
		client:       &http.Client{Timeout: DefaultTimeout},
		maxRetries:   DefaultMaxRetries,
		baseDelay:    DefaultBaseDelay,
		maxDelay:     DefaultMaxDelay,
		userAgent:    "ratewindow-client",
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tlsErr != nil {
		return nil, c.tlsErr
	}
	return c, nil
}

// DefaultRetryStrategy retries throttling and unavailability using the
// server's hints, and other gateway errors a couple of times.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Check consumes cost units for key under the named policy. Both admitted
// and denied outcomes return a Decision with a nil error.
func (c *Client) Check(ctx context.Context, policy, key string, cost int64) (*Decision, error) {
	body, err := json.Marshal(checkRequest{Key: key, Cost: &cost})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, c.policyPath(policy, "check"), body)
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusOK, http.StatusTooManyRequests, http.StatusBadRequest:
		var d Decision
		if err := json.Unmarshal(resp.body, &d); err != nil {
			return nil, fmt.Errorf("failed to decode decision: %w", err)
		}
		// A 400 without a reason is a malformed request, not a decision.
		if d.Reason == "" {
			return nil, resp.apiError()
		}
		if d.RetryAfterMS > 0 {
			d.RetryAfter = time.Duration(d.RetryAfterMS) * time.Millisecond
		}
		return &d, nil
	default:
		return nil, resp.apiError()
	}
}

// Usage returns the tracked state of key. A key the policy does not track
// yields an error for which IsNotFound reports true.
func (c *Client) Usage(ctx context.Context, policy, key string) (*KeyUsage, error) {
	resp, err := c.do(ctx, http.MethodGet, c.policyPath(policy, "keys", key), nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, resp.apiError()
	}

	var u KeyUsage
	if err := json.Unmarshal(resp.body, &u); err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}
	return &u, nil
}

// Reset forgets key under the named policy. It reports false when the key
// was not tracked.
func (c *Client) Reset(ctx context.Context, policy, key string) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.policyPath(policy, "keys", key), nil)
	if err != nil {
		return false, err
	}

	switch resp.status {
	case http.StatusNoContent, http.StatusOK:
		return true, nil
	default:
		apiErr := resp.apiError()
		if apiErr.Code == CodeKeyNotFound {
			return false, nil
		}
		return false, apiErr
	}
}

// Policies lists the policies the server currently enforces.
func (c *Client) Policies(ctx context.Context) ([]Policy, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/policies", nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, resp.apiError()
	}

	var out struct {
		Policies []Policy `json:"policies"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return out.Policies, nil
}

// Health returns nil when the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return resp.apiError()
	}
	return nil
}

func (c *Client) policyPath(policy string, parts ...string) string {
	segs := []string{"v1", "policies", url.PathEscape(policy)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return "/" + strings.Join(segs, "/")
}

type response struct {
	status int
	header http.Header
	body   []byte
	limits RateLimitInfo
}

func (r *response) apiError() *APIError {
	apiErr := &APIError{StatusCode: r.status, RetryAfter: r.limits.RetryAfter}
	var eb errorBody
	if err := json.Unmarshal(r.body, &eb); err == nil && eb.Error != nil {
		apiErr.Code = eb.Error.Code
		apiErr.Message = eb.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(r.status)
	}
	return apiErr
}

// throttled reports whether a 429 came from the API's own limit rather than
// from a denied check.
func (r *response) throttled() bool {
	if r.status != http.StatusTooManyRequests {
		return false
	}
	var eb errorBody
	return json.Unmarshal(r.body, &eb) == nil && eb.Error != nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*response, error) {
	target := c.baseURL.String() + path

	for attempt := 0; ; attempt++ {
		resp, err := c.attemptRequest(ctx, method, target, body)

		var strategy RetryStrategy
		var info RateLimitInfo
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			strategy = ConservativeRetry
		case resp.status == http.StatusTooManyRequests && !resp.throttled():
			return resp, nil
		default:
			strategy = c.strategyFunc(resp.status)
			info = resp.limits
		}

		if strategy == NoRetry {
			return resp, nil
		}

		delay := c.calculateDelay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			if err != nil {
				return nil, &RetryableError{
					Message:    fmt.Sprintf("%s %s failed after %d attempts", method, path, attempt+1),
					RetryAfter: delay,
					Err:        err,
				}
			}
			return resp, nil
		}

		status := 0
		if resp != nil {
			status = resp.status
		}
		slog.Debug("Retrying ratewindow request",
			"method", method, "path", path, "status", status,
			"attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) attemptRequest(ctx context.Context, method, target string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &response{
		status: httpResp.StatusCode,
		header: httpResp.Header,
		body:   data,
		limits: ParseRateLimitHeaders(httpResp.Header),
	}, nil
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	var delay time.Duration
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			delay = info.RetryAfter
			break
		}
		if !info.Reset.IsZero() {
			if until := time.Until(info.Reset); until > 0 {
				delay = until
				break
			}
		}
		exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		delay = exponential + exponential/10

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		delay = time.Duration(1+attempt) * c.baseDelay

	default:
		return 0
	}

	if c.maxDelay > 0 && delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}

// IsNotFound reports whether err is an API error for an unknown policy or
// an untracked key.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound
}
