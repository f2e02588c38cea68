package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kadirpekel/ratewindow/pkg/auth"
	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/observability"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
	"github.com/kadirpekel/ratewindow/pkg/testutils"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1:0"},
		Policies: map[string]config.PolicyConfig{
			"api":   {Limit: 3, Window: time.Minute},
			"login": {Limit: 1, Window: time.Minute, MaxKeys: ratelimit.IntPtr(1)},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestHandler(t *testing.T, cfg *config.Config, opts ...HTTPServerOption) (http.Handler, *ratelimit.Registry) {
	t.Helper()
	registry, err := ratelimit.NewRegistry(cfg.LimiterConfigs())
	require.NoError(t, err)
	return NewHTTPServer(cfg, registry, opts...).Handler(), registry
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHTTP_Health(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHTTP_RequestIDIsEchoed(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestHTTP_CheckFlow(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())

	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"alice"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[decisionResponse](t, rec)
		assert.True(t, resp.Allowed)
		assert.Equal(t, "allowed", resp.Reason)
		assert.Equal(t, int64(2-i), resp.Remaining)
	}

	rec := do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"alice"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	resp := decode[decisionResponse](t, rec)
	assert.False(t, resp.Allowed)
	assert.Equal(t, "quota", resp.Reason)
	assert.Positive(t, resp.RetryAfterMS)

	rec = do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"bob","cost":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTP_CheckErrors(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown policy", "/v1/policies/nope/check", `{"key":"a"}`, http.StatusNotFound, "policy_not_found"},
		{"bad json", "/v1/policies/api/check", `{"key":`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", "/v1/policies/api/check", `{"key":"a","weight":2}`, http.StatusBadRequest, "invalid_request"},
		{"missing key", "/v1/policies/api/check", `{"cost":1}`, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Error.Code)
		})
	}

	t.Run("negative cost", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"a","cost":-1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_cost", decode[decisionResponse](t, rec).Reason)
	})

	t.Run("zero cost is admitted", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"a","cost":0}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decode[decisionResponse](t, rec)
		assert.True(t, resp.Allowed)
		assert.Equal(t, int64(3), resp.Remaining)
	})

	t.Run("key space full", func(t *testing.T) {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/policies/login/check", `{"key":"a"}`).Code)
		rec := do(t, h, http.MethodPost, "/v1/policies/login/check", `{"key":"b"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "keyspace", decode[decisionResponse](t, rec).Reason)
	})
}

func TestHTTP_UsageAndReset(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())

	rec := do(t, h, http.MethodGet, "/v1/policies/api/keys/alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"alice","cost":2}`)

	rec = do(t, h, http.MethodGet, "/v1/policies/api/keys/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[usageResponse](t, rec)
	assert.Equal(t, int64(2), usage.Usage.CurrentCount)
	assert.Equal(t, int64(1), usage.Usage.Remaining)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/policies/api/keys/alice", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/policies/api/keys/alice", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/policies/nope/keys/alice", "").Code)
}

func TestHTTP_ListPolicies(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())
	do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"alice"}`)

	rec := do(t, h, http.MethodGet, "/v1/policies", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Policies []policyResponse `json:"policies"`
	}](t, rec)
	require.Len(t, body.Policies, 2)
	assert.Equal(t, "api", body.Policies[0].Name)
	assert.Equal(t, "1m0s", body.Policies[0].Window)
	assert.Equal(t, 1, body.Policies[0].TrackedKeys)
	assert.Equal(t, "login", body.Policies[1].Name)
	require.NotNil(t, body.Policies[1].MaxKeys)
}

func TestHTTP_SchemaAndNotFound(t *testing.T) {
	h, _ := newTestHandler(t, testConfig())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/schema", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v2/nothing", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPut, "/v1/policies", "").Code)
}

func TestHTTP_APIRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = config.ServerRateLimitConfig{Enabled: true, Policy: "login"}
	cfg.SetDefaults()
	h, _ := newTestHandler(t, cfg)

	req := func(path, key string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, req("/v1/policies", "client-1"))
	assert.Equal(t, http.StatusTooManyRequests, req("/v1/policies", "client-1"))
	assert.Equal(t, http.StatusOK, req("/health", "client-1"), "health is excluded")
}

func TestHTTP_Metrics(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics.Enabled = true
	cfg.SetDefaults()

	registry, err := ratelimit.NewRegistry(cfg.LimiterConfigs())
	require.NoError(t, err)
	obs, err := observability.NewManager(context.Background(), cfg.Observability, registry.TrackedKeys)
	require.NoError(t, err)
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	h := NewHTTPServer(cfg, registry, WithObservability(obs)).Handler()
	do(t, h, http.MethodPost, "/v1/policies/api/check", `{"key":"alice"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ratewindow_decisions_total")
	assert.Contains(t, body, "ratewindow_http_requests_total")
	assert.Contains(t, body, `route="/v1/policies/{policy}/check"`)
	assert.Contains(t, body, "ratewindow_tracked_keys")
}

func TestHTTP_ConfigFollowsReload(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Tracing.Headers = map[string]string{"authorization": "Bearer secret"}
	registry, err := ratelimit.NewRegistry(cfg.LimiterConfigs())
	require.NoError(t, err)
	hs := NewHTTPServer(cfg, registry)
	h := hs.Handler()

	rec := do(t, h, http.MethodGet, "/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	got := decode[config.Config](t, rec)
	assert.Len(t, got.Policies, 2)
	assert.Equal(t, redactedHeader, got.Observability.Tracing.Headers["authorization"])
	assert.Equal(t, "Bearer secret", cfg.Observability.Tracing.Headers["authorization"], "the live config is not modified")

	next := testConfig()
	next.Policies["burst"] = config.PolicyConfig{Limit: 10, Window: time.Second}
	next.SetDefaults()
	hs.UpdateConfig(next)

	got = decode[config.Config](t, do(t, h, http.MethodGet, "/v1/config", ""))
	assert.Contains(t, got.Policies, "burst")
	assert.Equal(t, int64(10), got.Policies["burst"].Limit)
}

func TestServer_RunAndReload(t *testing.T) {
	cfg := testConfig()
	cfg.Server.GRPC = config.GRPCConfig{Enabled: true, Address: "127.0.0.1:0", Policy: "api"}
	cfg.SetDefaults()

	srv, err := New(Options{Config: cfg})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + srv.HTTPAddr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(srv.GRPCAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())

	next := testConfig()
	next.Policies["burst"] = config.PolicyConfig{Limit: 10, Window: time.Second}
	next.SetDefaults()
	require.NoError(t, srv.ApplyConfig(next))
	assert.Equal(t, []string{"api", "burst", "login"}, srv.Registry().Names())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTP_AuthKeysBySubject(t *testing.T) {
	issuer := testutils.NewJWKSIssuer(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig()
	cfg.Server.Auth = config.AuthConfig{
		Enabled:  true,
		JWKSURL:  issuer.URL(),
		Issuer:   testutils.TestIssuer,
		Audience: testutils.TestAudience,
	}
	cfg.Server.RateLimit = config.ServerRateLimitConfig{Enabled: true, Policy: "api"}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	validator, err := auth.NewValidatorFromConfig(ctx, cfg.Server.Auth)
	require.NoError(t, err)
	h, registry := newTestHandler(t, cfg, WithAuth(validator))

	get := func(path, token, apiKey string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		r.Header.Set("X-API-Key", apiKey)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health", "", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/v1/policies", "", "k"))

	alice := issuer.Token("alice", nil)
	// The subject is the key, so rotating the API key does not help.
	assert.Equal(t, http.StatusOK, get("/v1/policies", alice, "k1"))
	assert.Equal(t, http.StatusOK, get("/v1/policies", alice, "k2"))
	assert.Equal(t, http.StatusOK, get("/v1/policies", alice, "k3"))
	assert.Equal(t, http.StatusTooManyRequests, get("/v1/policies", alice, "k4"))

	usage, ok := registry.Policy("api").Usage("sub:alice")
	require.True(t, ok)
	assert.Equal(t, int64(3), usage.CurrentCount)

	assert.Equal(t, http.StatusOK, get("/v1/policies", issuer.Token("bob", nil), "k1"))
}

func TestNew_AuthRequiresValidator(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Auth = config.AuthConfig{Enabled: true, JWKSURL: "https://idp.example.com/jwks.json", Issuer: "i", Audience: "a"}
	cfg.SetDefaults()

	_, err := New(Options{Config: cfg})
	require.Error(t, err)
}
