package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

const sampleConfig = `
logger:
  level: debug
server:
  address: ":9000"
  rate_limit:
    enabled: true
    policy: api
policies:
  api:
    limit: 100
    window: 1m
    max_keys: 1000
  login:
    limit: ${LOGIN_LIMIT:-5}
    window: 30s
    ttl: 10m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(LoaderOptions{Path: writeConfig(t, sampleConfig)})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "simple", cfg.Logger.Format)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Server.RateLimit.ExcludedPaths)
	assert.Equal(t, []string{"api", "login"}, cfg.PolicyNames())

	api := cfg.Policies["api"]
	assert.Equal(t, int64(100), api.Limit)
	assert.Equal(t, time.Minute, api.Window)
	require.NotNil(t, api.MaxKeys)
	assert.Equal(t, 1000, *api.MaxKeys)
	assert.Equal(t, ratelimit.DefaultTTL, api.TTL)

	login := cfg.Policies["login"]
	assert.Equal(t, int64(5), login.Limit)
	assert.Equal(t, 10*time.Minute, login.TTL)
	assert.Equal(t, ratelimit.DefaultIdleResetWindows, login.IdleResetWindows)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("LOGIN_LIMIT", "7")

	cfg, err := LoadConfig(LoaderOptions{Path: writeConfig(t, sampleConfig)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Policies["login"].Limit)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RATEWINDOW_SERVER__ADDRESS", ":7000")
	t.Setenv("RATEWINDOW_POLICIES__API__LIMIT", "250")
	t.Setenv("RATEWINDOW_POLICIES__API__WINDOW", "2m")
	t.Setenv(ConfigPathEnvVar, "/etc/ratewindow.yaml")

	cfg, err := LoadConfig(LoaderOptions{Path: writeConfig(t, sampleConfig)})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, int64(250), cfg.Policies["api"].Limit)
	assert.Equal(t, 2*time.Minute, cfg.Policies["api"].Window)

	cfg, err = LoadConfig(LoaderOptions{Path: writeConfig(t, sampleConfig), DisableEnv: true})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	_, err := LoadConfig(LoaderOptions{Path: writeConfig(t, `
policies:
  api:
    limit: 10
    window: 1s
    windw: 2s
`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "windw")
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(LoaderOptions{Path: writeConfig(t, `
server:
  rate_limit:
    enabled: true
    policy: missing
policies:
  api:
    limit: 0
    window: 1s
    max_keys: 0
`)})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "policies.api")
	assert.Contains(t, msg, "limit: must be positive")
	assert.Contains(t, msg, "max_keys")
	assert.Contains(t, msg, `unknown policy "missing"`)

	var verr *ratelimit.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(LoaderOptions{Path: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)

	_, err = NewLoader(LoaderOptions{})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "no policies",
			cfg:     Config{},
			wantErr: "at least one policy",
		},
		{
			name: "dotted policy name",
			cfg: Config{Policies: map[string]PolicyConfig{
				"a.b": {Limit: 1, Window: time.Second},
			}},
			wantErr: `invalid policy name "a.b"`,
		},
		{
			name: "bad log level",
			cfg: Config{
				Logger:   LoggerConfig{Level: "loud"},
				Policies: map[string]PolicyConfig{"api": {Limit: 1, Window: time.Second}},
			},
			wantErr: "logger",
		},
		{
			name: "idle reset below two",
			cfg: Config{Policies: map[string]PolicyConfig{
				"api": {Limit: 1, Window: time.Second, IdleResetWindows: 1},
			}},
			wantErr: "idle_reset_windows",
		},
		{
			name: "grpc policy unknown",
			cfg: Config{
				Server:   ServerConfig{GRPC: GRPCConfig{Enabled: true, Policy: "x"}},
				Policies: map[string]PolicyConfig{"api": {Limit: 1, Window: time.Second}},
			},
			wantErr: "server.grpc",
		},
		{
			name: "auth without jwks url",
			cfg: Config{
				Server:   ServerConfig{Auth: AuthConfig{Enabled: true, Issuer: "i", Audience: "a"}},
				Policies: map[string]PolicyConfig{"api": {Limit: 1, Window: time.Second}},
			},
			wantErr: "auth.jwks_url is required",
		},
		{
			name: "auth with non-http jwks url",
			cfg: Config{
				Server:   ServerConfig{Auth: AuthConfig{Enabled: true, JWKSURL: "file:///keys.json", Issuer: "i", Audience: "a"}},
				Policies: map[string]PolicyConfig{"api": {Limit: 1, Window: time.Second}},
			},
			wantErr: "auth.jwks_url must be an http(s) URL",
		},
		{
			name: "auth refresh too short",
			cfg: Config{
				Server: ServerConfig{Auth: AuthConfig{
					Enabled: true, JWKSURL: "https://idp/jwks.json", Issuer: "i", Audience: "a",
					RefreshInterval: time.Second,
				}},
				Policies: map[string]PolicyConfig{"api": {Limit: 1, Window: time.Second}},
			},
			wantErr: "auth.refresh_interval",
		},
		{
			name: "valid",
			cfg: Config{Policies: map[string]PolicyConfig{
				"api": {Limit: 1, Window: time.Second},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.SetDefaults()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicyConfig_ToLimiterConfig(t *testing.T) {
	maxKeys := 10
	p := PolicyConfig{Limit: 3, Window: time.Second, MaxKeys: &maxKeys}
	p.SetDefaults()

	cfg := p.ToLimiterConfig()
	assert.Equal(t, int64(3), cfg.MaxRequestsPerKey)
	assert.Equal(t, time.Second, cfg.WindowSize)
	assert.Equal(t, ratelimit.DefaultCleanupInterval, cfg.CleanupInterval)
	require.NotNil(t, cfg.MaxKeys)

	maxKeys = 20
	assert.Equal(t, 10, *cfg.MaxKeys)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RATEWINDOW_TEST_DOTENV=from-file\n"), 0o600))

	t.Setenv("RATEWINDOW_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("RATEWINDOW_TEST_DOTENV"))

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, ".missing"), envFile))
	assert.Equal(t, "from-file", os.Getenv("RATEWINDOW_TEST_DOTENV"))
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("RW_HOST", "example.com")
	t.Setenv("RW_PORT", "8080")

	out := ExpandEnvVarsInData(map[string]interface{}{
		"url":     "http://${RW_HOST}:${RW_PORT}",
		"port":    "${RW_PORT}",
		"missing": "${RW_UNSET:-fallback}",
		"list":    []interface{}{"${RW_HOST}", 3},
		"literal": "no refs",
	}).(map[string]interface{})

	assert.Equal(t, "http://example.com:8080", out["url"])
	assert.Equal(t, int64(8080), out["port"])
	assert.Equal(t, "fallback", out["missing"])
	assert.Equal(t, []interface{}{"example.com", 3}, out["list"])
	assert.Equal(t, "no refs", out["literal"])
}

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	props, ok := doc["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "policies")
	assert.Contains(t, props, "server")

	obs, ok := props["observability"].(map[string]interface{})
	require.True(t, ok)
	obsProps, ok := obs["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, obsProps, "tracing")
	assert.Contains(t, obsProps, "metrics")
	assert.NotContains(t, obsProps, "Tracing")
	assert.NotContains(t, obs, "required")

	tracing := obsProps["tracing"].(map[string]interface{})
	assert.Contains(t, tracing["properties"], "sampling_rate")

	policies := props["policies"].(map[string]interface{})
	policy, ok := policies["additionalProperties"].(map[string]interface{})
	require.True(t, ok)
	policyProps := policy["properties"].(map[string]interface{})
	window := policyProps["window"].(map[string]interface{})
	assert.Equal(t, "string", window["type"])
	assert.Contains(t, window["description"], "Go duration")
	assert.ElementsMatch(t, []interface{}{"limit", "window"}, policy["required"])
}

func TestSchema_AcceptsLoadedKeys(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)

	// Every key in a config that loads must be a property in the schema.
	var doc struct {
		Properties map[string]struct {
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	for section, keys := range map[string][]string{
		"server":        {"address", "rate_limit", "auth"},
		"observability": {"tracing", "metrics"},
		"logger":        {"level", "format"},
	} {
		for _, key := range keys {
			assert.Contains(t, doc.Properties[section].Properties, key, "%s.%s", section, key)
		}
	}
}

func TestLoader_Watch(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	loader, err := NewLoader(LoaderOptions{Path: path, DisableEnv: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var latest atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- loader.Watch(ctx, func(cfg *Config) error {
			latest.Store(cfg.Policies["api"].Limit)
			return nil
		})
	}()

	updated := []byte("policies:\n  api:\n    limit: 42\n    window: 1m\n")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, updated, 0o600)
		return latest.Load() == 42
	}, 5*time.Second, 200*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
