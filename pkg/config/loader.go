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

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

const (
	// EnvPrefix marks environment variables that override file values.
	// Nesting uses a double underscore: RATEWINDOW_SERVER__ADDRESS.
	EnvPrefix = "RATEWINDOW_"

	envNestingSeparator = "__"

	// reloadDebounce coalesces the burst of events editors emit on save.
	reloadDebounce = 100 * time.Millisecond
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Type selects the source. Default: file.
	Type SourceType

	// Path is the YAML file, or the key holding the YAML document in a
	// remote store.
	Path string

	// Endpoints are the remote store addresses. Defaults to the store's
	// conventional local address.
	Endpoints []string

	// DisableEnv skips the RATEWINDOW_ environment overlay.
	DisableEnv bool
}

// Loader reads, expands, decodes and validates the configuration.
type Loader struct {
	options LoaderOptions

	mu     sync.Mutex
	remote remoteSource
}

// NewLoader creates a Loader. Remote stores are connected on first Load.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Type == "" {
		opts.Type = SourceFile
	}
	if _, err := ParseSourceType(string(opts.Type)); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if len(opts.Endpoints) == 0 {
		opts.Endpoints = DefaultEndpoints(opts.Type)
	}
	return &Loader{options: opts}, nil
}

// Type returns the configuration source type.
func (l *Loader) Type() SourceType {
	return l.options.Type
}

// Close releases the remote store connection, if any.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote == nil {
		return nil
	}
	err := l.remote.Close()
	l.remote = nil
	return err
}

func (l *Loader) provider() (koanf.Provider, error) {
	if l.options.Type == SourceFile {
		return file.Provider(l.options.Path), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote == nil {
		remote, err := newRemoteSource(l.options.Type, l.options.Endpoints, l.options.Path)
		if err != nil {
			return nil, err
		}
		l.remote = remote
	}
	return l.remote, nil
}

// Path returns the configuration file path or remote key.
func (l *Loader) Path() string {
	return l.options.Path
}

// Load reads the configuration from scratch. The returned Config has
// defaults applied and is valid.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	provider, err := l.provider()
	if err != nil {
		return nil, err
	}
	if err := k.Load(provider, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s %s: %w", l.options.Type, l.options.Path, err)
	}

	if !l.options.DisableEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment overrides: %w", err)
		}
	}

	k, err = expandEnvVarsInKoanf(k)
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	return cfg, nil
}

// ConfigPathEnvVar names the config file for the CLI. It and every variable
// it prefixes (RATEWINDOW_CONFIG_SOURCE, ...) are not overrides.
const ConfigPathEnvVar = EnvPrefix + "CONFIG"

// envKey maps RATEWINDOW_POLICIES__API__LIMIT to policies.api.limit.
// An empty result makes the env provider skip the variable.
func envKey(s string) string {
	if strings.HasPrefix(s, ConfigPathEnvVar) {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, envNestingSeparator, ".")
}

func expandEnvVarsInKoanf(k *koanf.Koanf) (*koanf.Koanf, error) {
	expanded, ok := ExpandEnvVarsInData(k.Raw()).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type after env var expansion")
	}

	out := koanf.New(".")
	if err := out.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load expanded config: %w", err)
	}
	return out, nil
}

// unmarshal decodes strictly: unknown keys are errors.
func unmarshal(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the configuration whenever the source changes and passes
// every valid result to onChange. Invalid reloads are logged and skipped.
// Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config) error) error {
	if l.options.Type != SourceFile {
		return l.watchRemote(ctx, onChange)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and config maps replace the file rather
	// than write it in place.
	path, err := filepath.Abs(l.options.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", l.options.Path, err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	slog.Info("Config watcher started", "path", path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("Config watcher stopped", "path", path)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watch error", "error", err)

		case <-pending:
			pending = nil
			l.reload(onChange)
		}
	}
}

func (l *Loader) watchRemote(ctx context.Context, onChange func(*Config) error) error {
	provider, err := l.provider()
	if err != nil {
		return err
	}
	remote := provider.(remoteSource)

	slog.Info("Config watcher started", "source", l.options.Type, "key", l.options.Path)
	err = remote.watch(ctx, func() { l.reload(onChange) })
	slog.Info("Config watcher stopped", "source", l.options.Type, "key", l.options.Path)
	return err
}

func (l *Loader) reload(onChange func(*Config) error) {
	cfg, err := l.Load()
	if err != nil {
		slog.Warn("Reloaded config rejected", "path", l.options.Path, "error", err)
		return
	}

	if onChange == nil {
		return
	}
	if err := onChange(cfg); err != nil {
		slog.Warn("Config change callback failed", "error", err)
		return
	}
	slog.Info("Configuration reloaded", "path", l.options.Path)
}

// LoadConfig is a convenience wrapper around NewLoader and Load.
func LoadConfig(opts LoaderOptions) (*Config, error) {
	loader, err := NewLoader(opts)
	if err != nil {
		return nil, err
	}
	defer loader.Close()
	return loader.Load()
}
