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
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/consul/api"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// SourceType selects where the configuration document is read from.
type SourceType string

const (
	SourceFile      SourceType = "file"
	SourceConsul    SourceType = "consul"
	SourceEtcd      SourceType = "etcd"
	SourceZookeeper SourceType = "zookeeper"
)

const (
	remoteDialTimeout  = 5 * time.Second
	remoteWatchWait    = 5 * time.Minute
	remoteRetryBackoff = time.Second
)

// DefaultEndpoints returns the conventional local endpoint for a source.
func DefaultEndpoints(t SourceType) []string {
	switch t {
	case SourceConsul:
		return []string{"localhost:8500"}
	case SourceEtcd:
		return []string{"localhost:2379"}
	case SourceZookeeper:
		return []string{"localhost:2181"}
	default:
		return nil
	}
}

// ParseSourceType parses a source name. The empty string means file.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "file":
		return SourceFile, nil
	case "consul":
		return SourceConsul, nil
	case "etcd":
		return SourceEtcd, nil
	case "zookeeper", "zk":
		return SourceZookeeper, nil
	default:
		return "", fmt.Errorf("invalid config source: %s (valid: file, consul, etcd, zookeeper)", s)
	}
}

// remoteSource reads a YAML document stored under a key in a remote store.
// It satisfies koanf.Provider.
type remoteSource interface {
	ReadBytes() ([]byte, error)
	Read() (map[string]interface{}, error)

	// watch calls notify after every change until ctx is done.
	watch(ctx context.Context, notify func()) error
	Close() error
}

func newRemoteSource(t SourceType, endpoints []string, key string) (remoteSource, error) {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints(t)
	}

	switch t {
	case SourceConsul:
		return newConsulSource(endpoints[0], key)
	case SourceEtcd:
		return newEtcdSource(endpoints, key)
	case SourceZookeeper:
		return newZookeeperSource(endpoints, key)
	default:
		return nil, fmt.Errorf("unsupported remote source: %s", t)
	}
}

// sleepCtx waits for d or until ctx is done and reports whether to go on.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type consulSource struct {
	kv  *api.KV
	key string
}

func newConsulSource(address, key string) (*consulSource, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &consulSource{kv: client.KV(), key: strings.TrimPrefix(key, "/")}, nil
}

func (s *consulSource) ReadBytes() ([]byte, error) {
	pair, _, err := s.kv.Get(s.key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", s.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", s.key)
	}
	return pair.Value, nil
}

func (s *consulSource) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("consul source does not support Read")
}

// watch uses blocking queries: each Get returns when the key's index moves
// past the last one seen or the wait time elapses.
func (s *consulSource) watch(ctx context.Context, notify func()) error {
	var index uint64
	for ctx.Err() == nil {
		opts := (&api.QueryOptions{WaitIndex: index, WaitTime: remoteWatchWait}).WithContext(ctx)
		_, meta, err := s.kv.Get(s.key, opts)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("Consul watch error", "key", s.key, "error", err)
			if !sleepCtx(ctx, remoteRetryBackoff) {
				break
			}
			continue
		}

		switch {
		case meta.LastIndex < index:
			// The index went backwards, e.g. after a snapshot restore.
			index = 0
		case meta.LastIndex == index:
		default:
			first := index == 0
			index = meta.LastIndex
			if !first {
				notify()
			}
		}
	}
	return nil
}

func (s *consulSource) Close() error {
	return nil
}

type etcdSource struct {
	client *clientv3.Client
	key    string
}

func newEtcdSource(endpoints []string, key string) (*etcdSource, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: remoteDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &etcdSource{client: client, key: key}, nil
}

func (s *etcdSource) ReadBytes() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteDialTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", s.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", s.key)
	}
	return resp.Kvs[0].Value, nil
}

func (s *etcdSource) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("etcd source does not support Read")
}

func (s *etcdSource) watch(ctx context.Context, notify func()) error {
	for resp := range s.client.Watch(ctx, s.key) {
		if err := resp.Err(); err != nil {
			slog.Warn("etcd watch error", "key", s.key, "error", err)
			continue
		}
		if len(resp.Events) > 0 {
			notify()
		}
	}
	return nil
}

func (s *etcdSource) Close() error {
	return s.client.Close()
}

type zookeeperSource struct {
	conn *zk.Conn
	path string
}

// zkLogger routes the client's connection chatter to slog at debug level.
type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "zookeeper")
}

func newZookeeperSource(endpoints []string, path string) (*zookeeperSource, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	conn, _, err := zk.Connect(endpoints, 10*time.Second, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &zookeeperSource{conn: conn, path: path}, nil
}

func (s *zookeeperSource) ReadBytes() ([]byte, error) {
	data, _, err := s.conn.Get(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", s.path, err)
	}
	return data, nil
}

func (s *zookeeperSource) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("zookeeper source does not support Read")
}

// watch re-arms a one-shot data watch after every event.
func (s *zookeeperSource) watch(ctx context.Context, notify func()) error {
	for ctx.Err() == nil {
		_, _, events, err := s.conn.GetW(s.path)
		if err != nil {
			slog.Warn("Zookeeper watch error", "path", s.path, "error", err)
			if !sleepCtx(ctx, remoteRetryBackoff) {
				break
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case event := <-events:
			switch event.Type {
			case zk.EventNodeDataChanged, zk.EventNodeCreated:
				notify()
			case zk.EventNodeDeleted:
				slog.Warn("Zookeeper config node deleted", "path", s.path)
			}
		}
	}
	return nil
}

func (s *zookeeperSource) Close() error {
	s.conn.Close()
	return nil
}
