// Package etcdstore persists registry snapshots in an etcd cluster.
//
// The snapshot is stored as one JSON document under
// /{namespace}/nodes/snapshot. The etcd ModRevision of that key is used as
// the snapshot revision, so every writer in the cluster agrees on it and a
// registry only rebuilds its state when someone actually wrote.
package etcdstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zero-day-ai/noderegistry/store"
)

// EnvEndpoints names the environment variable read by NewFromEnv.
const EnvEndpoints = "NODEREGISTRY_ETCD_ENDPOINTS"

// Config holds etcd connection configuration.
type Config struct {
	// Endpoints is the list of etcd endpoints.
	// Format: ["host1:2379", "host2:2379", "host3:2379"]
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Namespace is the key prefix for registry data.
	// Default: "noderegistry"
	Namespace string `json:"namespace" yaml:"namespace"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// TLS holds TLS configuration. If nil, TLS is disabled.
	TLS *TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration for mutual TLS with etcd.
type TLSConfig struct {
	// Enabled determines whether TLS is active.
	// If false, all other fields are ignored.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CertFile is the path to the client certificate file (PEM format).
	CertFile string `json:"cert_file" yaml:"cert_file"`

	// KeyFile is the path to the client private key file (PEM format).
	KeyFile string `json:"key_file" yaml:"key_file"`

	// CAFile is the path to the certificate authority file (PEM format).
	CAFile string `json:"ca_file" yaml:"ca_file"`
}

// Store implements store.Store on top of etcd.
//
// Thread-safety: All methods are safe for concurrent use.
type Store struct {
	client    *clientv3.Client
	namespace string

	mu         sync.RWMutex
	wg         sync.WaitGroup // tracks watch goroutines
	closed     bool
	closedChan chan struct{}
}

// New connects to etcd and verifies connectivity with a quick read.
//
// The store must be closed using Close() when no longer needed.
func New(cfg Config) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "noderegistry"
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsInfo, err := newTLSInfo(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		tlsConfig, err := tlsInfo.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = cli.Get(ctx, "health-check")
	if err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Store{
		client:     cli,
		namespace:  namespace,
		closedChan: make(chan struct{}),
	}, nil
}

// NewFromEnv creates a store from the comma-separated endpoint list in
// NODEREGISTRY_ETCD_ENDPOINTS. If the variable is not set it returns
// (nil, nil).
func NewFromEnv() (*Store, error) {
	endpoints := os.Getenv(EnvEndpoints)
	if endpoints == "" {
		return nil, nil
	}

	return New(Config{Endpoints: parseEndpoints(endpoints)})
}

func parseEndpoints(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load returns the stored snapshot, or nil if none was written yet.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := s.client.Get(ctx, s.snapshotKey())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load snapshot: %v", store.ErrStorageFailed, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	kv := resp.Kvs[0]
	snap, err := store.Decode(kv.Value)
	if err != nil {
		return nil, err
	}
	snap.Revision = kv.ModRevision
	return snap, nil
}

// Save writes the snapshot and returns the etcd revision of the write.
func (s *Store) Save(ctx context.Context, snap *store.Snapshot) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	data, err := store.Encode(snap)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Put(ctx, s.snapshotKey(), string(data))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to save snapshot: %v", store.ErrStorageFailed, err)
	}
	return resp.Header.Revision, nil
}

// Ping verifies that the cluster answers reads.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.client.Get(ctx, s.snapshotKey(), clientv3.WithCountOnly()); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailed, err)
	}
	return nil
}

// Watch emits the new revision whenever the snapshot key changes.
//
// The channel is closed when the context is canceled or Close() is called.
func (s *Store) Watch(ctx context.Context) (<-chan int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	ch := make(chan int64, 1)
	watchChan := s.client.Watch(ctx, s.snapshotKey())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Err() != nil {
					return
				}
				for _, ev := range watchResp.Events {
					select {
					case ch <- ev.Kv.ModRevision:
					case <-ctx.Done():
						return
					case <-s.closedChan:
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// Close stops watches and closes the etcd client.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closedChan)
	s.mu.Unlock()

	s.wg.Wait()

	return s.client.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// snapshotKey returns the etcd key of the snapshot document.
//
// Format: /namespace/nodes/snapshot
func (s *Store) snapshotKey() string {
	return snapshotKey(s.namespace)
}

func snapshotKey(namespace string) string {
	return fmt.Sprintf("/%s/nodes/snapshot", namespace)
}
