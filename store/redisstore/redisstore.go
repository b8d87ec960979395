// Package redisstore persists registry snapshots in Redis.
//
// # Redis Key Schema
//
//   - <prefix>:snapshot - String holding the JSON snapshot
//   - <prefix>:revision - Integer counter, incremented on every save
//   - <prefix>:events   - Pub/Sub channel announcing new revisions
//
// The snapshot and the counter are written in one MULTI/EXEC transaction
// and read with a single MGET, so a loaded snapshot always matches its
// revision.
package redisstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/noderegistry/store"
)

// DefaultPrefix is the key prefix used when Options.Prefix is empty.
const DefaultPrefix = "noderegistry"

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Prefix namespaces all keys written by the store.
	Prefix string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// Store implements store.Store using go-redis/v9.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}

	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}

	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: opts.Prefix}, nil
}

// Load returns the stored snapshot, or nil if none was written yet.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	vals, err := s.client.MGet(ctx, s.key("snapshot"), s.key("revision")).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load snapshot: %v", store.ErrStorageFailed, err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("%w: unexpected MGET result length: %d", store.ErrStorageFailed, len(vals))
	}
	if vals[0] == nil {
		return nil, nil
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot value has type %T", store.ErrInvalidSnapshot, vals[0])
	}

	snap, err := store.Decode([]byte(data))
	if err != nil {
		return nil, err
	}

	if revStr, ok := vals[1].(string); ok {
		rev, err := strconv.ParseInt(revStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid revision value: %v", store.ErrInvalidSnapshot, err)
		}
		snap.Revision = rev
	}

	return snap, nil
}

// Save writes the snapshot, bumps the revision counter and announces the
// new revision on the events channel.
func (s *Store) Save(ctx context.Context, snap *store.Snapshot) (int64, error) {
	data, err := store.Encode(snap)
	if err != nil {
		return 0, err
	}

	var incr *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("snapshot"), data, 0)
		incr = p.Incr(ctx, s.key("revision"))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to save snapshot: %v", store.ErrStorageFailed, err)
	}

	rev := incr.Val()
	if err := s.client.Publish(ctx, s.key("events"), strconv.FormatInt(rev, 10)).Err(); err != nil {
		return 0, fmt.Errorf("%w: failed to publish revision %d: %v", store.ErrStorageFailed, rev, err)
	}

	return rev, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailed, err)
	}
	return nil
}

// Watch subscribes to the events channel and emits announced revisions.
func (s *Store) Watch(ctx context.Context) (<-chan int64, error) {
	pubsub := s.client.Subscribe(ctx, s.key("events"))

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.key("events"), err)
	}

	revisions := make(chan int64)

	go func() {
		defer close(revisions)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				rev, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					// Ignore foreign messages on the channel
					continue
				}

				select {
				case revisions <- rev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return revisions, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// key builds a key of the <prefix>:<name> schema.
func (s *Store) key(name string) string {
	return strings.Join([]string{s.prefix, name}, ":")
}
