// Package store defines the persistence hooks of the node registry.
//
// The registry keeps all state in memory. A Store lets that state survive
// restarts: the registry calls Load before an operation observes state
// (the reload hook) and Save after a mutation succeeded (the commit hook).
// Save is never called for a mutation that failed validation.
//
// Implementations live in sub-packages:
//
//   - filestore: a YAML document on local disk
//   - sqlitestore: an embedded SQLite database
//   - redisstore: a Redis server
//   - etcdstore: an etcd cluster
//
// All implementations exchange whole snapshots. This keeps the contract
// trivially consistent with the registry's invariants: a snapshot is either
// applied entirely or rejected.
package store

import (
	"context"
	"errors"

	"github.com/zero-day-ai/noderegistry/node"
)

// Common errors returned by stores.
var (
	// ErrStorageFailed is returned when the underlying backend fails.
	ErrStorageFailed = errors.New("store: storage operation failed")

	// ErrInvalidSnapshot is returned when stored data cannot be decoded.
	ErrInvalidSnapshot = errors.New("store: invalid snapshot")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Snapshot is the complete registry state at one revision.
type Snapshot struct {
	// Revision identifies the stored state. It is assigned by the store on
	// Save and only has meaning for the store that produced it.
	Revision int64 `json:"revision" yaml:"revision"`

	// Nodes are all live records.
	Nodes []*node.Node `json:"nodes" yaml:"nodes"`
}

// Store persists registry snapshots.
type Store interface {
	// Load returns the latest stored snapshot, or (nil, nil) if nothing has
	// been stored yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored state with snap and returns the revision
	// the store assigned to it. snap.Revision is ignored. The nodes in snap
	// are shared with the caller and must not be modified or retained.
	Save(ctx context.Context, snap *Snapshot) (int64, error)
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Watcher is implemented by stores that can announce changes made by other
// writers. The channel receives the new revision after each change and is
// closed when ctx is cancelled or the store is closed.
type Watcher interface {
	Watch(ctx context.Context) (<-chan int64, error)
}

// Nop is a Store that remembers nothing. It is what an unconfigured
// registry behaves like.
type Nop struct{}

// Load always reports an empty store.
func (Nop) Load(context.Context) (*Snapshot, error) { return nil, nil }

// Save discards snap.
func (Nop) Save(context.Context, *Snapshot) (int64, error) { return 0, nil }

// Ping always succeeds.
func (Nop) Ping(context.Context) error { return nil }
