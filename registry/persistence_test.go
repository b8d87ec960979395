package registry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/store"
	"github.com/zero-day-ai/noderegistry/store/filestore"
)

// memStore is an in-memory store.Store with failure injection.
type memStore struct {
	mu       sync.Mutex
	snap     *store.Snapshot
	revision int64
	loads    int
	saves    int
	loadErr  error
	saveErr  error
}

func (m *memStore) Load(context.Context) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.snap == nil {
		return nil, nil
	}
	return &store.Snapshot{Revision: m.snap.Revision, Nodes: cloneNodes(m.snap.Nodes)}, nil
}

func (m *memStore) Save(_ context.Context, snap *store.Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.revision++
	m.snap = &store.Snapshot{Revision: m.revision, Nodes: cloneNodes(snap.Nodes)}
	return m.revision, nil
}

func (m *memStore) counts() (loads, saves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves
}

func (m *memStore) set(f func(m *memStore)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f(m)
}

func cloneNodes(nodes []*node.Node) []*node.Node {
	out := make([]*node.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

func TestCommitCalledOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	ms := &memStore{}
	r := newTestRegistry(t, WithStore(ms))

	require.NoError(t, r.AddNode(ctx, vm("n1", "alpha", "10.0.0.1")))
	loads, saves := ms.counts()
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, saves)
	assert.Equal(t, int64(1), r.Revision())

	// Rejected mutations still reload, but never commit
	assert.Error(t, r.AddNode(ctx, vm("n2", "beta", "10.0.0.1")))
	assert.Error(t, r.SetParent(ctx, "n1", "ghost"))
	assert.Error(t, r.DeleteNode(ctx, "ghost"))
	loads, saves = ms.counts()
	assert.Equal(t, 4, loads)
	assert.Equal(t, 1, saves)

	require.NoError(t, r.UpdateMetadata(ctx, "n1", map[string]any{"state": "up"}))
	_, saves = ms.counts()
	assert.Equal(t, 2, saves)
	assert.Equal(t, int64(2), r.Revision())
}

func TestReadsReloadFromStore(t *testing.T) {
	ctx := context.Background()
	ms := &memStore{}

	writer := newTestRegistry(t, WithStore(ms))
	reader := newTestRegistry(t, WithStore(ms))

	require.NoError(t, writer.AddNode(ctx, vm("n1", "alpha", "10.0.0.1")))

	n, ok := reader.GetNodeByKey(ctx, "10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "n1", n.ID)

	// The reader sees the writer's claims when validating its own mutations
	err := reader.AddNode(ctx, vm("n2", "alpha"))
	assert.ErrorIs(t, err, ErrUniqueConstraintViolation)

	require.NoError(t, reader.AddNode(ctx, vm("n2", "beta")))
	assert.Equal(t, []string{"n1", "n2"}, writer.ListNodes(ctx))
}

func TestReloadRejectsCorruptSnapshot(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*node.Node
	}{
		{name: "duplicate id", nodes: []*node.Node{vm("n1", "a"), vm("n1", "b")}},
		{name: "duplicate name", nodes: []*node.Node{vm("n1", "a"), vm("n2", "a")}},
		{name: "duplicate key", nodes: []*node.Node{vm("n1", "a", "k"), vm("n2", "b", "k")}},
		{name: "missing field", nodes: []*node.Node{{ID: "n1", Name: "a"}}},
		{name: "missing parent", nodes: []*node.Node{{ID: "n1", Name: "a", Type: "vm", Parent: "ghost"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ms := &memStore{}
			r := newTestRegistry(t, WithStore(ms))
			require.NoError(t, r.AddNode(ctx, vm("keep", "keep")))

			ms.set(func(m *memStore) {
				m.snap = &store.Snapshot{Revision: 42, Nodes: tt.nodes}
			})

			err := r.Reload(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
			assert.Equal(t, KindPersistence, KindOf(err))

			// Mutations refuse to run on top of a corrupt store
			assert.ErrorIs(t, r.AddNode(ctx, vm("n9", "n9")), ErrCorruptSnapshot)

			assert.Equal(t, int64(1), r.Revision())
			assert.Equal(t, []string{"keep"}, r.ListNodes(ctx))
		})
	}
}

func TestLoadFailure(t *testing.T) {
	ctx := context.Background()
	ms := &memStore{}

	var logs bytes.Buffer
	r, err := New(WithStore(ms), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	require.NoError(t, r.AddNode(ctx, vm("n1", "alpha")))

	boom := errors.New("backend down")
	ms.set(func(m *memStore) { m.loadErr = boom })

	t.Run("mutations fail without committing", func(t *testing.T) {
		err := r.AddNode(ctx, vm("n2", "beta"))
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, KindPersistence, KindOf(err))

		_, saves := ms.counts()
		assert.Equal(t, 1, saves)
	})

	t.Run("reads serve in-memory state", func(t *testing.T) {
		assert.Equal(t, []string{"n1"}, r.ListNodes(ctx))
		assert.Contains(t, logs.String(), "reload before read failed")
	})
}

func TestSaveFailureResyncsFromStore(t *testing.T) {
	ctx := context.Background()
	ms := &memStore{}
	r := newTestRegistry(t, WithStore(ms))
	require.NoError(t, r.AddNode(ctx, vm("n1", "alpha")))

	ms.set(func(m *memStore) { m.saveErr = errors.New("disk full") })

	err := r.AddNode(ctx, vm("n2", "beta"))
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Equal(t, int64(unknownRevision), r.Revision())

	ms.set(func(m *memStore) { m.saveErr = nil })

	// The next operation rebuilds from the last committed snapshot
	assert.Equal(t, []string{"n1"}, r.ListNodes(ctx))
	assert.Equal(t, int64(1), r.Revision())
	require.NoError(t, r.AddNode(ctx, vm("n2", "beta")))
}

func TestSaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		ms := &memStore{saveErr: errors.New("disk full")}
		r := newTestRegistry(t, WithStore(ms))

		err := r.AddNode(ctx, vm("n1", "alpha", "10.0.0.1"))
		require.Error(t, err)
		assert.Equal(t, KindPersistence, KindOf(err))

		assert.False(t, r.Contains(ctx, "n1"))
		assert.Empty(t, r.ListNodes(ctx))
		_, ok := r.GetNodeByName(ctx, "alpha")
		assert.False(t, ok)
		_, ok = r.GetNodeByKey(ctx, "10.0.0.1")
		assert.False(t, ok)

		ms.set(func(m *memStore) { m.saveErr = nil })
		require.NoError(t, r.AddNode(ctx, vm("n1", "alpha", "10.0.0.1")))
		assert.Equal(t, []string{"n1"}, r.ListNodes(ctx))
	})

	t.Run("index restored after rename", func(t *testing.T) {
		r := newTestRegistry(t)
		mustAdd(t, r, vm("n1", "alpha", "k1"))

		// Attach a store that holds nothing and rejects every write
		r.store = &memStore{saveErr: errors.New("disk full")}

		err := r.SetNode(ctx, "n1", node.Update{Name: "beta", Keys: []string{"k2"}})
		require.Error(t, err)

		n, ok := r.GetNodeByName(ctx, "alpha")
		require.True(t, ok)
		assert.Equal(t, []string{"k1"}, n.Keys)
		_, ok = r.GetNodeByName(ctx, "beta")
		assert.False(t, ok)
		_, ok = r.GetNodeByKey(ctx, "k2")
		assert.False(t, ok)
		_, ok = r.GetNodeByKey(ctx, "k1")
		assert.True(t, ok)
	})
}

func TestNilSnapshotKeepsState(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, WithStore(store.Nop{}))

	require.NoError(t, r.AddNode(ctx, vm("n1", "alpha")))
	require.NoError(t, r.Reload(ctx))
	assert.Equal(t, []string{"n1"}, r.ListNodes(ctx))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nodes.yaml")

	fs, err := filestore.New(path)
	require.NoError(t, err)

	first := newTestRegistry(t, WithStore(fs))
	require.NoError(t, first.AddNode(ctx, vm("h1", "host", "192.168.0.1")))
	require.NoError(t, first.AddNode(ctx, vm("n1", "alpha", "10.0.0.1")))
	require.NoError(t, first.SetParent(ctx, "n1", "h1"))

	reopened, err := filestore.New(path)
	require.NoError(t, err)
	second := newTestRegistry(t, WithStore(reopened))
	require.NoError(t, second.Reload(ctx))

	assert.Equal(t, []string{"h1", "n1"}, second.ListNodes(ctx))
	n, ok := second.GetNodeByKey(ctx, "10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "h1", n.Parent)
	assert.ErrorIs(t, second.DeleteNode(ctx, "h1"), ErrNodeStillInUse)
}
