package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/store"
)

var (
	_ store.Store  = (*Store)(nil)
	_ store.Pinger = (*Store)(nil)
)

// setupTestStore opens an in-memory database closed at test end.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewEmptyPath(t *testing.T) {
	_, err := New(context.Background(), "")
	require.Error(t, err)
}

func TestLoadEmpty(t *testing.T) {
	s := setupTestStore(t)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSaveLoad(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rev, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{
			ID:         "h1",
			Name:       "host-1",
			Type:       node.TypeHost,
			Definition: map[string]any{"cpus": 32},
			Tags:       []string{"rack-a"},
		},
		{
			ID:       "n1",
			Name:     "alpha",
			Type:     node.TypeVM,
			Metadata: map[string]any{"state": "running"},
			Keys:     []string{"10.0.0.1", "aa:bb"},
			Parent:   "h1",
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Revision)
	require.Len(t, snap.Nodes, 2)

	host := snap.Nodes[0]
	assert.Equal(t, "h1", host.ID)
	assert.Equal(t, float64(32), host.Definition["cpus"])
	assert.Equal(t, []string{"rack-a"}, host.Tags)
	assert.NotNil(t, host.Metadata)
	assert.NotNil(t, host.Keys)

	vm := snap.Nodes[1]
	assert.Equal(t, "h1", vm.Parent)
	assert.Equal(t, "running", vm.Metadata["state"])
	assert.Equal(t, []string{"10.0.0.1", "aa:bb"}, vm.Keys)
}

func TestSaveReplacesRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: node.TypeVM},
		{ID: "n2", Name: "beta", Type: node.TypeVM},
	}})
	require.NoError(t, err)

	rev, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n2", Name: "beta", Type: node.TypeVM},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "n2", snap.Nodes[0].ID)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveDuplicateIDRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: node.TypeVM},
	}})
	require.NoError(t, err)

	_, err = s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "dup", Name: "a", Type: node.TypeVM},
		{ID: "dup", Name: "b", Type: node.TypeVM},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStorageFailed))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Revision)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "n1", snap.Nodes[0].ID)
}

func TestLoadInvalidColumn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: node.TypeVM},
	}})
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `UPDATE nodes SET tags = 'not json' WHERE id = 'n1'`)
	require.NoError(t, err)

	_, err = s.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInvalidSnapshot))
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")

	s, err := New(ctx, path)
	require.NoError(t, err)
	_, err = s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: node.TypeVM},
	}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	snap, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "alpha", snap.Nodes[0].Name)
}

func TestPing(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
