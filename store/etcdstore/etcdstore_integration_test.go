package etcdstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/registry"
	"github.com/zero-day-ai/noderegistry/store"
)

// newIntegrationStore connects to the cluster named by
// NODEREGISTRY_ETCD_ENDPOINTS under a namespace private to the test.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping etcd integration test in short mode")
	}
	endpoints := os.Getenv(EnvEndpoints)
	if endpoints == "" {
		t.Skipf("%s not set, skipping etcd integration test", EnvEndpoints)
	}

	cfg := Config{
		Endpoints: parseEndpoints(endpoints),
		Namespace: "noderegistry-test-" + node.NewID(),
	}
	s, err := New(cfg)
	require.NoError(t, err)

	// Tests may close s themselves, so the key is removed over a second client.
	t.Cleanup(func() {
		_ = s.Close()

		cleanup, err := New(cfg)
		if err != nil {
			t.Logf("cleanup: %v", err)
			return
		}
		defer cleanup.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := cleanup.client.Delete(ctx, cleanup.snapshotKey()); err != nil {
			t.Logf("cleanup: %v", err)
		}
	})
	return s
}

func TestIntegrationSaveLoad(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "an unwritten namespace has no snapshot")

	rev, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: node.TypeVM, Keys: []string{"10.0.0.1"}},
	}})
	require.NoError(t, err)
	assert.Positive(t, rev)

	// The revision returned by Save is the one Load reports
	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, rev, snap.Revision)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "alpha", snap.Nodes[0].Name)
	assert.Equal(t, []string{"10.0.0.1"}, snap.Nodes[0].Keys)

	next, err := s.Save(ctx, &store.Snapshot{Revision: rev})
	require.NoError(t, err)
	assert.Greater(t, next, rev)

	snap, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, snap.Revision)
	assert.Empty(t, snap.Nodes)
}

func TestIntegrationWatch(t *testing.T) {
	s := newIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	rev, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{{ID: "n1", Name: "alpha", Type: node.TypeVM}}})
	require.NoError(t, err)

	select {
	case got, ok := <-changes:
		require.True(t, ok)
		assert.Equal(t, rev, got)
	case <-ctx.Done():
		t.Fatal("no change announced")
	}

	require.NoError(t, s.Close())
	select {
	case _, ok := <-changes:
		assert.False(t, ok, "channel must close with the store")
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed")
	}

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Save(ctx, &store.Snapshot{})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Watch(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestIntegrationRegistryRevision(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	writer, err := registry.New(registry.WithStore(s))
	require.NoError(t, err)
	reader, err := registry.New(registry.WithStore(s))
	require.NoError(t, err)

	require.NoError(t, writer.AddNode(ctx, &node.Node{ID: "h1", Name: "host-1", Type: node.TypeHost}))

	// The revision held after a commit matches the stored one, so the
	// writer does not rebuild its own state on the next read.
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, snap.Revision, writer.Revision())

	assert.True(t, reader.Contains(ctx, "h1"))
	assert.Equal(t, writer.Revision(), reader.Revision())

	require.NoError(t, reader.AddNode(ctx, &node.Node{ID: "v1", Name: "vm-1", Type: node.TypeVM}))
	require.NoError(t, writer.SetParent(ctx, "v1", "h1"))

	got, err := reader.GetNode(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.Parent)
}
