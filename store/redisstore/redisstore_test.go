package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/store"
)

var (
	_ store.Store   = (*Store)(nil)
	_ store.Pinger  = (*Store)(nil)
	_ store.Watcher = (*Store)(nil)
)

// setupTestStore creates a miniredis instance and returns a connected Store.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := New(Options{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		Prefix:         "test",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})

	return s, mr
}

func TestNew(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)

		s, err := New(Options{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()

		assert.Equal(t, DefaultPrefix, s.prefix)
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := New(Options{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := New(Options{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestLoadEmpty(t *testing.T) {
	s, _ := setupTestStore(t)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSaveLoad(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	rev1, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: "vm", Keys: []string{"10.0.0.1"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev1)

	rev2, err := s.Save(ctx, &store.Snapshot{Nodes: []*node.Node{
		{ID: "n1", Name: "alpha", Type: "vm", Keys: []string{"10.0.0.1"}},
		{ID: "n2", Name: "beta", Type: "vm", Parent: "n1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev2)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, rev2, snap.Revision)
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, "n1", snap.Nodes[1].Parent)

	// Keys follow the <prefix>:<name> schema
	assert.True(t, mr.Exists("test:snapshot"))
	got, err := mr.Get("test:revision")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestLoadCorrupt(t *testing.T) {
	s, mr := setupTestStore(t)

	require.NoError(t, mr.Set("test:snapshot", "{broken"))

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInvalidSnapshot))
}

func TestLoadInvalidRevision(t *testing.T) {
	s, mr := setupTestStore(t)

	require.NoError(t, mr.Set("test:snapshot", `{"nodes":[]}`))
	require.NoError(t, mr.Set("test:revision", "abc"))

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInvalidSnapshot))
}

func TestPing(t *testing.T) {
	s, mr := setupTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStorageFailed))
}

func TestWatch(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	revisions, err := s.Watch(ctx)
	require.NoError(t, err)

	rev, err := s.Save(ctx, &store.Snapshot{})
	require.NoError(t, err)

	select {
	case got := <-revisions:
		assert.Equal(t, rev, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for revision")
	}

	cancel()
	select {
	case _, ok := <-revisions:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
