package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/noderegistry/node"
)

func TestNop(t *testing.T) {
	ctx := context.Background()
	var s Store = Nop{}

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	rev, err := s.Save(ctx, &Snapshot{Nodes: []*node.Node{{ID: "n1"}}})
	require.NoError(t, err)
	assert.Zero(t, rev)

	snap, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "nop store must not remember anything")

	assert.NoError(t, Nop{}.Ping(ctx))
}

func TestEncodeDecode(t *testing.T) {
	in := &Snapshot{
		Revision: 7,
		Nodes: []*node.Node{
			{ID: "n1", Name: "alpha", Type: "vm", Keys: []string{"10.0.0.1"}},
			{ID: "n2", Name: "beta", Type: "vm", Parent: "n1", Metadata: map[string]any{"state": "up"}},
		},
	}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.Revision)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "alpha", out.Nodes[0].Name)
	assert.Equal(t, []string{"10.0.0.1"}, out.Nodes[0].Keys)
	assert.NotNil(t, out.Nodes[0].Metadata, "decoded nodes are normalized")
	assert.Equal(t, "n1", out.Nodes[1].Parent)
	assert.Equal(t, "up", out.Nodes[1].Metadata["state"])
}

func TestEncodeNil(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, out.Nodes)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))
}

func TestNormalizeDropsNilNodes(t *testing.T) {
	snap := &Snapshot{Nodes: []*node.Node{nil, {ID: "n1"}, nil}}
	Normalize(snap)

	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "n1", snap.Nodes[0].ID)
	assert.NotNil(t, snap.Nodes[0].Tags)
}
