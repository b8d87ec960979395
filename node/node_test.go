package node

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := &Node{
		ID:   "n1",
		Tags: []string{"prod", "web", "prod"},
		Keys: []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"},
	}
	n.Normalize()

	assert.NotNil(t, n.Definition)
	assert.NotNil(t, n.Metadata)
	assert.Equal(t, []string{"prod", "web"}, n.Tags)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, n.Keys)
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "nil", in: nil, want: []string{}},
		{name: "no duplicates", in: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "keeps first occurrence", in: []string{"b", "a", "b", "c", "a"}, want: []string{"b", "a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dedupe(tt.in))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Node{
		ID:   "n1",
		Name: "alpha",
		Type: TypeVM,
		Definition: map[string]any{
			"disk": map[string]any{"size": 10},
			"nics": []any{"eth0"},
		},
		Metadata: map[string]any{"state": "running"},
		Tags:     []string{"prod"},
		Keys:     []string{"10.0.0.1"},
		Parent:   "h1",
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.Definition["disk"].(map[string]any)["size"] = 20
	c.Definition["nics"].([]any)[0] = "eth1"
	c.Metadata["state"] = "stopped"
	c.Tags[0] = "dev"
	c.Keys[0] = "10.0.0.9"

	assert.Equal(t, 10, orig.Definition["disk"].(map[string]any)["size"])
	assert.Equal(t, "eth0", orig.Definition["nics"].([]any)[0])
	assert.Equal(t, "running", orig.Metadata["state"])
	assert.Equal(t, "prod", orig.Tags[0])
	assert.Equal(t, "10.0.0.1", orig.Keys[0])
}

func TestCloneNil(t *testing.T) {
	var n *Node
	assert.Nil(t, n.Clone())
}

func TestHasTagAndKey(t *testing.T) {
	n := &Node{Tags: []string{"prod"}, Keys: []string{"10.0.0.1"}}

	assert.True(t, n.HasTag("prod"))
	assert.False(t, n.HasTag("dev"))
	assert.True(t, n.HasKey("10.0.0.1"))
	assert.False(t, n.HasKey("10.0.0.2"))
}

func TestFields(t *testing.T) {
	n := &Node{ID: "n1", Name: "alpha", Type: TypeHost, Tags: []string{"a"}, Keys: []string{"k"}}
	f := n.Fields()

	assert.Equal(t, "n1", f["id"])
	assert.Equal(t, "alpha", f["name"])
	assert.Equal(t, "host", f["type"])
	assert.Equal(t, []any{"a"}, f["tags"])
	assert.Equal(t, []any{"k"}, f["keys"])
	assert.Equal(t, "", f["parent"])
	assert.Equal(t, map[string]any{}, f["definition"])
}

func TestUpdateIsEmpty(t *testing.T) {
	assert.True(t, Update{}.IsEmpty())
	assert.True(t, Update{Tags: []string{}, Metadata: map[string]any{}}.IsEmpty())
	assert.False(t, Update{Name: "x"}.IsEmpty())
	assert.False(t, Update{Keys: []string{"k"}}.IsEmpty())
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestView(t *testing.T) {
	n := &Node{
		ID:         "n1",
		Name:       "alpha",
		Type:       TypeVM,
		Definition: map[string]any{"image": "debian", "cpu": 2},
		Metadata:   map[string]any{"cpu": 4},
		Tags:       []string{"prod"},
		Parent:     "h1",
	}
	doc := View(n)
	n.Name = "changed"

	assert.Equal(t, "n1", doc.ID())
	assert.Equal(t, "alpha", doc.Name())
	assert.Equal(t, "vm", doc.Type())
	assert.Equal(t, "h1", doc.Parent())
	assert.Equal(t, []string{"prod"}, doc.Tags())

	t.Run("blob prefers metadata", func(t *testing.T) {
		v, ok := doc.Blob("cpu")
		require.True(t, ok)
		assert.Equal(t, 4, v)
	})

	t.Run("blob falls back to definition", func(t *testing.T) {
		v, ok := doc.Blob("image")
		require.True(t, ok)
		assert.Equal(t, "debian", v)
	})

	t.Run("missing blob is not an error", func(t *testing.T) {
		v, ok := doc.Blob("nope")
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("accessors return copies", func(t *testing.T) {
		doc.Metadata()["cpu"] = 8
		doc.Tags()[0] = "dev"
		v, _ := doc.Blob("cpu")
		assert.Equal(t, 4, v)
		assert.Equal(t, []string{"prod"}, doc.Tags())
	})
}

func TestViewNil(t *testing.T) {
	doc := View(nil)
	assert.Empty(t, doc.ID())
	_, ok := doc.Blob("x")
	assert.False(t, ok)
}
