package registry

import (
	"maps"

	"github.com/zero-day-ai/noderegistry/node"
)

// uniqueIndex is the secondary index enforcing name and key uniqueness.
// Names and keys live in separate maps so a key can never shadow a name.
type uniqueIndex struct {
	names map[string]string // name -> node id
	keys  map[string]string // key -> node id
}

func newUniqueIndex() *uniqueIndex {
	return &uniqueIndex{
		names: make(map[string]string),
		keys:  make(map[string]string),
	}
}

func (ix *uniqueIndex) clone() *uniqueIndex {
	return &uniqueIndex{
		names: maps.Clone(ix.names),
		keys:  maps.Clone(ix.keys),
	}
}

func (ix *uniqueIndex) nameOwner(name string) (string, bool) {
	id, ok := ix.names[name]
	return id, ok
}

func (ix *uniqueIndex) keyOwner(key string) (string, bool) {
	id, ok := ix.keys[key]
	return id, ok
}

// claim registers the name and keys of n.
func (ix *uniqueIndex) claim(n *node.Node) {
	ix.names[n.Name] = n.ID
	for _, k := range n.Keys {
		ix.keys[k] = n.ID
	}
}

// release removes the entries of n that n still owns.
func (ix *uniqueIndex) release(n *node.Node) {
	ix.releaseName(n.Name, n.ID)
	for _, k := range n.Keys {
		ix.releaseKey(k, n.ID)
	}
}

func (ix *uniqueIndex) claimName(name, id string) {
	ix.names[name] = id
}

func (ix *uniqueIndex) releaseName(name, id string) {
	if ix.names[name] == id {
		delete(ix.names, name)
	}
}

func (ix *uniqueIndex) releaseKey(key, id string) {
	if ix.keys[key] == id {
		delete(ix.keys, key)
	}
}

// replaceKeys moves id's key claims from old to updated. Keys present in
// both stay claimed.
func (ix *uniqueIndex) replaceKeys(id string, old, updated []string) {
	keep := make(map[string]struct{}, len(updated))
	for _, k := range updated {
		keep[k] = struct{}{}
	}
	for _, k := range old {
		if _, ok := keep[k]; !ok {
			ix.releaseKey(k, id)
		}
	}
	for _, k := range updated {
		ix.keys[k] = id
	}
}
