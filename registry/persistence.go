package registry

import (
	"context"
	"fmt"
	"maps"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/store"
)

// unknownRevision forces the next reload to rebuild from the store.
const unknownRevision = -1

// refresh is the best-effort reload hook of read operations. A failure is
// logged and the current in-memory state is served.
func (r *Registry) refresh(ctx context.Context, op string) {
	if r.store == nil {
		return
	}

	r.mu.Lock()
	err := r.reloadLocked(ctx, op)
	r.mu.Unlock()

	if err != nil {
		r.logger.WarnContext(ctx, "reload before read failed, serving in-memory state",
			"op", op, "error", err)
	}
}

// reloadLocked replaces in-memory state with the store's snapshot when its
// revision differs from the one last seen. A snapshot that violates the
// registry invariants is rejected and state is left untouched.
func (r *Registry) reloadLocked(ctx context.Context, op string) error {
	if r.store == nil {
		return nil
	}

	snap, err := r.store.Load(ctx)
	if err != nil {
		return newError(op, KindPersistence, err)
	}
	if snap == nil || snap.Revision == r.revision {
		return nil
	}

	nodes, index, err := buildState(snap)
	if err != nil {
		return newError(op, KindPersistence, err, "revision", snap.Revision)
	}

	r.nodes = nodes
	r.index = index
	r.revision = snap.Revision
	r.logger.DebugContext(ctx, "registry state reloaded", "op", op, "revision", snap.Revision, "nodes", len(nodes))
	return nil
}

// commitLocked hands the current state to the store. On failure the
// revision is marked unknown so the next reload rebuilds from whatever
// the store holds; the caller undoes the in-memory change.
func (r *Registry) commitLocked(ctx context.Context, op string) error {
	if r.store == nil {
		return nil
	}

	snap := &store.Snapshot{Revision: r.revision, Nodes: r.sortedLocked()}
	rev, err := r.store.Save(ctx, snap)
	if err != nil {
		r.revision = unknownRevision
		r.logger.ErrorContext(ctx, "registry commit failed", "op", op, "error", err)
		return newError(op, KindPersistence, err)
	}

	r.revision = rev
	return nil
}

// checkpointLocked captures the table and index and returns a func that
// restores them. Records are replaced on update, never modified in place,
// so copying the maps is enough. Without a store a commit cannot fail and
// nothing is captured.
func (r *Registry) checkpointLocked() func() {
	if r.store == nil {
		return func() {}
	}

	nodes := maps.Clone(r.nodes)
	index := r.index.clone()
	return func() {
		r.nodes = nodes
		r.index = index
	}
}

// buildState validates a snapshot and builds the table and index from it.
func buildState(snap *store.Snapshot) (map[string]*node.Node, *uniqueIndex, error) {
	nodes := make(map[string]*node.Node, len(snap.Nodes))
	index := newUniqueIndex()

	for _, in := range snap.Nodes {
		if in == nil {
			continue
		}
		n := in.Clone()
		n.Normalize()

		if err := validateNode("Reload", n); err != nil {
			return nil, nil, corrupt(err.Error())
		}
		if _, ok := nodes[n.ID]; ok {
			return nil, nil, corrupt("duplicate node id " + n.ID)
		}
		if owner, ok := index.nameOwner(n.Name); ok {
			return nil, nil, corrupt("name " + n.Name + " claimed by " + owner + " and " + n.ID)
		}
		for _, k := range n.Keys {
			if owner, ok := index.keyOwner(k); ok {
				return nil, nil, corrupt("key " + k + " claimed by " + owner + " and " + n.ID)
			}
		}

		nodes[n.ID] = n
		index.claim(n)
	}

	for id, n := range nodes {
		if n.Parent == "" {
			continue
		}
		if _, ok := nodes[n.Parent]; !ok {
			return nil, nil, corrupt("node " + id + " references missing parent " + n.Parent)
		}
	}

	return nodes, index, nil
}

func corrupt(detail string) error {
	return fmt.Errorf("%w: %s", ErrCorruptSnapshot, detail)
}
