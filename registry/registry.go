// Package registry implements the node registry: an in-process table of
// node records with uniqueness enforcement and a single-level parent/child
// hierarchy.
//
// The registry owns the canonical record of every node. It enforces that
// ids, names and alternate keys are unique among live records, that a
// parent reference always points at a live record, and that records are
// only deleted once they have neither a parent nor children. Every
// invariant is checked before anything changes, so a failed call leaves
// the registry exactly as it was.
//
// Persistence is pluggable through store.Store. The registry calls the
// store's Load before an operation observes state (the reload hook) and
// Save after a mutation succeeded (the commit hook).
//
// Example usage:
//
//	reg, err := registry.New(registry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	err = reg.AddNode(ctx, &node.Node{
//	    ID:   "n1",
//	    Name: "alpha",
//	    Type: node.TypeVM,
//	    Keys: []string{"10.0.0.1"},
//	})
//
//	n, ok := reg.GetNodeByKey(ctx, "10.0.0.1")
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized by an exclusive lock; reads share a read lock.
package registry

import (
	"context"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/query"
	"github.com/zero-day-ai/noderegistry/store"
)

// Registry is the node registry.
//
// Records stored in nodes are never modified after insertion: a mutation
// stores an updated copy instead. Readers may therefore keep pointers taken
// under the read lock after releasing it.
type Registry struct {
	// mu guards nodes, index and revision. Go mutexes are not reentrant:
	// exported methods acquire mu and only call *Locked helpers.
	mu       sync.RWMutex
	nodes    map[string]*node.Node
	index    *uniqueIndex
	revision int64

	store        store.Store
	logger       *slog.Logger
	tracer       trace.Tracer
	inst         *instruments
	queries      *query.Compiler
	detectCycles bool
}

// New creates an empty registry.
func New(opts ...Option) (*Registry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.meter == nil {
		o.meter = otel.Meter(instrumentationName)
	}
	if o.compiler == nil {
		c, err := query.NewCompiler()
		if err != nil {
			return nil, err
		}
		o.compiler = c
	}

	r := &Registry{
		nodes:        make(map[string]*node.Node),
		index:        newUniqueIndex(),
		store:        o.store,
		logger:       o.logger,
		tracer:       o.tracer,
		queries:      o.compiler,
		detectCycles: o.detectCycles,
	}

	inst, err := newInstruments(o.meter, r)
	if err != nil {
		return nil, err
	}
	r.inst = inst

	return r, nil
}

// Reload runs the reload hook explicitly, replacing in-memory state with
// the store's latest snapshot when it changed. Useful at startup to fail
// fast on an unreachable or corrupt store.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx, "Reload")
}

// Revision returns the store revision the in-memory state corresponds to.
func (r *Registry) Revision() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Contains reports whether a node with id exists.
func (r *Registry) Contains(ctx context.Context, id string) bool {
	r.refresh(ctx, "Contains")

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// ListNodes returns the ids of all nodes, sorted.
func (r *Registry) ListNodes(ctx context.Context) []string {
	r.refresh(ctx, "ListNodes")

	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetNode returns a copy of the node with id.
func (r *Registry) GetNode(ctx context.Context, id string) (*node.Node, error) {
	r.refresh(ctx, "GetNode")

	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, notFound("GetNode", id)
	}
	return n.Clone(), nil
}

// GetNodeByName returns the node named name. A missing name is not an error.
func (r *Registry) GetNodeByName(ctx context.Context, name string) (*node.Node, bool) {
	r.refresh(ctx, "GetNodeByName")

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index.nameOwner(name)
	if !ok {
		return nil, false
	}
	return r.nodes[id].Clone(), true
}

// GetNodeByKey returns the node owning the alternate key. A missing key is
// not an error.
func (r *Registry) GetNodeByKey(ctx context.Context, key string) (*node.Node, bool) {
	r.refresh(ctx, "GetNodeByKey")

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index.keyOwner(key)
	if !ok {
		return nil, false
	}
	return r.nodes[id].Clone(), true
}

// GetNodes returns a point-in-time copy of all nodes, sorted by id.
func (r *Registry) GetNodes(ctx context.Context) []*node.Node {
	nodes := r.snapshot(ctx, "GetNodes")
	for i, n := range nodes {
		nodes[i] = n.Clone()
	}
	return nodes
}

// NodesWithType yields the nodes of type t.
func (r *Registry) NodesWithType(ctx context.Context, t string) iter.Seq[*node.Node] {
	return r.filter(ctx, "NodesWithType", func(n *node.Node) bool {
		return n.Type == t
	})
}

// NodesWithTag yields the nodes carrying tag.
func (r *Registry) NodesWithTag(ctx context.Context, tag string) iter.Seq[*node.Node] {
	return r.filter(ctx, "NodesWithTag", func(n *node.Node) bool {
		return n.HasTag(tag)
	})
}

// NodesWithParent yields the children of parentID. An empty parentID
// yields the nodes without a parent.
func (r *Registry) NodesWithParent(ctx context.Context, parentID string) iter.Seq[*node.Node] {
	return r.filter(ctx, "NodesWithParent", func(n *node.Node) bool {
		return n.Parent == parentID
	})
}

// Select returns the nodes matching a CEL selector expression, sorted by id.
// See package query for the expression environment.
func (r *Registry) Select(ctx context.Context, expr string) ([]*node.Node, error) {
	f, err := r.queries.Compile(expr)
	if err != nil {
		return nil, newError("Select", KindValidation, err, "expr", expr)
	}

	var out []*node.Node
	for _, n := range r.snapshot(ctx, "Select") {
		ok, err := f.Match(n)
		if err != nil {
			return nil, newError("Select", KindValidation, err, "expr", expr, "node_id", n.ID)
		}
		if ok {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

// filter returns a lazy sequence over the nodes accepted by match. Each
// range over the sequence starts a fresh pass over a new snapshot; the
// lock is not held while yielding, so the loop body may call back into
// the registry.
func (r *Registry) filter(ctx context.Context, op string, match func(*node.Node) bool) iter.Seq[*node.Node] {
	return func(yield func(*node.Node) bool) {
		for _, n := range r.snapshot(ctx, op) {
			if !match(n) {
				continue
			}
			if !yield(n.Clone()) {
				return
			}
		}
	}
}

// snapshot returns the current records sorted by id. The records are
// shared with the registry and must not be modified.
func (r *Registry) snapshot(ctx context.Context, op string) []*node.Node {
	r.refresh(ctx, op)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []*node.Node {
	nodes := make([]*node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// AddNode inserts a new node. ID, Name and Type are required; nil
// collections default to empty ones. The Parent field is ignored: use
// SetParent once the node exists.
func (r *Registry) AddNode(ctx context.Context, n *node.Node) error {
	if n == nil {
		return newError("AddNode", KindValidation, ErrInvalidNode, "field", "node")
	}
	candidate := n.Clone()
	candidate.Normalize()
	candidate.Parent = ""

	return r.mutate(ctx, "AddNode", candidate.ID, func() error {
		if err := validateNode("AddNode", candidate); err != nil {
			return err
		}
		if _, ok := r.nodes[candidate.ID]; ok {
			return newError("AddNode", KindConflict, ErrNodeAlreadyExists, "node_id", candidate.ID)
		}
		if owner, ok := r.index.nameOwner(candidate.Name); ok {
			return newError("AddNode", KindConflict, ErrUniqueConstraintViolation,
				"node_id", candidate.ID, "name", candidate.Name, "owner", owner)
		}
		for _, k := range candidate.Keys {
			if owner, ok := r.index.keyOwner(k); ok {
				return newError("AddNode", KindConflict, ErrUniqueConstraintViolation,
					"node_id", candidate.ID, "key", k, "owner", owner)
			}
		}

		r.nodes[candidate.ID] = candidate
		r.index.claim(candidate)
		return nil
	})
}

// SetNode applies a partial update. Only non-empty fields of u are applied
// and each replaces the stored value. u.Keys is the complete new key set.
func (r *Registry) SetNode(ctx context.Context, id string, u node.Update) error {
	keys := node.Dedupe(u.Keys)

	return r.mutate(ctx, "SetNode", id, func() error {
		current, ok := r.nodes[id]
		if !ok {
			return notFound("SetNode", id)
		}

		rename := u.Name != "" && u.Name != current.Name
		if rename {
			if owner, ok := r.index.nameOwner(u.Name); ok {
				return newError("SetNode", KindConflict, ErrUniqueConstraintViolation,
					"node_id", id, "name", u.Name, "owner", owner)
			}
		}
		for _, k := range keys {
			if k == "" {
				return newError("SetNode", KindValidation, ErrInvalidNode, "node_id", id, "field", "keys")
			}
			if owner, ok := r.index.keyOwner(k); ok && owner != id {
				return newError("SetNode", KindConflict, ErrUniqueConstraintViolation,
					"node_id", id, "key", k, "owner", owner)
			}
		}

		updated := current.Clone()
		if len(u.Definition) > 0 {
			updated.Definition = node.CopyMap(u.Definition)
		}
		if len(u.Metadata) > 0 {
			updated.Metadata = node.CopyMap(u.Metadata)
		}
		if len(u.Tags) > 0 {
			updated.Tags = node.Dedupe(u.Tags)
		}
		if len(keys) > 0 {
			r.index.replaceKeys(id, current.Keys, keys)
			updated.Keys = keys
		}
		if rename {
			r.index.releaseName(current.Name, id)
			r.index.claimName(u.Name, id)
			updated.Name = u.Name
		}

		r.nodes[id] = updated
		return nil
	})
}

// UpdateMetadata removes deleteKeys from the node's metadata, then merges
// extra into it. No other field is touched.
func (r *Registry) UpdateMetadata(ctx context.Context, id string, extra map[string]any, deleteKeys ...string) error {
	return r.mutate(ctx, "UpdateMetadata", id, func() error {
		current, ok := r.nodes[id]
		if !ok {
			return notFound("UpdateMetadata", id)
		}

		updated := current.Clone()
		for _, k := range deleteKeys {
			delete(updated.Metadata, k)
		}
		for k, v := range node.CopyMap(extra) {
			updated.Metadata[k] = v
		}

		r.nodes[id] = updated
		return nil
	})
}

// SetParent assigns or clears the parent of a node.
//
// An empty parentID clears the parent unconditionally. Otherwise the node
// must currently have no parent (ErrNodeAlreadyHasParent) and parentID must
// name a live node (ErrNodeNotFound). Cycles, including a node naming
// itself, are only rejected when the registry was created
// WithCycleDetection.
func (r *Registry) SetParent(ctx context.Context, id, parentID string) error {
	return r.mutate(ctx, "SetParent", id, func() error {
		current, ok := r.nodes[id]
		if !ok {
			return notFound("SetParent", id)
		}

		if parentID == "" {
			if current.Parent == "" {
				return nil
			}
			updated := current.Clone()
			updated.Parent = ""
			r.nodes[id] = updated
			return nil
		}

		if current.Parent != "" {
			return newError("SetParent", KindInUse, ErrNodeAlreadyHasParent,
				"node_id", id, "parent_id", current.Parent, "requested_parent_id", parentID)
		}
		if _, ok := r.nodes[parentID]; !ok {
			return newError("SetParent", KindNotFound, ErrNodeNotFound, "node_id", id, "parent_id", parentID)
		}
		if r.detectCycles && r.reachesLocked(parentID, id) {
			return newError("SetParent", KindValidation, ErrHierarchyCycle, "node_id", id, "parent_id", parentID)
		}

		updated := current.Clone()
		updated.Parent = parentID
		r.nodes[id] = updated
		return nil
	})
}

// DeleteNode removes a node that has neither a parent nor children, and
// releases its name and keys.
func (r *Registry) DeleteNode(ctx context.Context, id string) error {
	return r.mutate(ctx, "DeleteNode", id, func() error {
		current, ok := r.nodes[id]
		if !ok {
			return notFound("DeleteNode", id)
		}
		if current.Parent != "" {
			return newError("DeleteNode", KindInUse, ErrNodeStillInUse,
				"node_id", id, "parent_id", current.Parent)
		}
		if children := r.childrenLocked(id); len(children) > 0 {
			return newError("DeleteNode", KindInUse, ErrNodeStillInUse,
				"node_id", id, "children", children)
		}

		r.index.release(current)
		delete(r.nodes, id)
		return nil
	})
}

// childrenLocked returns the sorted ids of the nodes whose parent is id.
func (r *Registry) childrenLocked(id string) []string {
	var children []string
	for cid, n := range r.nodes {
		if n.Parent == id {
			children = append(children, cid)
		}
	}
	sort.Strings(children)
	return children
}

// reachesLocked reports whether walking parent links up from start arrives
// at target. The walk is bounded so a corrupt hierarchy cannot loop forever.
func (r *Registry) reachesLocked(start, target string) bool {
	cur := start
	for steps := 0; cur != "" && steps <= len(r.nodes); steps++ {
		if cur == target {
			return true
		}
		n, ok := r.nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}

// mutate runs apply under the exclusive lock, between the reload and
// commit hooks. apply must validate everything before it changes state.
// A failed commit rolls the table and index back to their state before
// apply.
func (r *Registry) mutate(ctx context.Context, op, id string, apply func() error) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry."+op,
		trace.WithAttributes(attribute.String("node.id", id)))
	start := time.Now()
	defer func() { r.finish(ctx, span, op, start, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reloadLocked(ctx, op); err != nil {
		return err
	}
	rollback := r.checkpointLocked()
	if err := apply(); err != nil {
		r.logger.DebugContext(ctx, "registry operation rejected", "op", op, "node_id", id, "error", err)
		return err
	}
	if err := r.commitLocked(ctx, op); err != nil {
		rollback()
		return err
	}

	r.logger.DebugContext(ctx, "registry operation applied", "op", op, "node_id", id, "revision", r.revision)
	return nil
}

func validateNode(op string, n *node.Node) error {
	switch {
	case n.ID == "":
		return newError(op, KindValidation, ErrInvalidNode, "field", "id")
	case n.Name == "":
		return newError(op, KindValidation, ErrInvalidNode, "node_id", n.ID, "field", "name")
	case n.Type == "":
		return newError(op, KindValidation, ErrInvalidNode, "node_id", n.ID, "field", "type")
	}
	for _, k := range n.Keys {
		if k == "" {
			return newError(op, KindValidation, ErrInvalidNode, "node_id", n.ID, "field", "keys")
		}
	}
	return nil
}
