// Package node defines the record stored by the node registry.
//
// A Node describes one managed entity of the cluster (a virtual machine, a
// host, ...). The registry owns the canonical copy of every Node and only
// ever hands out deep copies, so values in this package can be freely
// inspected and modified by callers.
package node

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Common node types. The type field is free-form; these are only the values
// the rest of the tooling knows about.
const (
	TypeVM   = "vm"
	TypeHost = "host"
)

// Node is a single registry record.
type Node struct {
	// ID is assigned by the caller and is unique across all live records.
	ID string `json:"id" yaml:"id"`

	// Name is unique across all live records.
	Name string `json:"name" yaml:"name"`

	// Type discriminates records, e.g. "vm" or "host". Not unique.
	Type string `json:"type" yaml:"type"`

	// Definition is the opaque configuration payload of the node.
	Definition map[string]any `json:"definition" yaml:"definition"`

	// Metadata holds mutable runtime annotations.
	Metadata map[string]any `json:"metadata" yaml:"metadata"`

	// Tags are non-unique grouping labels (a set, insertion ordered).
	Tags []string `json:"tags" yaml:"tags"`

	// Keys are alternate lookup handles such as IP addresses. Every key
	// belongs to at most one live record.
	Keys []string `json:"keys" yaml:"keys"`

	// Parent is the id of the parent record, or empty when unset.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Update carries the fields of a partial update. Empty fields are left
// untouched; non-empty fields replace the stored value entirely.
type Update struct {
	Name       string
	Definition map[string]any
	Metadata   map[string]any
	Tags       []string
	// Keys, when non-empty, is the complete replacement key set.
	Keys []string
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return u.Name == "" && len(u.Definition) == 0 && len(u.Metadata) == 0 &&
		len(u.Tags) == 0 && len(u.Keys) == 0
}

// NewID returns a random identifier suitable for Node.ID.
func NewID() string {
	return uuid.New().String()
}

// Normalize fills nil collections with empty ones and removes duplicate
// tags and keys, keeping the first occurrence.
func (n *Node) Normalize() {
	if n.Definition == nil {
		n.Definition = map[string]any{}
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	n.Tags = Dedupe(n.Tags)
	n.Keys = Dedupe(n.Keys)
}

// HasTag reports whether the node carries tag.
func (n *Node) HasTag(tag string) bool {
	return contains(n.Tags, tag)
}

// HasKey reports whether key is one of the node's alternate keys.
func (n *Node) HasKey(key string) bool {
	return contains(n.Keys, key)
}

// Clone returns a deep copy of the node. Nested maps and slices inside
// Definition and Metadata are copied as well.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	return &Node{
		ID:         n.ID,
		Name:       n.Name,
		Type:       n.Type,
		Definition: CopyMap(n.Definition),
		Metadata:   CopyMap(n.Metadata),
		Tags:       copyStrings(n.Tags),
		Keys:       copyStrings(n.Keys),
		Parent:     n.Parent,
	}
}

// Fields returns the node as a generic document, the shape used by
// selector expressions and the RPC codec. Sets become []any.
func (n *Node) Fields() map[string]any {
	return map[string]any{
		"id":         n.ID,
		"name":       n.Name,
		"type":       n.Type,
		"definition": CopyMap(n.Definition),
		"metadata":   CopyMap(n.Metadata),
		"tags":       toAnySlice(n.Tags),
		"keys":       toAnySlice(n.Keys),
		"parent":     n.Parent,
	}
}

// String returns a JSON representation of the node.
func (n *Node) String() string {
	data, _ := json.Marshal(n)
	return string(data)
}

// Dedupe returns values without duplicates, preserving first-seen order.
// A nil or empty input yields an empty, non-nil slice.
func Dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CopyMap deep-copies a generic document. A nil map yields an empty map.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return copyStrings(t)
	default:
		return v
	}
}

func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
