package serve

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zero-day-ai/noderegistry/node"
)

// Messages of the NodeRegistry service are google.protobuf.Struct values.
// The types below describe their fields; they are converted through the
// protobuf JSON mapping, so numbers inside definition and metadata arrive
// as float64 on the other side.

type idRequest struct {
	ID string `json:"id"`
}

type addNodeRequest struct {
	Node *node.Node `json:"node"`
}

type updateMessage struct {
	Name       string         `json:"name,omitempty"`
	Definition map[string]any `json:"definition,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Keys       []string       `json:"keys,omitempty"`
}

type setNodeRequest struct {
	ID     string        `json:"id"`
	Update updateMessage `json:"update"`
}

type updateMetadataRequest struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Delete   []string       `json:"delete,omitempty"`
}

type setParentRequest struct {
	ID     string `json:"id"`
	Parent string `json:"parent"`
}

type lookupRequest struct {
	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`
}

// Filter selects the nodes returned by GetNodes. All set criteria must
// match. Root selects nodes without a parent and overrides Parent.
type Filter struct {
	Type   string `json:"type,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Parent string `json:"parent,omitempty"`
	Root   bool   `json:"root,omitempty"`
	// Expr is a CEL selector, see package query.
	Expr string `json:"expr,omitempty"`
}

type nodeResponse struct {
	Node *node.Node `json:"node,omitempty"`
}

type lookupResponse struct {
	Found bool       `json:"found"`
	Node  *node.Node `json:"node,omitempty"`
}

type listResponse struct {
	IDs []string `json:"ids"`
}

type nodesResponse struct {
	Nodes []*node.Node `json:"nodes"`
}

// encode converts a message into a Struct.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to convert message: %w", err)
	}
	return out, nil
}

// decode fills v from a Struct.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}

	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to convert message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}
