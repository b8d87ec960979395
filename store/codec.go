package store

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a snapshot to JSON.
func Encode(snap *Snapshot) ([]byte, error) {
	if snap == nil {
		snap = &Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a JSON snapshot produced by Encode. Decoded nodes are
// normalized so that optional collections are never nil.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	Normalize(&snap)
	return &snap, nil
}

// Normalize drops nil entries and fills empty collections of every node.
func Normalize(snap *Snapshot) {
	nodes := snap.Nodes[:0]
	for _, n := range snap.Nodes {
		if n == nil {
			continue
		}
		n.Normalize()
		nodes = append(nodes, n)
	}
	snap.Nodes = nodes
}
