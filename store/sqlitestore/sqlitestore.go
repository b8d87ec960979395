// Package sqlitestore persists registry snapshots in an embedded SQLite
// database. Each node is one row of the nodes table; the snapshot revision
// lives in a single-row registry_meta table and is bumped in the same
// transaction that rewrites the rows.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/store"
)

// Schema is applied when the store is opened.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	parent TEXT NOT NULL DEFAULT '',
	definition TEXT NOT NULL DEFAULT '{}',
	metadata TEXT NOT NULL DEFAULT '{}',
	tags TEXT NOT NULL DEFAULT '[]',
	node_keys TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS registry_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	revision INTEGER NOT NULL
);
`

// Store implements store.Store on database/sql.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database at path and applies Schema. Use
// ":memory:" for a throwaway database.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer, and every connection to ":memory:"
	// would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Load reads all node rows. It returns nil if no snapshot was saved yet.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageFailed, err)
	}
	defer tx.Rollback()

	var rev int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM registry_meta WHERE id = 1`).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read revision: %v", store.ErrStorageFailed, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, type, parent, definition, metadata, tags, node_keys
		FROM nodes
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query nodes: %v", store.ErrStorageFailed, err)
	}
	defer rows.Close()

	snap := &store.Snapshot{Revision: rev, Nodes: []*node.Node{}}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate nodes: %v", store.ErrStorageFailed, err)
	}

	store.Normalize(snap)
	return snap, nil
}

// Save replaces all rows with snap.Nodes in one transaction.
func (s *Store) Save(ctx context.Context, snap *store.Snapshot) (int64, error) {
	if snap == nil {
		snap = &store.Snapshot{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return 0, fmt.Errorf("%w: failed to clear nodes: %v", store.ErrStorageFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, position, name, type, parent, definition, metadata, tags, node_keys)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prepare insert: %v", store.ErrStorageFailed, err)
	}
	defer stmt.Close()

	for i, n := range snap.Nodes {
		if n == nil {
			continue
		}
		cols, err := encodeColumns(n)
		if err != nil {
			return 0, err
		}
		args := append([]any{n.ID, i, n.Name, n.Type, n.Parent}, cols...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("%w: failed to insert node %s: %v", store.ErrStorageFailed, n.ID, err)
		}
	}

	var rev int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO registry_meta (id, revision) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET revision = revision + 1
		RETURNING revision`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to bump revision: %v", store.ErrStorageFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit: %v", store.ErrStorageFailed, err)
	}
	return rev, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailed, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanNode(rows *sql.Rows) (*node.Node, error) {
	var (
		n                                node.Node
		definition, metadata, tags, keys string
	)
	if err := rows.Scan(&n.ID, &n.Name, &n.Type, &n.Parent, &definition, &metadata, &tags, &keys); err != nil {
		return nil, fmt.Errorf("%w: failed to scan node: %v", store.ErrStorageFailed, err)
	}

	fields := []struct {
		name string
		raw  string
		dst  any
	}{
		{"definition", definition, &n.Definition},
		{"metadata", metadata, &n.Metadata},
		{"tags", tags, &n.Tags},
		{"keys", keys, &n.Keys},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("%w: node %s has invalid %s: %v", store.ErrInvalidSnapshot, n.ID, f.name, err)
		}
	}
	return &n, nil
}

func encodeColumns(n *node.Node) ([]any, error) {
	values := []any{n.Definition, n.Metadata, n.Tags, n.Keys}
	cols := make([]any, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode node %s: %w", n.ID, err)
		}
		cols[i] = string(data)
	}
	return cols, nil
}
