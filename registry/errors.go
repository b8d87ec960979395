package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrNodeNotFound indicates the referenced node (or parent) does not exist.
	ErrNodeNotFound = errors.New("registry: node not found")

	// ErrNodeAlreadyExists indicates AddNode was called with an id already present.
	ErrNodeAlreadyExists = errors.New("registry: node already exists")

	// ErrUniqueConstraintViolation indicates a name or key is claimed by another node.
	ErrUniqueConstraintViolation = errors.New("registry: unique constraint violation")

	// ErrNodeAlreadyHasParent indicates SetParent was asked to replace an
	// existing parent. The parent must be cleared first.
	ErrNodeAlreadyHasParent = errors.New("registry: node already has a parent")

	// ErrNodeStillInUse indicates DeleteNode was called on a node that has
	// a parent or children.
	ErrNodeStillInUse = errors.New("registry: node still in use")

	// ErrInvalidNode indicates a node is missing a required field.
	ErrInvalidNode = errors.New("registry: invalid node")

	// ErrHierarchyCycle indicates a parent assignment would create a cycle.
	ErrHierarchyCycle = errors.New("registry: hierarchy cycle")

	// ErrCorruptSnapshot indicates a snapshot loaded from the store violates
	// registry invariants and was not applied.
	ErrCorruptSnapshot = errors.New("registry: corrupt snapshot")
)

// Error kinds categorize registry errors.
const (
	// KindNotFound represents errors where a node was not found.
	KindNotFound = "not_found"

	// KindConflict represents id, name or key collisions.
	KindConflict = "conflict"

	// KindValidation represents malformed input.
	KindValidation = "validation"

	// KindInUse represents hierarchy guard violations.
	KindInUse = "in_use"

	// KindPersistence represents failures of the attached store.
	KindPersistence = "persistence"
)

// Error is returned by every failing registry operation.
//
// Error supports errors.Is() against both the sentinel errors above and
// another *Error with a matching Kind.
type Error struct {
	// Op is the operation that failed (e.g., "AddNode", "SetParent").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindConflict).
	Kind string

	// Err is the underlying error.
	Err error

	// Context names the offending identifiers (node_id, parent_id, name, key).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("registry: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("registry: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("registry: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one), and
// otherwise delegates to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(op, kind string, err error, kv ...any) *Error {
	e := &Error{Op: op, Kind: kind, Err: err}
	if len(kv) > 0 {
		e.Context = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				e.Context[k] = kv[i+1]
			}
		}
	}
	return e
}

func notFound(op, id string) *Error {
	return newError(op, KindNotFound, ErrNodeNotFound, "node_id", id)
}
