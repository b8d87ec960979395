// Package query evaluates CEL selector expressions against node records.
//
// A selector is a boolean CEL expression over the variable `node`, which
// exposes the fields of a record as a map:
//
//	node.type == "vm" && "prod" in node.tags
//	node.parent == "host-01" && node.metadata.state == "running"
//	node.keys.exists(k, k.startsWith("10.0."))
//
// Compiled programs are cached by expression text, so a Compiler shared by
// a long-running process only pays the parse and check cost once per
// distinct selector.
package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	gocache "github.com/patrickmn/go-cache"

	"github.com/zero-day-ai/noderegistry/node"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

var (
	// ErrInvalidExpression is returned when a selector does not compile or
	// does not produce a boolean.
	ErrInvalidExpression = errors.New("query: invalid expression")

	// ErrEvaluation is returned when a compiled selector fails at runtime.
	ErrEvaluation = errors.New("query: evaluation failed")
)

// Filter is a compiled selector.
type Filter struct {
	expr    string
	program cel.Program
}

// Expr returns the source expression.
func (f *Filter) Expr() string {
	return f.expr
}

// Match reports whether n satisfies the selector. Accessing a missing map
// entry (node.metadata.absent) is an evaluation error, not a false match;
// guard such lookups with `has(...)` or `in`.
func (f *Filter) Match(n *node.Node) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{"node": n.Fields()})
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrEvaluation, f.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s: result is %s, not bool", ErrEvaluation, f.expr, out.Type().TypeName())
	}
	return b, nil
}

// Compiler compiles selectors and caches the result.
type Compiler struct {
	env   *cel.Env
	cache *gocache.Cache
}

// NewCompiler creates a Compiler with the default cache expiration.
func NewCompiler() (*Compiler, error) {
	return NewCompilerWithExpiration(DefaultExpiration, DefaultCleanupInterval)
}

// NewCompilerWithExpiration creates a Compiler whose cached programs expire
// after expiration and are purged every cleanupInterval.
func NewCompilerWithExpiration(expiration, cleanupInterval time.Duration) (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("node", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{
		env:   env,
		cache: gocache.New(expiration, cleanupInterval),
	}, nil
}

// Compile returns the filter for expr, compiling it on first use.
func (c *Compiler) Compile(expr string) (*Filter, error) {
	if cached, found := c.cache.Get(expr); found {
		if f, ok := cached.(*Filter); ok {
			return f, nil
		}
	}

	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, iss.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: %q evaluates to %s, want bool", ErrInvalidExpression, expr, out)
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	f := &Filter{expr: expr, program: program}
	c.cache.SetDefault(expr, f)
	return f, nil
}

// Cached returns the number of compiled programs currently cached.
func (c *Compiler) Cached() int {
	return c.cache.ItemCount()
}
