// Package hooks implements the read-path Hook Pipeline (spec.md §4.8):
// before-select hooks may adjust the outgoing request (additional filter,
// different sort/limit), after-select hooks run once on the raw fetched
// page and may transform records in place. Hooks are composable, run in
// registration order, and any returned error aborts the single operation
// (spec.md §7 "Hook errors abort the single operation").
package hooks

import (
	"context"
	"fmt"

	"github.com/omniqueryio/polyspec/pkg/logger"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// Type identifies a point in the read path a hook can attach to.
type Type string

const (
	// BeforeSelect fires once the request has been resolved against
	// metadata but before Plan/Fetch run; hooks may mutate Request in place.
	BeforeSelect Type = "before_select"

	// AfterSelect fires once per page, after PostFetchCollections but before
	// Normalise/Deep; hooks may mutate Records in place.
	AfterSelect Type = "after_select"
)

// Context is the data available to a hook at either attachment point. Only
// one of Request (before-select) or Records (after-select) is meaningful
// for a given Type, mirroring which stage of the pipeline invoked it.
type Context struct {
	Ctx   context.Context
	Table *metadata.Table

	// Request is the in-flight request; before-select hooks may modify it
	// (e.g. append a filter, narrow fields) before planning proceeds.
	Request *queryspec.Request

	// Records is the raw fetched page; after-select hooks may modify
	// entries in place (JSON parsing, timestamp coercion, redaction).
	Records []queryspec.Record

	// Abort lets a hook stop the operation; AbortMessage becomes part of
	// the ValidationError surfaced to the caller.
	Abort        bool
	AbortMessage string
}

// Func is the signature every registered hook implements.
type Func func(*Context) error

// Registry owns an ordered, per-type list of hooks. It is created once at
// startup and treated as immutable thereafter (spec.md §9 "Hooks without
// mutable globals"); registration after startup must be serialised by the
// registry's owner, same as reads.
type Registry struct {
	hooks map[Type][]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[Type][]Func)}
}

// Register appends a hook for the given type, run after any already
// registered for that type.
func (r *Registry) Register(t Type, fn Func) {
	if r.hooks == nil {
		r.hooks = make(map[Type][]Func)
	}
	r.hooks[t] = append(r.hooks[t], fn)
	logger.Debug("registered hook for %s (total: %d)", t, len(r.hooks[t]))
}

// RegisterMultiple registers the same hook for several types.
func (r *Registry) RegisterMultiple(types []Type, fn Func) {
	for _, t := range types {
		r.Register(t, fn)
	}
}

// Execute runs every hook registered for t, in registration order,
// stopping at the first error or Abort.
func (r *Registry) Execute(t Type, hc *Context) error {
	fns := r.hooks[t]
	if len(fns) == 0 {
		return nil
	}

	logger.Debug("executing %d hook(s) for %s", len(fns), t)
	for i, fn := range fns {
		if err := fn(hc); err != nil {
			logger.Error("hook %d for %s failed: %v", i+1, t, err)
			return fmt.Errorf("hook execution failed: %w", err)
		}
		if hc.Abort {
			logger.Warn("hook %d for %s requested abort: %s", i+1, t, hc.AbortMessage)
			return fmt.Errorf("operation aborted by hook: %s", hc.AbortMessage)
		}
	}
	return nil
}

// Clear removes every hook registered for t.
func (r *Registry) Clear(t Type) {
	delete(r.hooks, t)
}

// ClearAll removes every registered hook.
func (r *Registry) ClearAll() {
	r.hooks = make(map[Type][]Func)
}

// Count reports how many hooks are registered for t.
func (r *Registry) Count(t Type) int {
	return len(r.hooks[t])
}

// HasHooks reports whether any hook is registered for t.
func (r *Registry) HasHooks(t Type) bool {
	return r.Count(t) > 0
}
