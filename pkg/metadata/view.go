package metadata

import (
	"context"
	"fmt"
)

// Source is the external metadata-cache collaborator (spec.md §1: "the
// metadata cache (provides getTable(name) and listTables())"). View never
// talks to a database; it only reads through this interface.
type Source interface {
	GetTable(ctx context.Context, name string) (*Table, error)
	ListTables(ctx context.Context) ([]string, error)
}

// View is the read-only façade the rest of the engine depends on. It adds
// no caching of its own — pkg/metacache is the TTL-backed decorator that
// implements Source in front of a real Source — View only adds lookup
// convenience and the "property not found" distinctions the planner and
// filter walker need.
type View struct {
	source  Source
	dialect string
}

// New builds a View over source for the given dialect ("mysql", "postgres",
// "sqlite", "mongo"); the dialect is only used for primary-key naming
// convention fallback (spec.md §4.1).
func New(source Source, dialect string) *View {
	return &View{source: source, dialect: dialect}
}

// Dialect returns the dialect this view was constructed for.
func (v *View) Dialect() string { return v.dialect }

// Table fetches a table's metadata by name.
func (v *View) Table(ctx context.Context, name string) (*Table, error) {
	t, err := v.source.GetTable(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("metadata: lookup table %q: %w", name, err)
	}
	if t == nil {
		return nil, nil
	}
	return t, nil
}

// Tables lists every known table name.
func (v *View) Tables(ctx context.Context) ([]string, error) {
	return v.source.ListTables(ctx)
}

// Resolve looks up a property within a named table in one call.
func (v *View) Resolve(ctx context.Context, table, property string) (Property, error) {
	t, err := v.Table(ctx, table)
	if err != nil {
		return Property{}, err
	}
	if t == nil {
		return Property{}, fmt.Errorf("metadata: table %q not found", table)
	}
	return t.Resolve(property), nil
}

// ResolveInverse locates the owner-side relation on the target table that
// points back at an inverse relation (spec.md: "inverse sides ... must
// locate the inverse relation on the target"). It first tries the declared
// InversePropertyName; if that name does not resolve to a relation on the
// target table it falls back to scanning the target's relations for one
// whose own InversePropertyName names rel's property and whose target is
// rel's source table.
func (v *View) ResolveInverse(ctx context.Context, rel Relation) (*Relation, error) {
	target, err := v.Table(ctx, rel.TargetTable)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("metadata: inverse target table %q not found", rel.TargetTable)
	}
	if rel.InversePropertyName != "" {
		if owner := target.Relation(rel.InversePropertyName); owner != nil {
			return owner, nil
		}
	}
	for i := range target.Relations {
		cand := &target.Relations[i]
		if cand.TargetTable == rel.SourceTable && cand.InversePropertyName == rel.PropertyName {
			return cand, nil
		}
	}
	return nil, fmt.Errorf("metadata: cannot locate inverse of %q on table %q", rel.PropertyName, rel.TargetTable)
}
