// Package planner implements the Field & Join Planner (spec.md §4.4): it
// expands requested field paths — including `*` wildcards and nested
// dotted paths — into a tree of relation plans, deciding per relation
// whether to inline it as a reference, subquery-aggregate it, or defer it.
package planner

import (
	"context"
	"sort"
	"strings"

	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// Strategy is how a relation is materialised in the emitted query (spec.md
// §4.4 rule 3).
type Strategy string

const (
	StrategyReference       Strategy = "reference"        // {id: fk} CASE WHEN, no join
	StrategyOwnerSubquery    Strategy = "owner-subquery"    // owner M2O/O2O scalar subquery
	StrategyInverseSubquery Strategy = "inverse-subquery"  // inverse O2O scalar subquery
	StrategyCollectionAgg   Strategy = "collection-agg"    // O2M aggregate subquery
	StrategyDefer           Strategy = "defer"             // post-fetch round trip (SQL executor decision)
)

// RelationPlan is one child relation's treatment within a Plan.
type RelationPlan struct {
	Property      string
	Relation      metadata.Relation
	Strategy      Strategy
	ReferenceOnly bool // nested fields are exactly ["id"] on a singular relation
	Alias         string
	Child         *Plan // nil for an owner-side reference
	SortTerms     []queryspec.SortTerm

	// ChildForeignKey is the column on the child/target table that
	// correlates back to the parent's primary key. Only meaningful for
	// inverse-side strategies (StrategyInverseSubquery, StrategyCollectionAgg):
	// owner-side strategies correlate via Relation.ForeignKeyColumn instead.
	ChildForeignKey string
}

// Plan is the output of planning one table's field expansion: the scalar
// columns to project, plus one RelationPlan per referenced relation, plus
// deterministic alias bookkeeping (spec.md §4.4 rule 5, 6).
type Plan struct {
	Table         *metadata.Table
	Alias         string
	ScalarColumns []metadata.Column
	Relations     []RelationPlan
}

type aliasAllocator struct {
	root string
	seq  map[string]int
}

func newAliasAllocator(root string) *aliasAllocator {
	return &aliasAllocator{root: root, seq: map[string]int{}}
}

// alias builds the deterministic `<root>_<prop1>_<prop2>_…` alias format
// spec.md §3 mandates for Join Plan entries.
func (a *aliasAllocator) alias(path []string) string {
	return a.root + "_" + strings.Join(path, "_")
}

func (a *aliasAllocator) junctionAlias(path []string, depth int) string {
	return "j_" + strings.Join(path, "_") + "_" + itoa(depth)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// fieldGroup is the result of grouping requested dotted field paths by
// their first segment (spec.md §4.4 rule 1).
type fieldGroup struct {
	rootFields []string            // plain root-level field/relation names with no further path
	children   map[string][]string // relation property -> remaining dotted suffixes
	wildcard   bool
}

func groupFields(fields []string) fieldGroup {
	g := fieldGroup{children: map[string][]string{}}
	for _, f := range fields {
		if f == "*" {
			g.wildcard = true
			continue
		}
		parts := strings.SplitN(f, ".", 2)
		if len(parts) == 1 {
			g.rootFields = append(g.rootFields, parts[0])
			continue
		}
		g.children[parts[0]] = append(g.children[parts[0]], parts[1])
	}
	return g
}

// Plan builds the field/join plan for table given requested field paths and
// sort terms (used to decide whether a collection relation's internal
// ORDER BY applies, spec.md §4.4 rule 3 O2M bullet).
func Plan(ctx context.Context, view *metadata.View, table *metadata.Table, fields []string, sortTerms []queryspec.SortTerm) (*Plan, error) {
	alloc := newAliasAllocator(table.Name)
	return planTable(ctx, view, table, fields, sortTerms, alloc, nil)
}

func planTable(ctx context.Context, view *metadata.View, table *metadata.Table, fields []string, sortTerms []queryspec.SortTerm, alloc *aliasAllocator, path []string) (*Plan, error) {
	g := groupFields(fields)

	plan := &Plan{Table: table}
	if len(path) == 0 {
		plan.Alias = table.Name
	} else {
		plan.Alias = alloc.alias(path)
	}

	requestedRelations := map[string]bool{}
	for rel := range g.children {
		requestedRelations[rel] = true
	}
	for _, name := range g.rootFields {
		if table.Relation(name) != nil {
			requestedRelations[name] = true
		}
	}

	if g.wildcard {
		plan.ScalarColumns = table.ScalarColumns()
		// Unrequested owner relations auto-add at reference-only level;
		// inverse collections are not auto-expanded (spec.md §4.4 rule 2).
		for _, rel := range table.OwnerRelations() {
			if requestedRelations[rel.PropertyName] {
				continue
			}
			requestedRelations[rel.PropertyName] = true
			g.children[rel.PropertyName] = []string{"id"}
		}
	} else {
		for _, name := range g.rootFields {
			if col := table.Column(name); col != nil {
				plan.ScalarColumns = append(plan.ScalarColumns, *col)
			}
		}
	}

	// Deterministic relation ordering: sort by property name so the plan
	// is idempotent regardless of map iteration order (spec.md §4.4 rule 6).
	relNames := make([]string, 0, len(requestedRelations))
	for name := range requestedRelations {
		relNames = append(relNames, name)
	}
	sort.Strings(relNames)

	for _, name := range relNames {
		rel := table.Relation(name)
		if rel == nil {
			return nil, apperr.NotFound("unknown relation in field list", map[string]any{"table": table.Name, "relation": name})
		}
		nestedFields := g.children[name]
		if len(nestedFields) == 0 {
			nestedFields = []string{"id"}
		}

		childPath := make([]string, len(path), len(path)+1)
		copy(childPath, path)
		childPath = append(childPath, name)

		rp, err := planRelation(ctx, view, table, *rel, nestedFields, sortTerms, alloc, childPath)
		if err != nil {
			return nil, err
		}
		plan.Relations = append(plan.Relations, *rp)
	}

	return plan, nil
}

func planRelation(ctx context.Context, view *metadata.View, parent *metadata.Table, rel metadata.Relation, nestedFields []string, sortTerms []queryspec.SortTerm, alloc *aliasAllocator, path []string) (*RelationPlan, error) {
	rp := &RelationPlan{Property: rel.PropertyName, Relation: rel, Alias: alloc.alias(path)}

	referenceOnly := len(nestedFields) == 1 && nestedFields[0] == "id"

	if referenceOnly && (rel.IsOwner()) {
		rp.Strategy = StrategyReference
		rp.ReferenceOnly = true
		return rp, nil
	}

	target, err := view.Table(ctx, rel.TargetTable)
	if err != nil || target == nil {
		return nil, apperr.NotFound("relation target table not found", map[string]any{"relation": rel.PropertyName, "table": rel.TargetTable})
	}

	childSort := childSortTerms(sortTerms, rel.PropertyName)

	child, err := planTable(ctx, view, target, nestedFields, childSort, alloc, path)
	if err != nil {
		return nil, err
	}
	rp.Child = child

	switch {
	case referenceOnly && !rel.IsCollection():
		// Reached only for an inverse one-to-one relation (the owner+referenceOnly
		// combination already returned above, and reference-only collections
		// take the O2M/M2M branches below so they stay arrays): this table has
		// no local FK, so the reference still needs the inverse side's FK
		// column to correlate against the target's primary key.
		rp.Strategy = StrategyReference
		rp.ReferenceOnly = true
		if fk, err := inverseForeignKey(ctx, view, rel); err == nil {
			rp.ChildForeignKey = fk
		} else {
			return nil, err
		}
	case rel.IsOwner():
		rp.Strategy = StrategyOwnerSubquery
	case rel.Cardinality == metadata.OneToOne:
		rp.Strategy = StrategyInverseSubquery
		if fk, err := inverseForeignKey(ctx, view, rel); err == nil {
			rp.ChildForeignKey = fk
		} else {
			return nil, err
		}
	case rel.Cardinality == metadata.OneToMany:
		// Inline correlated JSON-array-aggregate subquery (spec.md §4.4
		// rule 3 O2M bullet; concrete scenario 2).
		rp.Strategy = StrategyCollectionAgg
		rp.SortTerms = childSort
		if fk, err := inverseForeignKey(ctx, view, rel); err == nil {
			rp.ChildForeignKey = fk
		} else {
			return nil, err
		}
	case rel.Cardinality == metadata.ManyToMany:
		// Batched post-fetch follow-up query over junction ⋈ target
		// (spec.md §4.5 PostFetchCollections; concrete scenario 3).
		rp.Strategy = StrategyDefer
	default:
		rp.Strategy = StrategyDefer
	}
	return rp, nil
}

// inverseForeignKey resolves the column on rel's target table that holds the
// foreign key pointing back at rel's source table, for inverse-side
// relations (O2O-inverse, O2M). It prefers the declared inverse relation and
// falls back to scanning the target table for an owner relation pointing
// back at the source table (metadata.View.ResolveInverse's own fallback).
func inverseForeignKey(ctx context.Context, view *metadata.View, rel metadata.Relation) (string, error) {
	inverse, err := view.ResolveInverse(ctx, rel)
	if err != nil {
		return "", err
	}
	if inverse == nil {
		return "", apperr.Internal("relation has no resolvable inverse side", map[string]any{"relation": rel.PropertyName, "table": rel.SourceTable}, nil)
	}
	return inverse.ForeignKeyColumn, nil
}

// childSortTerms extracts the sort terms whose path is prefixed by
// relation, stripping the prefix, for use inside that relation's own
// subquery ORDER BY (spec.md §4.4 rule 3, O2M bullet).
func childSortTerms(terms []queryspec.SortTerm, relation string) []queryspec.SortTerm {
	var out []queryspec.SortTerm
	for _, t := range terms {
		if len(t.Path) > 1 && t.Path[0] == relation {
			out = append(out, queryspec.SortTerm{Path: t.Path[1:], Descending: t.Descending})
		}
	}
	return out
}
