package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/omniqueryio/polyspec/pkg/logger"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// ColumnValidator validates requested field/sort paths against a table's
// live metadata rather than struct reflection: a dotted path like
// "posts.title" is valid when "posts" resolves to a relation on the root
// table and "title" resolves to a column (or a further relation) on that
// relation's target table. It is the metadata-driven analogue of a
// reflection-based model field validator, called by the engine right after
// the BeforeSelect hooks to strip unknown/unresolvable paths before
// planning (spec.md §9 "Dynamic
// tagged records"; supplements the read path with the same strip-unknown-
// columns responsibility the distilled spec leaves implicit).
type ColumnValidator struct {
	view *metadata.View
}

// NewColumnValidator builds a validator that resolves relation targets
// through view.
func NewColumnValidator(view *metadata.View) *ColumnValidator {
	return &ColumnValidator{view: view}
}

// IsValidFieldPath reports whether path resolves to a column or relation
// starting at table, recursing into relation targets for dotted paths.
// "*" is always valid.
func (v *ColumnValidator) IsValidFieldPath(ctx context.Context, table *metadata.Table, path string) bool {
	if path == "*" {
		return true
	}
	return v.resolvePath(ctx, table, path) == nil
}

func (v *ColumnValidator) resolvePath(ctx context.Context, table *metadata.Table, path string) error {
	head, rest, hasRest := strings.Cut(path, ".")
	prop := table.Resolve(head)
	if !prop.Found() {
		return fmt.Errorf("unknown field %q on table %q", head, table.Name)
	}
	if !hasRest {
		return nil
	}
	if prop.Relation == nil {
		return fmt.Errorf("field %q on table %q is not a relation, cannot traverse %q", head, table.Name, rest)
	}
	target, err := v.view.Table(ctx, prop.Relation.TargetTable)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("relation %q target table %q not found", head, prop.Relation.TargetTable)
	}
	return v.resolvePath(ctx, target, rest)
}

// FilterFields returns fields with every path that does not resolve against
// table removed, logging a warning per dropped path.
func (v *ColumnValidator) FilterFields(ctx context.Context, table *metadata.Table, fields []string) []string {
	if len(fields) == 0 {
		return fields
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if v.IsValidFieldPath(ctx, table, f) {
			out = append(out, f)
			continue
		}
		logger.Warn("invalid field %q on table %q filtered out", f, table.Name)
	}
	return out
}

// ValidateFields returns an error naming every path in fields that does not
// resolve against table.
func (v *ColumnValidator) ValidateFields(ctx context.Context, table *metadata.Table, fields []string) error {
	var invalid []string
	for _, f := range fields {
		if !v.IsValidFieldPath(ctx, table, f) {
			invalid = append(invalid, f)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid fields: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// FilterSortTerms returns terms with every dotted path that does not
// resolve to a column against table removed, logging a warning per dropped
// term. A path whose last segment resolves to a relation rather than a
// column is also dropped — sorting is only meaningful on scalars.
func (v *ColumnValidator) FilterSortTerms(ctx context.Context, table *metadata.Table, terms []queryspec.SortTerm) []queryspec.SortTerm {
	if len(terms) == 0 {
		return terms
	}
	out := make([]queryspec.SortTerm, 0, len(terms))
	for _, t := range terms {
		if v.isValidSortPath(ctx, table, t.Path) {
			out = append(out, t)
			continue
		}
		logger.Warn("invalid sort path %q on table %q filtered out", strings.Join(t.Path, "."), table.Name)
	}
	return out
}

func (v *ColumnValidator) isValidSortPath(ctx context.Context, table *metadata.Table, path []string) bool {
	if len(path) == 0 {
		return false
	}
	cur := table
	for i, seg := range path {
		prop := cur.Resolve(seg)
		if !prop.Found() {
			return false
		}
		last := i == len(path)-1
		if last {
			return prop.Column != nil
		}
		if prop.Relation == nil {
			return false
		}
		target, err := v.view.Table(ctx, prop.Relation.TargetTable)
		if err != nil || target == nil {
			return false
		}
		cur = target
	}
	return false
}
