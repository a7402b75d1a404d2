// Package filter implements the Filter Walker (spec.md §4.3): it traverses
// a filter tree and emits parameterised SQL fragments (or, for mongo, match
// sub-documents built by pkg/mongoexec using the same coercion rules). A
// Fragment carries only SQL text and bindings; the walker does not report
// which relation aliases a fragment references.
package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// Fragment is a single emitted SQL boolean expression plus its bound
// parameters in positional order. Bindings are always passed as driver
// arguments, never interpolated into SQL text (spec.md §4.3 rule 5).
type Fragment struct {
	SQL  string
	Args []any
}

// Walker emits SQL fragments from a Filter tree against a metadata.View.
type Walker struct {
	view    *metadata.View
	dialect dialect.Dialect
	aliasSeq int
}

// New builds a Walker bound to a metadata view and target dialect.
func New(view *metadata.View, d dialect.Dialect) *Walker {
	return &Walker{view: view, dialect: d}
}

func (w *Walker) nextAlias(prefix string) string {
	w.aliasSeq++
	return fmt.Sprintf("%s_sub%d", prefix, w.aliasSeq)
}

// Walk compiles filter into a SQL fragment, evaluated against rows of
// table aliased as alias. Returns nil, nil when filter has no constraints.
func (w *Walker) Walk(ctx context.Context, table *metadata.Table, alias string, filter *queryspec.Filter) (*Fragment, error) {
	if filter.IsEmpty() {
		return nil, nil
	}
	return w.walkNode(ctx, table, alias, filter)
}

func (w *Walker) walkNode(ctx context.Context, table *metadata.Table, alias string, f *queryspec.Filter) (*Fragment, error) {
	switch f.Combinator {
	case queryspec.CombAnd:
		return w.combine(ctx, table, alias, f.Children, " AND ")
	case queryspec.CombOr:
		return w.combine(ctx, table, alias, f.Children, " OR ")
	case queryspec.CombNot:
		if f.Child == nil || f.Child.IsEmpty() {
			return nil, nil
		}
		inner, err := w.walkNode(ctx, table, alias, f.Child)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return nil, nil
		}
		return &Fragment{SQL: "NOT (" + inner.SQL + ")", Args: inner.Args}, nil
	}

	parts := make([]*Fragment, 0, len(f.Fields))
	for name, ff := range f.Fields {
		frag, err := w.walkField(ctx, table, alias, name, ff)
		if err != nil {
			return nil, err
		}
		if frag != nil {
			parts = append(parts, frag)
		}
	}
	return joinFragments(parts, " AND "), nil
}

func (w *Walker) combine(ctx context.Context, table *metadata.Table, alias string, children []queryspec.Filter, sep string) (*Fragment, error) {
	parts := make([]*Fragment, 0, len(children))
	for i := range children {
		frag, err := w.walkNode(ctx, table, alias, &children[i])
		if err != nil {
			return nil, err
		}
		if frag != nil {
			parts = append(parts, frag)
		}
	}
	return joinFragments(parts, sep), nil
}

func joinFragments(parts []*Fragment, sep string) *Fragment {
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return parts[0]
	}
	sqls := make([]string, len(parts))
	var args []any
	for i, p := range parts {
		sqls[i] = "(" + p.SQL + ")"
		args = append(args, p.Args...)
	}
	return &Fragment{SQL: strings.Join(sqls, sep), Args: args}
}

func (w *Walker) walkField(ctx context.Context, table *metadata.Table, alias, name string, ff queryspec.FieldFilter) (*Fragment, error) {
	prop := table.Resolve(name)
	if !prop.Found() {
		return nil, apperr.NotFound("unknown field or relation", map[string]any{"table": table.Name, "field": name})
	}

	if prop.Column != nil {
		return w.walkColumn(alias, *prop.Column, ff)
	}
	return w.walkRelationWithParent(ctx, alias, table, *prop.Relation, ff)
}

func (w *Walker) walkColumn(alias string, col metadata.Column, ff queryspec.FieldFilter) (*Fragment, error) {
	qualified := dialect.QuoteQualified(w.dialect, alias, col.Name)

	if ff.HasScalar {
		val, err := coerce(col, ff.Scalar)
		if err != nil {
			return nil, apperr.Validation("operand coercion failed", map[string]any{"field": col.Name, "type": string(col.Type)})
		}
		return w.comparison(qualified, col, queryspec.OpEq, val)
	}

	parts := make([]*Fragment, 0, len(ff.Operators))
	for op, raw := range ff.Operators {
		frag, err := w.columnOperator(qualified, col, op, raw)
		if err != nil {
			return nil, err
		}
		if frag != nil {
			parts = append(parts, frag)
		}
	}
	return joinFragments(parts, " AND "), nil
}

func (w *Walker) columnOperator(qualified string, col metadata.Column, op queryspec.Operator, raw any) (*Fragment, error) {
	switch op {
	case queryspec.OpIsNull:
		return &Fragment{SQL: qualified + " IS NULL"}, nil
	case queryspec.OpIsNotNull:
		return &Fragment{SQL: qualified + " IS NOT NULL"}, nil
	case queryspec.OpIn, queryspec.OpNotIn:
		return w.membershipOnValues(qualified, col, op, raw)
	case queryspec.OpBetween:
		arr, ok := raw.([]any)
		if !ok || len(arr) != 2 {
			return nil, apperr.Validation("_between requires a two-element array", map[string]any{"field": col.Name})
		}
		lo, err := coerce(col, arr[0])
		if err != nil {
			return nil, apperr.Validation("operand coercion failed", map[string]any{"field": col.Name})
		}
		hi, err := coerce(col, arr[1])
		if err != nil {
			return nil, apperr.Validation("operand coercion failed", map[string]any{"field": col.Name})
		}
		expr := w.castIfUUID(col, qualified, false)
		return &Fragment{SQL: expr + " BETWEEN ? AND ?", Args: []any{lo, hi}}, nil
	case queryspec.OpContains, queryspec.OpStartsWith, queryspec.OpEndsWith:
		s, ok := raw.(string)
		if !ok {
			return nil, apperr.Validation("substring operators require a string operand", map[string]any{"field": col.Name})
		}
		mode := strings.TrimPrefix(string(op), "_")
		sql, args, err := dialect.SubstringPredicate(w.dialect, qualified, s, mode)
		if err != nil {
			return nil, apperr.DialectUnsupported(err.Error(), map[string]any{"field": col.Name, "dialect": string(w.dialect)}, err)
		}
		return &Fragment{SQL: sql, Args: args}, nil
	default:
		val, err := coerce(col, raw)
		if err != nil {
			return nil, apperr.Validation("operand coercion failed", map[string]any{"field": col.Name})
		}
		return w.comparison(qualified, col, op, val)
	}
}

func (w *Walker) comparison(qualified string, col metadata.Column, op queryspec.Operator, val any) (*Fragment, error) {
	sqlOp, ok := comparisonOperators[op]
	if !ok {
		return nil, apperr.Validation("operator not valid for a scalar field", map[string]any{"field": col.Name, "operator": string(op)})
	}
	expr := w.castIfUUID(col, qualified, false)
	return &Fragment{SQL: expr + " " + sqlOp + " ?", Args: []any{val}}, nil
}

var comparisonOperators = map[queryspec.Operator]string{
	queryspec.OpEq:  "=",
	queryspec.OpNeq: "<>",
	queryspec.OpGt:  ">",
	queryspec.OpGte: ">=",
	queryspec.OpLt:  "<",
	queryspec.OpLte: "<=",
}

func (w *Walker) castIfUUID(col metadata.Column, expr string, array bool) string {
	return dialect.UUIDCast(w.dialect, expr, col.Type == metadata.TypeUUID, true, array)
}

func (w *Walker) membershipOnValues(qualified string, col metadata.Column, op queryspec.Operator, raw any) (*Fragment, error) {
	values, err := toSlice(raw)
	if err != nil {
		return nil, apperr.Validation("membership operator requires an array", map[string]any{"field": col.Name})
	}
	if len(values) == 0 {
		if op == queryspec.OpIn {
			return &Fragment{SQL: "1=0"}, nil
		}
		return &Fragment{SQL: "1=1"}, nil
	}
	coerced := make([]any, len(values))
	for i, v := range values {
		c, err := coerce(col, v)
		if err != nil {
			return nil, apperr.Validation("operand coercion failed", map[string]any{"field": col.Name})
		}
		coerced[i] = c
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(coerced)), ",")
	sqlOp := "IN"
	if op == queryspec.OpNotIn {
		sqlOp = "NOT IN"
	}
	return &Fragment{SQL: fmt.Sprintf("%s %s (%s)", qualified, sqlOp, placeholders), Args: coerced}, nil
}

// toSlice accepts []any or a comma-separated string (spec.md §3: "_in/_not_in
// membership (array; comma-separated string accepted)").
func toSlice(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		parts := strings.Split(v, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array or comma-separated string, got %T", raw)
	}
}

// coerce converts an operand to the Go type matching col's logical type.
// Coercion failures are fatal for that branch per spec.md §4.3 rule 2.
func coerce(col metadata.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.Type {
	case metadata.TypeInteger, metadata.TypeBigInt:
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			return strconv.ParseInt(n, 10, 64)
		default:
			return nil, fmt.Errorf("cannot coerce %T to integer", v)
		}
	case metadata.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case float64:
			return b != 0, nil
		case string:
			return strconv.ParseBool(b)
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", v)
		}
	case metadata.TypeFloat, metadata.TypeDecimal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			return strconv.ParseFloat(n, 64)
		default:
			return nil, fmt.Errorf("cannot coerce %T to float", v)
		}
	default:
		// text, uuid, date/datetime, enum, json: bind as given; the driver
		// and dialect cast layer (UUIDCast) handle further specialisation.
		return v, nil
	}
}
