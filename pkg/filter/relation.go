package filter

import (
	"context"
	"fmt"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// walkRelationWithParent implements spec.md §4.3 rule 3: the four
// relation-filter shapes (membership shorthand, FK-rewrite shorthand,
// aggregate, EXISTS). It needs the parent row's (table, alias) to build the
// correlation predicate, so walkField passes those through explicitly.
func (w *Walker) walkRelationWithParent(ctx context.Context, parentAlias string, parentTable *metadata.Table, rel metadata.Relation, ff queryspec.FieldFilter) (*Fragment, error) {
	// Reject `_in` combined with anything else per the Open Question
	// resolution recorded in DESIGN.md / SPEC_FULL.md §E.2.
	if _, hasIn := ff.Operators[queryspec.OpIn]; hasIn && len(ff.Operators) > 1 {
		return nil, apperr.Validation("_in cannot be combined with other operators on a relation filter", map[string]any{"relation": rel.PropertyName})
	}
	if _, hasNotIn := ff.Operators[queryspec.OpNotIn]; hasNotIn && len(ff.Operators) > 1 {
		return nil, apperr.Validation("_not_in cannot be combined with other operators on a relation filter", map[string]any{"relation": rel.PropertyName})
	}

	if ff.HasNestedID {
		return w.relationIDRewrite(parentAlias, rel, ff.NestedID)
	}

	if raw, ok := ff.Operators[queryspec.OpIn]; ok {
		return w.relationMembership(ctx, parentAlias, parentTable, rel, queryspec.OpIn, raw)
	}
	if raw, ok := ff.Operators[queryspec.OpNotIn]; ok {
		return w.relationMembership(ctx, parentAlias, parentTable, rel, queryspec.OpNotIn, raw)
	}

	for op, raw := range ff.Operators {
		if op.IsAggregate() {
			return w.relationAggregate(ctx, parentAlias, parentTable, rel, op, raw)
		}
	}

	if nested, ok := ff.Operators["_nested"]; ok {
		nf, _ := nested.(*queryspec.Filter)
		return w.relationExists(ctx, parentAlias, parentTable, rel, nf)
	}

	return nil, apperr.Validation("unrecognised relation filter shape", map[string]any{"relation": rel.PropertyName})
}

// relationIDRewrite handles `{ id: { ... } }` on an owner-side relation:
// rewrite against the local FK column directly, no subquery (spec.md §4.3
// rule 3 bullet 2).
func (w *Walker) relationIDRewrite(parentAlias string, rel metadata.Relation, ops map[queryspec.Operator]any) (*Fragment, error) {
	if !rel.IsOwner() {
		// Inverse/collection side: there is no local FK column to rewrite
		// against, so this shape is rejected in favour of _in/_not_in.
		return nil, apperr.Validation("id-only filter on a non-owner relation requires _in/_not_in or an aggregate/EXISTS shape", map[string]any{"relation": rel.PropertyName})
	}
	qualified := dialect.QuoteQualified(w.dialect, parentAlias, rel.ForeignKeyColumn)
	parts := make([]*Fragment, 0, len(ops))
	for op, raw := range ops {
		switch op {
		case queryspec.OpIsNull:
			parts = append(parts, &Fragment{SQL: qualified + " IS NULL"})
		case queryspec.OpIsNotNull:
			parts = append(parts, &Fragment{SQL: qualified + " IS NOT NULL"})
		default:
			sqlOp, ok := comparisonOperators[op]
			if !ok {
				return nil, apperr.Validation("operator not valid in an id-rewrite relation filter", map[string]any{"relation": rel.PropertyName, "operator": string(op)})
			}
			parts = append(parts, &Fragment{SQL: qualified + " " + sqlOp + " ?", Args: []any{raw}})
		}
	}
	return joinFragments(parts, " AND "), nil
}

// relationMembership handles `{ _in: [...] }` / `{ _not_in: [...] }`
// against the target primary key (spec.md §4.3 rule 3 bullet 1).
func (w *Walker) relationMembership(ctx context.Context, parentAlias string, parentTable *metadata.Table, rel metadata.Relation, op queryspec.Operator, raw any) (*Fragment, error) {
	values, err := toSlice(raw)
	if err != nil {
		return nil, apperr.Validation("_in/_not_in requires an array", map[string]any{"relation": rel.PropertyName})
	}
	if len(values) == 0 {
		if op == queryspec.OpIn {
			return &Fragment{SQL: "1=0"}, nil
		}
		return &Fragment{SQL: "1=1"}, nil
	}

	placeholders := placeholderList(len(values))
	negate := op == queryspec.OpNotIn

	if rel.Cardinality == metadata.ManyToMany {
		junction, err := rel.JunctionTableName()
		if err != nil {
			return nil, apperr.Internal(err.Error(), nil, err)
		}
		srcCol := junctionColumn(rel.JunctionInfo, true, rel.SourceTable)
		tgtCol := junctionColumn(rel.JunctionInfo, false, rel.TargetTable)
		parentPK := parentTable.PrimaryKey(string(w.dialect))
		if parentPK == nil {
			return nil, apperr.Internal("parent table has no primary key", map[string]any{"table": parentTable.Name}, nil)
		}
		sub := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s AND %s IN (%s)",
			dialect.QuoteIdent(w.dialect, junction),
			dialect.QuoteIdent(w.dialect, srcCol),
			dialect.QuoteQualified(w.dialect, parentAlias, parentPK.Name),
			dialect.QuoteIdent(w.dialect, tgtCol),
			placeholders,
		)
		verb := "EXISTS"
		if negate {
			verb = "NOT EXISTS"
		}
		return &Fragment{SQL: fmt.Sprintf("%s (%s)", verb, sub), Args: values}, nil
	}

	if rel.IsOwner() {
		qualified := dialect.QuoteQualified(w.dialect, parentAlias, rel.ForeignKeyColumn)
		sqlOp := "IN"
		if negate {
			sqlOp = "NOT IN"
		}
		return &Fragment{SQL: fmt.Sprintf("%s %s (%s)", qualified, sqlOp, placeholders), Args: values}, nil
	}

	// Inverse side: membership against the target's FK pointing back here.
	inverse, err := w.view.ResolveInverse(ctx, rel)
	if err != nil {
		return nil, apperr.NotFound(err.Error(), map[string]any{"relation": rel.PropertyName})
	}
	parentPK := parentTable.PrimaryKey(string(w.dialect))
	if parentPK == nil {
		return nil, apperr.Internal("parent table has no primary key", map[string]any{"table": parentTable.Name}, nil)
	}
	target, terr := w.view.Table(ctx, rel.TargetTable)
	if terr != nil || target == nil {
		return nil, apperr.NotFound("relation target not found", map[string]any{"relation": rel.PropertyName})
	}
	targetPK := target.PrimaryKey(string(w.dialect))
	if targetPK == nil {
		return nil, apperr.Internal("target table has no primary key", map[string]any{"table": target.Name}, nil)
	}
	sub := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		dialect.QuoteIdent(w.dialect, inverse.ForeignKeyColumn),
		dialect.QuoteIdent(w.dialect, rel.TargetTable),
		dialect.QuoteIdent(w.dialect, targetPK.Name),
		placeholders,
	)
	verb := "IN"
	if negate {
		verb = "NOT IN"
	}
	qualified := dialect.QuoteQualified(w.dialect, parentAlias, parentPK.Name)
	return &Fragment{SQL: fmt.Sprintf("%s %s (%s)", qualified, verb, sub), Args: values}, nil
}

// relationAggregate emits a correlated scalar subquery for _count/_sum/
// _avg/_min/_max (spec.md §4.3 rule 3 bullet 3).
func (w *Walker) relationAggregate(ctx context.Context, parentAlias string, parentTable *metadata.Table, rel metadata.Relation, op queryspec.Operator, raw any) (*Fragment, error) {
	target, err := w.view.Table(ctx, rel.TargetTable)
	if err != nil || target == nil {
		return nil, apperr.NotFound("aggregate relation target not found", map[string]any{"relation": rel.PropertyName})
	}
	fkCol, parentKeyCol, err := w.correlationColumns(ctx, parentTable, rel)
	if err != nil {
		return nil, err
	}

	opMap, ok := raw.(map[string]any)
	if !ok {
		return nil, apperr.Validation("aggregate relation filter must map comparison operators to values", map[string]any{"relation": rel.PropertyName})
	}

	fn := aggregateFuncs[op]
	innerExpr := "*"
	if op != queryspec.OpCount {
		field, _ := opMap["field"].(string)
		if field == "" {
			return nil, apperr.Validation("aggregate operator requires a \"field\" to aggregate", map[string]any{"relation": rel.PropertyName, "operator": string(op)})
		}
		col := target.Column(field)
		if col == nil {
			return nil, apperr.NotFound("unknown aggregate field", map[string]any{"relation": rel.PropertyName, "field": field})
		}
		innerExpr = dialect.QuoteIdent(w.dialect, col.Name)
	}

	sub := fmt.Sprintf("(SELECT %s(%s) FROM %s WHERE %s = %s)",
		fn, innerExpr,
		dialect.QuoteIdent(w.dialect, rel.TargetTable),
		dialect.QuoteIdent(w.dialect, fkCol),
		dialect.QuoteQualified(w.dialect, parentAlias, parentKeyCol),
	)

	parts := make([]*Fragment, 0, len(opMap))
	for k, v := range opMap {
		if k == "field" {
			continue
		}
		sqlOp, ok := comparisonOperators[queryspec.Operator(k)]
		if !ok {
			return nil, apperr.Validation("invalid comparison operator in aggregate filter", map[string]any{"relation": rel.PropertyName, "operator": k})
		}
		parts = append(parts, &Fragment{SQL: sub + " " + sqlOp + " ?", Args: []any{v}})
	}
	return joinFragments(parts, " AND "), nil
}

var aggregateFuncs = map[queryspec.Operator]string{
	queryspec.OpCount: "COUNT",
	queryspec.OpSum:   "SUM",
	queryspec.OpAvg:   "AVG",
	queryspec.OpMin:   "MIN",
	queryspec.OpMax:   "MAX",
}

// relationExists emits an EXISTS(...) subquery with the nested filter
// applied recursively (spec.md §4.3 rule 3 bullet 4).
func (w *Walker) relationExists(ctx context.Context, parentAlias string, parentTable *metadata.Table, rel metadata.Relation, nested *queryspec.Filter) (*Fragment, error) {
	target, err := w.view.Table(ctx, rel.TargetTable)
	if err != nil || target == nil {
		return nil, apperr.NotFound("relation target not found", map[string]any{"relation": rel.PropertyName})
	}

	if rel.Cardinality == metadata.ManyToMany {
		junction, err := rel.JunctionTableName()
		if err != nil {
			return nil, apperr.Internal(err.Error(), nil, err)
		}
		srcCol := junctionColumn(rel.JunctionInfo, true, rel.SourceTable)
		tgtCol := junctionColumn(rel.JunctionInfo, false, rel.TargetTable)
		parentPK := parentTable.PrimaryKey(string(w.dialect))
		if parentPK == nil {
			return nil, apperr.Internal("parent table has no primary key", map[string]any{"table": parentTable.Name}, nil)
		}
		jAlias := w.nextAlias("j_" + rel.PropertyName)
		tAlias := w.nextAlias(rel.PropertyName)
		targetPK := target.PrimaryKey(string(w.dialect))
		innerWalker := &Walker{view: w.view, dialect: w.dialect, aliasSeq: w.aliasSeq}
		var innerSQL string
		var innerArgs []any
		if nested != nil && !nested.IsEmpty() {
			frag, err := innerWalker.walkNode(ctx, target, tAlias, nested)
			if err != nil {
				return nil, err
			}
			if frag != nil {
				innerSQL = " AND " + frag.SQL
				innerArgs = frag.Args
			}
		}
		w.aliasSeq = innerWalker.aliasSeq
		sub := fmt.Sprintf("SELECT 1 FROM %s %s JOIN %s %s ON %s = %s WHERE %s = %s%s",
			dialect.QuoteIdent(w.dialect, junction), jAlias,
			dialect.QuoteIdent(w.dialect, rel.TargetTable), tAlias,
			dialect.QuoteQualified(w.dialect, jAlias, tgtCol),
			dialect.QuoteQualified(w.dialect, tAlias, targetPK.Name),
			dialect.QuoteQualified(w.dialect, jAlias, srcCol),
			dialect.QuoteQualified(w.dialect, parentAlias, parentPK.Name),
			innerSQL,
		)
		return &Fragment{SQL: fmt.Sprintf("EXISTS (%s)", sub), Args: innerArgs}, nil
	}

	fkCol, parentKeyCol, err := w.correlationColumns(ctx, parentTable, rel)
	if err != nil {
		return nil, err
	}
	tAlias := w.nextAlias(rel.PropertyName)
	innerWalker := &Walker{view: w.view, dialect: w.dialect, aliasSeq: w.aliasSeq}
	var innerSQL string
	var innerArgs []any
	if nested != nil && !nested.IsEmpty() {
		frag, err := innerWalker.walkNode(ctx, target, tAlias, nested)
		if err != nil {
			return nil, err
		}
		if frag != nil {
			innerSQL = " AND " + frag.SQL
			innerArgs = frag.Args
		}
	}
	w.aliasSeq = innerWalker.aliasSeq

	sub := fmt.Sprintf("SELECT 1 FROM %s %s WHERE %s = %s%s",
		dialect.QuoteIdent(w.dialect, rel.TargetTable), tAlias,
		dialect.QuoteQualified(w.dialect, tAlias, fkCol),
		dialect.QuoteQualified(w.dialect, parentAlias, parentKeyCol),
		innerSQL,
	)
	return &Fragment{SQL: fmt.Sprintf("EXISTS (%s)", sub), Args: innerArgs}, nil
}

// correlationColumns returns (childFKColumn, parentKeyColumn) for a
// non-M2M relation: for an owner relation the FK lives on the parent row
// itself and correlates to the target PK (rare in filter position — owner
// relations normally take the id-rewrite path); for inverse relations the
// FK lives on the target row and correlates to the parent's PK.
func (w *Walker) correlationColumns(ctx context.Context, parentTable *metadata.Table, rel metadata.Relation) (fkCol, parentKeyCol string, err error) {
	if rel.IsOwner() {
		targetPK := "id"
		if t, terr := w.view.Table(ctx, rel.TargetTable); terr == nil && t != nil {
			if pk := t.PrimaryKey(string(w.dialect)); pk != nil {
				targetPK = pk.Name
			}
		}
		return targetPK, rel.ForeignKeyColumn, nil
	}
	inverse, ierr := w.view.ResolveInverse(ctx, rel)
	if ierr != nil {
		return "", "", apperr.NotFound(ierr.Error(), map[string]any{"relation": rel.PropertyName})
	}
	parentPK := parentTable.PrimaryKey(string(w.dialect))
	if parentPK == nil {
		return "", "", apperr.Internal("parent table has no primary key", map[string]any{"table": parentTable.Name}, nil)
	}
	return inverse.ForeignKeyColumn, parentPK.Name, nil
}

func junctionColumn(j *metadata.Junction, source bool, fallbackTable string) string {
	if j != nil {
		if source && j.SourceColumn != "" {
			return j.SourceColumn
		}
		if !source && j.TargetColumn != "" {
			return j.TargetColumn
		}
	}
	return fallbackTable + "_id"
}


func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
