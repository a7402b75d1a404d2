// Package sqlexec implements the SQL Executor state machine (spec.md
// §4.5): Parse → Plan → Count? → Fetch → PostFetchCollections → Normalise.
// It binds the planner's output to a live SQL connection through
// github.com/uptrace/bun's raw-SQL execution path, the way ResolveSpec's
// database/sql-based PgSQLAdapter binds hand-built SQL text rather than a
// fluent ORM query builder.
package sqlexec

import (
	"fmt"
	"strings"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/filter"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// builtQuery is the fully assembled SQL text plus positional bindings.
type builtQuery struct {
	SQL  string
	Args []any
}

// BuildSelect assembles the page-fetch SELECT for plan: scalar columns,
// reference/owner/inverse/O2M relation expressions in the projection list,
// the WHERE fragment from the filter walker, ORDER BY, and LIMIT/OFFSET.
// Many-to-many (StrategyDefer) relations are intentionally omitted from the
// projection — they are attached later by the post-fetch step.
func BuildSelect(d dialect.Dialect, plan *planner.Plan, where *filter.Fragment, sortTerms []queryspec.SortTerm, page, limit int) (*builtQuery, error) {
	var b strings.Builder
	var args []any

	projection, err := projectionList(d, plan)
	if err != nil {
		return nil, err
	}
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(projection, ", "))
	b.WriteString(" FROM ")
	b.WriteString(dialect.QuoteIdent(d, plan.Table.Name))
	b.WriteString(" AS ")
	b.WriteString(dialect.QuoteIdent(d, plan.Alias))

	if where != nil && where.SQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where.SQL)
		args = append(args, where.Args...)
	}

	if orderBy := buildOrderBy(d, plan.Alias, sortTerms); orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}

	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
		if page > 1 {
			b.WriteString(" OFFSET ?")
			args = append(args, (page-1)*limit)
		}
	}

	return &builtQuery{SQL: b.String(), Args: args}, nil
}

// projectionList builds one SELECT-list item per scalar column and per
// non-deferred relation.
func projectionList(d dialect.Dialect, plan *planner.Plan) ([]string, error) {
	items := make([]string, 0, len(plan.ScalarColumns)+len(plan.Relations))
	for _, col := range plan.ScalarColumns {
		items = append(items, fmt.Sprintf("%s AS %s", dialect.QuoteQualified(d, plan.Alias, col.Name), dialect.QuoteIdent(d, col.Name)))
	}
	for _, rel := range plan.Relations {
		if rel.Strategy == planner.StrategyDefer {
			continue
		}
		expr, err := relationExpr(d, plan.Alias, plan.Table, rel)
		if err != nil {
			return nil, err
		}
		items = append(items, fmt.Sprintf("%s AS %s", expr, dialect.QuoteIdent(d, rel.Property)))
	}
	return items, nil
}

func relationExpr(d dialect.Dialect, parentAlias string, parentTable *metadata.Table, rel planner.RelationPlan) (string, error) {
	switch rel.Strategy {
	case planner.StrategyReference:
		objFn, err := dialect.JSONObjectFunc(d)
		if err != nil {
			return "", err
		}
		if rel.Relation.IsOwner() {
			fkQualified := dialect.QuoteQualified(d, parentAlias, rel.Relation.ForeignKeyColumn)
			return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s('id', %s) END", fkQualified, objFn, fkQualified), nil
		}
		// Non-owner reference: correlate via the inverse side's FK against
		// this table's primary key instead of a local column.
		parentPK := parentTable.PrimaryKey(string(d))
		if parentPK == nil {
			return "", fmt.Errorf("sqlexec: table %q has no primary key", parentTable.Name)
		}
		targetPK := rel.Child.Table.PrimaryKey(string(d))
		if targetPK == nil {
			return "", fmt.Errorf("sqlexec: relation %q target has no primary key", rel.Property)
		}
		return fmt.Sprintf("(SELECT %s('id', %s) FROM %s AS %s WHERE %s = %s LIMIT 1)",
			objFn, dialect.QuoteQualified(d, rel.Child.Alias, targetPK.Name),
			dialect.QuoteIdent(d, rel.Child.Table.Name), dialect.QuoteIdent(d, rel.Child.Alias),
			dialect.QuoteQualified(d, rel.Child.Alias, rel.ChildForeignKey),
			dialect.QuoteQualified(d, parentAlias, parentPK.Name),
		), nil

	case planner.StrategyOwnerSubquery:
		rowJSON, err := jsonObjectExpr(d, rel.Child)
		if err != nil {
			return "", err
		}
		targetPK := rel.Child.Table.PrimaryKey(string(d))
		if targetPK == nil {
			return "", fmt.Errorf("sqlexec: relation %q target has no primary key", rel.Property)
		}
		return fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s = %s)",
			rowJSON,
			dialect.QuoteIdent(d, rel.Child.Table.Name), dialect.QuoteIdent(d, rel.Child.Alias),
			dialect.QuoteQualified(d, rel.Child.Alias, targetPK.Name),
			dialect.QuoteQualified(d, parentAlias, rel.Relation.ForeignKeyColumn),
		), nil

	case planner.StrategyInverseSubquery:
		rowJSON, err := jsonObjectExpr(d, rel.Child)
		if err != nil {
			return "", err
		}
		inverseFK := rel.ChildForeignKey
		parentPK := parentTable.PrimaryKey(string(d))
		if parentPK == nil {
			return "", fmt.Errorf("sqlexec: table %q has no primary key", parentTable.Name)
		}
		return fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s = %s LIMIT 1)",
			rowJSON,
			dialect.QuoteIdent(d, rel.Child.Table.Name), dialect.QuoteIdent(d, rel.Child.Alias),
			dialect.QuoteQualified(d, rel.Child.Alias, inverseFK),
			dialect.QuoteQualified(d, parentAlias, parentPK.Name),
		), nil

	case planner.StrategyCollectionAgg:
		rowJSON, err := jsonObjectExpr(d, rel.Child)
		if err != nil {
			return "", err
		}
		arrayAggFn, err := dialect.JSONArrayAggFunc(d)
		if err != nil {
			return "", err
		}
		parentPK := parentTable.PrimaryKey(string(d))
		if parentPK == nil {
			return "", fmt.Errorf("sqlexec: table %q has no primary key", parentTable.Name)
		}
		inner := fmt.Sprintf("SELECT %s AS %s FROM %s AS %s WHERE %s = %s",
			rowJSON, rowAlias(d),
			dialect.QuoteIdent(d, rel.Child.Table.Name), dialect.QuoteIdent(d, rel.Child.Alias),
			dialect.QuoteQualified(d, rel.Child.Alias, rel.ChildForeignKey),
			dialect.QuoteQualified(d, parentAlias, parentPK.Name),
		)
		if orderBy := buildOrderBy(d, rel.Child.Alias, rel.SortTerms); orderBy != "" {
			inner += " ORDER BY " + orderBy
		}
		return fmt.Sprintf("COALESCE((SELECT %s(%s) FROM (%s) AS %s), %s)",
			arrayAggFn, rowAlias(d), inner, dialect.QuoteIdent(d, "rows"), dialect.EmptyJSONArrayLiteral(d)), nil

	default:
		return "", fmt.Errorf("sqlexec: relation %q has no inline projection strategy", rel.Property)
	}
}

// rowAlias names the column the aggregate's inner SELECT binds its
// per-row JSON object to; the derived table itself is named "rows" with
// no column-list (SQLite rejects a derived-table alias's parenthesized
// column list — `AS "rows"("row_json")` is a hard parse error there —
// so the inner SELECT names its own column instead).
func rowAlias(d dialect.Dialect) string { return dialect.QuoteIdent(d, "row_json") }

// jsonObjectExpr recursively builds the JSON object expression for one
// plan's row shape: scalar columns plus nested relation expressions.
func jsonObjectExpr(d dialect.Dialect, plan *planner.Plan) (string, error) {
	objFn, err := dialect.JSONObjectFunc(d)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(plan.ScalarColumns)*2+len(plan.Relations)*2)
	for _, col := range plan.ScalarColumns {
		parts = append(parts, quoteStringLiteral(col.Name), dialect.QuoteQualified(d, plan.Alias, col.Name))
	}
	for _, rel := range plan.Relations {
		if rel.Strategy == planner.StrategyDefer {
			continue
		}
		expr, err := relationExpr(d, plan.Alias, plan.Table, rel)
		if err != nil {
			return "", err
		}
		parts = append(parts, quoteStringLiteral(rel.Property), expr)
	}
	return fmt.Sprintf("%s(%s)", objFn, strings.Join(parts, ", ")), nil
}

func quoteStringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// buildOrderBy renders ORDER BY terms for alias, honouring only terms whose
// path is a single column on this table (deeper paths belong to a nested
// relation's own subquery and are filtered out by the caller already).
func buildOrderBy(d dialect.Dialect, alias string, terms []queryspec.SortTerm) string {
	if len(terms) == 0 {
		return ""
	}
	items := make([]string, 0, len(terms))
	for _, t := range terms {
		if len(t.Path) != 1 {
			continue
		}
		dir := "ASC"
		if t.Descending {
			dir = "DESC"
		}
		items = append(items, dialect.QuoteQualified(d, alias, t.Path[0])+" "+dir)
	}
	return strings.Join(items, ", ")
}
