package sqlexec

import (
	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/filter"
	"github.com/omniqueryio/polyspec/pkg/planner"
)

// BuildCount assembles a bare COUNT(*) query against plan's table and the
// same WHERE fragment the page fetch uses, for the meta.totalCount /
// meta.filterCount fields (spec.md §3 Result.meta, §4.5 Count? step).
func BuildCount(d dialect.Dialect, plan *planner.Plan, where *filter.Fragment) *builtQuery {
	sql := "SELECT COUNT(*) FROM " + dialect.QuoteIdent(d, plan.Table.Name) + " AS " + dialect.QuoteIdent(d, plan.Alias)
	var args []any
	if where != nil && where.SQL != "" {
		sql += " WHERE " + where.SQL
		args = where.Args
	}
	return &builtQuery{SQL: sql, Args: args}
}
