package sqlexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

func placeholderList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

// decodeJSONObject parses a per-row JSON object built by the database
// (JSON_OBJECT/jsonb_build_object/json_object) into a plain record. The
// result normaliser (pkg/normalize) is responsible for deeper shaping —
// this only bridges the wire format back into Go values.
func decodeJSONObject(s string) (queryspec.Record, error) {
	var rec queryspec.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, apperr.Internal("failed to decode row JSON from post-fetch query", map[string]any{"error": err.Error()}, err)
	}
	return rec, nil
}

// PostFetchCollections runs the batched follow-up query for every
// StrategyDefer relation in plan and attaches the resulting arrays to rows
// in place, keyed by the parent's primary key (spec.md §4.5
// PostFetchCollections; concrete scenario 3). rows must already carry the
// parent table's primary key column under its own name. The relations fan
// out concurrently, bounded by parallelism (spec.md §5 "the per-relation
// post-fetch step fan[s] out concurrently ... bounded by the database
// connection pool"); parallelism <= 0 means unbounded.
func PostFetchCollections(ctx context.Context, db bun.IDB, d dialect.Dialect, plan *planner.Plan, rows []queryspec.Record, parallelism int) error {
	parentPK := plan.Table.PrimaryKey(string(d))
	if parentPK == nil {
		return apperr.Internal("table has no primary key for post-fetch correlation", map[string]any{"table": plan.Table.Name}, nil)
	}

	var deferred []planner.RelationPlan
	for _, rel := range plan.Relations {
		if rel.Strategy == planner.StrategyDefer {
			deferred = append(deferred, rel)
		}
	}
	byParentPerRelation := make([]map[string][]queryspec.Record, len(deferred))

	g, gctx := errgroup.WithContext(ctx)
	limit := parallelism
	if limit <= 0 {
		limit = -1
	}
	g.SetLimit(limit)

	for i, rel := range deferred {
		i, rel := i, rel
		g.Go(func() error {
			byParent, err := fetchDeferredCollection(gctx, db, d, parentPK.Name, rel, rows)
			if err != nil {
				return err
			}
			byParentPerRelation[i] = byParent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Applying results to rows happens single-threaded after every query has
	// finished: concurrent writes into the same row map (even under disjoint
	// keys, one per relation) are not safe in Go.
	for i, rel := range deferred {
		// Every row defaults to an empty collection; rows with matches are
		// overwritten below (spec.md §3 "missing collection relations are []").
		for _, row := range rows {
			row[rel.Property] = []queryspec.Record{}
			k := fmt.Sprintf("%v", row[parentPK.Name])
			if recs, ok := byParentPerRelation[i][k]; ok {
				row[rel.Property] = recs
			}
		}
	}
	return nil
}

// fetchDeferredCollection runs the batched follow-up query for one
// StrategyDefer relation and returns its rows grouped by parent id, without
// mutating rows itself (the caller applies the result after every deferred
// relation's query has completed, so concurrent relation fetches never
// race on the shared row maps).
func fetchDeferredCollection(ctx context.Context, db bun.IDB, d dialect.Dialect, parentPKName string, rel planner.RelationPlan, rows []queryspec.Record) (map[string][]queryspec.Record, error) {
	ids := collectIDs(rows, parentPKName)
	if len(ids) == 0 {
		return nil, nil
	}

	junctionTable, err := rel.Relation.JunctionTableName()
	if err != nil {
		return nil, err
	}
	srcCol := rel.Relation.JunctionSourceColumn()
	tgtCol := rel.Relation.JunctionTargetColumn()

	targetPK := rel.Child.Table.PrimaryKey(string(d))
	if targetPK == nil {
		return nil, apperr.Internal("relation target has no primary key for post-fetch", map[string]any{"relation": rel.Property, "table": rel.Child.Table.Name}, nil)
	}

	rowJSON, err := jsonObjectExpr(d, rel.Child)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(
		"SELECT %s AS %s, %s AS %s FROM %s AS %s JOIN %s AS %s ON %s = %s WHERE %s IN (%s)",
		dialect.QuoteQualified(d, "j", srcCol), dialect.QuoteIdent(d, "_parent_id"),
		rowJSON, dialect.QuoteIdent(d, "_row_json"),
		dialect.QuoteIdent(d, junctionTable), dialect.QuoteIdent(d, "j"),
		dialect.QuoteIdent(d, rel.Child.Table.Name), dialect.QuoteIdent(d, rel.Child.Alias),
		dialect.QuoteQualified(d, "j", tgtCol), dialect.QuoteQualified(d, rel.Child.Alias, targetPK.Name),
		dialect.QuoteQualified(d, "j", srcCol), placeholderList(len(ids)),
	)

	var bridge []struct {
		ParentID any    `bun:"_parent_id"`
		RowJSON  string `bun:"_row_json"`
	}
	args := make([]any, len(ids))
	copy(args, ids)
	if err := db.NewRaw(sql, args...).Scan(ctx, &bridge); err != nil {
		return nil, apperr.Query("post-fetch collection query failed", map[string]any{"relation": rel.Property}, err)
	}

	byParent := map[string][]queryspec.Record{}
	for _, b := range bridge {
		rec, err := decodeJSONObject(b.RowJSON)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%v", b.ParentID)
		byParent[key] = append(byParent[key], rec)
	}
	return byParent, nil
}

func collectIDs(rows []queryspec.Record, pkName string) []any {
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[pkName]; ok && v != nil {
			ids = append(ids, v)
		}
	}
	return ids
}
