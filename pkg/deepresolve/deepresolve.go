// Package deepresolve implements the Deep-Relation Resolver (spec.md §4.7):
// for each requested `deep` relation, it runs one nested find per parent
// row, fanned out in parallel and bounded by configured parallelism, and
// attaches the resulting page to that row. A relation that cannot be
// resolved against the table's metadata degrades to an attached `[]` plus a
// recorded warning rather than failing the whole request.
package deepresolve

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// Finder runs one nested find request end to end (Parse→Plan→Fetch→
// Normalise). It is injected rather than imported directly: the
// orchestrator that owns that sequence (pkg/engine) is this package's
// caller, so importing it here would form a cycle.
type Finder func(ctx context.Context, req queryspec.Request) (*queryspec.Result, error)

// Resolve runs find once per (parentRow, deep-relation) pair, bounded by
// parallelism (parallelism <= 0 means unbounded), and attaches each nested
// page's records to the corresponding row under its relation name. It
// returns the per-relation meta map for Result.Meta.Deep and any warnings
// recorded for relations that could not be resolved.
func Resolve(ctx context.Context, view *metadata.View, table *metadata.Table, rows []queryspec.Record, deep map[string]*queryspec.Request, parallelism int, find Finder) (map[string]queryspec.DeepMeta, []string, error) {
	return resolve(ctx, view, table, rows, deep, parallelism, find)
}

type deepJob struct {
	relationName string
	rowIndex     int
	req          queryspec.Request
}

func resolve(ctx context.Context, view *metadata.View, table *metadata.Table, rows []queryspec.Record, deep map[string]*queryspec.Request, parallelism int, find Finder) (map[string]queryspec.DeepMeta, []string, error) {
	metaOut := map[string]queryspec.DeepMeta{}
	if len(deep) == 0 {
		return metaOut, nil, nil
	}
	if find == nil {
		return nil, nil, fmt.Errorf("deepresolve: no Finder configured")
	}

	var warnings []string
	var jobs []deepJob

	for name, opts := range deep {
		rel := table.Relation(name)
		if rel == nil {
			warnings = append(warnings, fmt.Sprintf("deep relation %q: no such relation on table %q", name, table.Name))
			for _, row := range rows {
				row[name] = []queryspec.Record{}
			}
			continue
		}
		inverse, err := view.ResolveInverse(ctx, *rel)
		if err != nil || inverse == nil {
			warnings = append(warnings, fmt.Sprintf("deep relation %q: could not resolve inverse side: %v", name, err))
			for _, row := range rows {
				row[name] = []queryspec.Record{}
			}
			continue
		}

		for _, row := range rows {
			row[name] = []queryspec.Record{}
		}

		for rowIdx, row := range rows {
			parentID, ok := row["id"]
			if !ok || parentID == nil {
				continue
			}
			req := buildDeepRequest(rel.TargetTable, inverse.PropertyName, parentID, opts)
			jobs = append(jobs, deepJob{relationName: name, rowIndex: rowIdx, req: req})
		}
	}

	if len(jobs) == 0 {
		return metaOut, warnings, nil
	}

	results := make([]*queryspec.Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	limit := parallelism
	if limit <= 0 {
		limit = -1
	}
	g.SetLimit(limit)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := find(gctx, job.req)
			if err != nil {
				return fmt.Errorf("deep relation %q on row %d: %w", job.relationName, job.rowIndex, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Applying results to rows and accumulating meta happens single-threaded
	// after every nested find has completed — concurrent writes into the
	// same row map, or into the shared meta accumulator, are not safe in Go.
	aggregated := map[string]queryspec.DeepMeta{}
	for i, job := range jobs {
		res := results[i]
		if res == nil {
			continue
		}
		rows[job.rowIndex][job.relationName] = res.Data
		if res.Meta != nil {
			dm := aggregated[job.relationName]
			if res.Meta.TotalCount != nil {
				dm.TotalCount = addInt64(dm.TotalCount, *res.Meta.TotalCount)
			}
			if res.Meta.FilterCount != nil {
				dm.FilterCount = addInt64(dm.FilterCount, *res.Meta.FilterCount)
			}
			aggregated[job.relationName] = dm
		}
	}
	for name, dm := range aggregated {
		metaOut[name] = dm
	}

	return metaOut, warnings, nil
}

func addInt64(acc *int64, v int64) *int64 {
	if acc == nil {
		n := v
		return &n
	}
	n := *acc + v
	return &n
}

// buildDeepRequest assembles the nested find request for one parent row:
// `find({ table: target, filter: { <inverse-relation>: { _in: [parent.id] }
// }, ...options })`, which selects the same rows as an id-equality filter on
// that relation. The correlation is expressed as a
// relation filter (by the inverse relation's property name) rather than a
// raw FK column so it goes through the ordinary Filter Walker/Mongo $match
// translation and therefore works for owner-side FK columns and
// many-to-many junctions alike.
func buildDeepRequest(targetTable, inversePropertyName string, parentID any, opts *queryspec.Request) queryspec.Request {
	req := queryspec.Request{TableName: targetTable, Fields: []string{"*"}}
	if opts != nil {
		req = *opts
		req.TableName = targetTable
	}

	correlate := &queryspec.Filter{Fields: map[string]queryspec.FieldFilter{
		inversePropertyName: {
			Operators: map[queryspec.Operator]any{queryspec.OpIn: []any{parentID}},
		},
	}}

	if req.Filter == nil || req.Filter.IsEmpty() {
		req.Filter = correlate
	} else {
		req.Filter = &queryspec.Filter{Combinator: queryspec.CombAnd, Children: []queryspec.Filter{*correlate, *req.Filter}}
	}
	return req
}
