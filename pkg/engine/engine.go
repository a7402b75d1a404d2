package engine

import (
	"context"

	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniqueryio/polyspec/pkg/deepresolve"
	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/filter"
	"github.com/omniqueryio/polyspec/pkg/hooks"
	"github.com/omniqueryio/polyspec/pkg/logger"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/mongoexec"
	"github.com/omniqueryio/polyspec/pkg/normalize"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
	"github.com/omniqueryio/polyspec/pkg/sqlexec"
)

// Engine is the sole entrypoint spec.md §2 describes: it wires the metadata
// view, planner, filter walker, one of the two executors (chosen by
// Dialect), the result normaliser, the deep-relation resolver, and the hook
// pipeline into the Parse→Plan→Fetch→Normalise→Deep control flow. A value
// is bound to exactly one backend connection and one dialect; an
// application wanting to serve several backends constructs one Engine per
// connection.
type Engine struct {
	View    *metadata.View
	Dialect dialect.Dialect

	// Exactly one of SQLDB / MongoDB is set, matching Dialect.IsSQL().
	SQLDB   bun.IDB
	MongoDB *mongo.Database

	Hooks   *hooks.Registry
	Columns *hooks.ColumnValidator

	// Parallelism bounds the deep-relation and collection-relation post-fetch
	// fan-out (spec.md §6 "deep.parallelism"); <= 0 means unbounded.
	Parallelism int
}

// New builds an Engine. Exactly one of sqlDB/mongoDB should be non-nil,
// matching d.IsSQL(); registry may be nil (an empty pipeline is used).
func New(view *metadata.View, d dialect.Dialect, sqlDB bun.IDB, mongoDB *mongo.Database, registry *hooks.Registry, parallelism int) *Engine {
	if registry == nil {
		registry = hooks.NewRegistry()
	}
	return &Engine{
		View:        view,
		Dialect:     d,
		SQLDB:       sqlDB,
		MongoDB:     mongoDB,
		Hooks:       registry,
		Columns:     hooks.NewColumnValidator(view),
		Parallelism: parallelism,
	}
}

// Find runs one request end to end (spec.md §2, §4.5/§4.6 executor state
// machines) and is also handed to deepresolve.Resolve as its Finder
// callback, so deep-relation nested requests recurse through this same
// method, hooks and all. Every exported entrypoint recovers from panics and
// surfaces them as an InternalError (spec.md's "Cyclic metadata graph"
// defense stops unbounded recursion; a malformed plan elsewhere is the
// remaining panic source this guards against).
func (e *Engine) Find(ctx context.Context, req queryspec.Request) (result *queryspec.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Internal("panic in Engine.Find", map[string]any{"table": req.TableName}, logger.HandlePanic("Engine.Find", r))
		}
	}()

	table, terr := e.View.Table(ctx, req.TableName)
	if terr != nil {
		return nil, Transport("failed to load table metadata", map[string]any{"table": req.TableName}, terr)
	}
	if table == nil {
		return nil, NotFound("table not found", map[string]any{"table": req.TableName})
	}

	hc := &hooks.Context{Ctx: ctx, Table: table, Request: &req}
	if err := e.Hooks.Execute(hooks.BeforeSelect, hc); err != nil {
		return nil, Validation("before-select hook rejected request", map[string]any{"table": req.TableName, "error": err.Error()})
	}

	fields := e.Columns.FilterFields(ctx, table, req.Fields)
	sortTerms := e.Columns.FilterSortTerms(ctx, table, req.Sort)

	plan, err := planner.Plan(ctx, e.View, table, fields, sortTerms)
	if err != nil {
		return nil, err
	}

	var records []queryspec.Record
	var totalCount, filterCount *int64

	if e.Dialect.IsSQL() {
		w := filter.New(e.View, e.Dialect)
		where, ferr := w.Walk(ctx, table, plan.Alias, req.Filter)
		if ferr != nil {
			return nil, ferr
		}
		page, ferr := sqlexec.Fetch(ctx, e.SQLDB, e.Dialect, plan, where, sortTerms, req.Page, req.Limit, req.Meta, e.Parallelism)
		if ferr != nil {
			return nil, ferr
		}
		records, totalCount, filterCount = page.Records, page.TotalCount, page.FilterCount
	} else {
		match, merr := mongoexec.BuildMatch(table, req.Filter)
		if merr != nil {
			return nil, merr
		}
		page, merr := mongoexec.Fetch(ctx, e.MongoDB, plan, match, sortTerms, req.Page, req.Limit, req.Meta, e.Parallelism)
		if merr != nil {
			return nil, merr
		}
		records, totalCount, filterCount = page.Records, page.TotalCount, page.FilterCount
	}

	hc.Records = records
	if err := e.Hooks.Execute(hooks.AfterSelect, hc); err != nil {
		return nil, Validation("after-select hook rejected result", map[string]any{"table": req.TableName, "error": err.Error()})
	}

	if err := normalize.Records(e.Dialect, plan, records); err != nil {
		return nil, err
	}

	var deepMeta map[string]queryspec.DeepMeta
	if len(req.Deep) > 0 {
		dm, warnings, derr := deepresolve.Resolve(ctx, e.View, table, records, req.Deep, e.Parallelism, e.Find)
		if derr != nil {
			return nil, derr
		}
		deepMeta = dm
		for _, w := range warnings {
			logger.Warn("deep relation warning for table %q: %s", req.TableName, w)
		}
	}

	result = &queryspec.Result{Data: records}
	if totalCount != nil || filterCount != nil || len(deepMeta) > 0 {
		result.Meta = &queryspec.Meta{TotalCount: totalCount, FilterCount: filterCount, Deep: deepMeta}
	}
	return result, nil
}
