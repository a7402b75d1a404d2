package sqlexec

import (
	"context"
	"encoding/json"

	"github.com/uptrace/bun"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/filter"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// Page is one fetched page of records plus the optional counts spec.md §3's
// Result.meta carries.
type Page struct {
	Records      []queryspec.Record
	TotalCount   *int64
	FilterCount  *int64
}

// Fetch runs the Fetch→PostFetchCollections→Count? steps (spec.md §4.5) for
// one table whose plan and WHERE fragment the caller has already built: it
// builds and executes the page SELECT,
// decodes the inline JSON relation projections, attaches deferred
// many-to-many collections, and optionally runs the two COUNT(*) variants
// request.Meta asks for.
func Fetch(ctx context.Context, db bun.IDB, d dialect.Dialect, plan *planner.Plan, where *filter.Fragment, sortTerms []queryspec.SortTerm, page, limit int, meta queryspec.MetaRequest, parallelism int) (*Page, error) {
	q, err := BuildSelect(d, plan, where, sortTerms, page, limit)
	if err != nil {
		return nil, err
	}

	var rawRows []map[string]any
	if err := db.NewRaw(q.SQL, q.Args...).Scan(ctx, &rawRows); err != nil {
		return nil, apperr.Query("select failed", map[string]any{"table": plan.Table.Name}, err)
	}

	records := make([]queryspec.Record, 0, len(rawRows))
	for _, raw := range rawRows {
		rec, err := decodeRow(plan, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := PostFetchCollections(ctx, db, d, plan, records, parallelism); err != nil {
		return nil, err
	}

	result := &Page{Records: records}

	if meta.FilterCount {
		n, err := runCount(ctx, db, d, plan, where)
		if err != nil {
			return nil, err
		}
		result.FilterCount = &n
	}
	if meta.TotalCount {
		n, err := runCount(ctx, db, d, plan, nil)
		if err != nil {
			return nil, err
		}
		result.TotalCount = &n
	}

	return result, nil
}

func runCount(ctx context.Context, db bun.IDB, d dialect.Dialect, plan *planner.Plan, where *filter.Fragment) (int64, error) {
	q := BuildCount(d, plan, where)
	var n int64
	if err := db.NewRaw(q.SQL, q.Args...).Scan(ctx, &n); err != nil {
		return 0, apperr.Query("count failed", map[string]any{"table": plan.Table.Name}, err)
	}
	return n, nil
}

// decodeRow turns one raw scanned row into a Record, JSON-decoding the
// inline relation projections (reference/owner-subquery/inverse-subquery/
// collection-agg all come back from the driver as either nil or a JSON
// string/[]byte). Scalar coercion (bool, date, decimal) is the result
// normaliser's job, not this bridging step.
func decodeRow(plan *planner.Plan, raw map[string]any) (queryspec.Record, error) {
	rec := queryspec.Record{}
	relNames := map[string]bool{}
	for _, rel := range plan.Relations {
		relNames[rel.Property] = true
	}
	for k, v := range raw {
		if !relNames[k] {
			rec[k] = v
			continue
		}
		decoded, err := decodeRelationValue(v)
		if err != nil {
			return nil, apperr.Internal("failed to decode relation projection", map[string]any{"field": k}, err)
		}
		rec[k] = decoded
	}
	// Collection relations always materialise at least an empty slice, even
	// when the driver returned a literal SQL NULL for a COALESCE the scanner
	// didn't recognise.
	for _, rel := range plan.Relations {
		if rel.Strategy == planner.StrategyCollectionAgg {
			if rec[rel.Property] == nil {
				rec[rel.Property] = []queryspec.Record{}
			}
		}
	}
	return rec, nil
}

func decodeRelationValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return decodeJSONValue([]byte(t))
	case []byte:
		return decodeJSONValue(t)
	default:
		return v, nil
	}
}

// decodeJSONValue parses a JSON object or array emitted by the database
// into the corresponding Go value (map[string]any or []any).
func decodeJSONValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
