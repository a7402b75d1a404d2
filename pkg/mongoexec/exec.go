package mongoexec

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// Page is one fetched page of records plus the optional counts spec.md §3's
// Result.meta carries, mirroring pkg/sqlexec.Page for the Mongo backend.
type Page struct {
	Records     []queryspec.Record
	TotalCount  *int64
	FilterCount *int64
}

// Fetch runs the Match→Pipeline→Aggregate→PostFetchCollections sequence
// (spec.md §4.6) for one collection: it builds and runs the aggregation
// pipeline, attaches deferred many-to-many collections, and optionally runs
// the two count variants request.Meta asks for.
func Fetch(ctx context.Context, db *mongo.Database, plan *planner.Plan, match bson.M, sortTerms []queryspec.SortTerm, page, limit int, meta queryspec.MetaRequest, parallelism int) (*Page, error) {
	pipeline, err := BuildPipeline(plan, match, sortTerms, page, limit)
	if err != nil {
		return nil, err
	}

	cur, err := db.Collection(plan.Table.Name).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Query("aggregate failed", map[string]any{"table": plan.Table.Name}, err)
	}
	var records []queryspec.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, apperr.Query("aggregate decode failed", map[string]any{"table": plan.Table.Name}, err)
	}

	if err := PostFetchCollections(ctx, db, plan, records, parallelism); err != nil {
		return nil, err
	}

	result := &Page{Records: records}

	if meta.FilterCount {
		n, err := runCount(ctx, db, plan, match)
		if err != nil {
			return nil, err
		}
		result.FilterCount = &n
	}
	if meta.TotalCount {
		n, err := runCount(ctx, db, plan, bson.M{})
		if err != nil {
			return nil, err
		}
		result.TotalCount = &n
	}

	return result, nil
}

func runCount(ctx context.Context, db *mongo.Database, plan *planner.Plan, match bson.M) (int64, error) {
	n, err := db.Collection(plan.Table.Name).CountDocuments(ctx, match)
	if err != nil {
		return 0, apperr.Query("count failed", map[string]any{"table": plan.Table.Name}, err)
	}
	return n, nil
}
