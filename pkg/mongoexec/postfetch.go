package mongoexec

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// PostFetchCollections runs the batched follow-up query for every
// StrategyDefer (many-to-many) relation in plan and attaches the resulting
// arrays to rows in place, keyed by the parent's primary key (spec.md §4.6,
// mirroring pkg/sqlexec's PostFetchCollections for the SQL executors). rows
// must already carry the parent table's primary key column under its own
// name. The relations fan out concurrently, bounded by parallelism
// (spec.md §5); parallelism <= 0 means unbounded.
func PostFetchCollections(ctx context.Context, db *mongo.Database, plan *planner.Plan, rows []queryspec.Record, parallelism int) error {
	parentPK := plan.Table.PrimaryKey("mongo")
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
			byParent, err := fetchDeferredCollection(gctx, db, parentPK.Name, rel, rows)
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
		for _, row := range rows {
			row[rel.Property] = []queryspec.Record{}
			key := fmt.Sprintf("%v", row[parentPK.Name])
			if recs, ok := byParentPerRelation[i][key]; ok {
				row[rel.Property] = recs
			}
		}
	}
	return nil
}

// fetchDeferredCollection runs the batched junction-pivot aggregation for
// one StrategyDefer relation and returns its rows grouped by parent id,
// without mutating rows itself (see PostFetchCollections).
func fetchDeferredCollection(ctx context.Context, db *mongo.Database, parentPKName string, rel planner.RelationPlan, rows []queryspec.Record) (map[string][]queryspec.Record, error) {
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

	targetPK := "_id"
	if pk := rel.Child.Table.PrimaryKey("mongo"); pk != nil {
		targetPK = pk.Name
	}

	inner, err := childPipeline(rel.Child)
	if err != nil {
		return nil, err
	}

	// A single aggregation pivoting through the junction collection pairs
	// each matched target row back with the parent id that referenced it,
	// the same correlation the SQL executor gets from its junction JOIN.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{srcCol: bson.M{"$in": ids}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         rel.Child.Table.Name,
			"localField":   tgtCol,
			"foreignField": targetPK,
			"as":           "_row",
			"pipeline":     inner,
		}}},
		{{Key: "$unwind", Value: "$_row"}},
		{{Key: "$project", Value: bson.M{"_parentId": "$" + srcCol, "_row": 1, "_id": 0}}},
	}

	cur, err := db.Collection(junctionTable).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperr.Query("post-fetch collection query failed", map[string]any{"relation": rel.Property, "junction": junctionTable}, err)
	}
	var bridge []struct {
		ParentID any              `bson:"_parentId"`
		Row      queryspec.Record `bson:"_row"`
	}
	if err := cur.All(ctx, &bridge); err != nil {
		return nil, apperr.Query("post-fetch collection decode failed", map[string]any{"relation": rel.Property}, err)
	}

	byParent := map[string][]queryspec.Record{}
	for _, b := range bridge {
		key := fmt.Sprintf("%v", b.ParentID)
		byParent[key] = append(byParent[key], b.Row)
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
