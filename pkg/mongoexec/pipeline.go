package mongoexec

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

// BuildPipeline assembles the aggregation pipeline for plan (spec.md §4.6):
// $match, $lookup(+$unwind) for owner-side and inverse-one relations,
// $lookup (no unwind) for one-to-many relations, $addFields to normalise
// unwind-produced empty results to null, $sort, $skip, $limit, $project.
// Many-to-many relations (planner.StrategyDefer) are excluded here and
// handled by PostFetchCollections, mirroring the SQL executor's treatment
// of the same cardinality.
func BuildPipeline(plan *planner.Plan, match bson.M, sortTerms []queryspec.SortTerm, page, limit int) (mongo.Pipeline, error) {
	var pipeline mongo.Pipeline

	if len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}

	parentPKName := "_id"
	if pk := plan.Table.PrimaryKey("mongo"); pk != nil {
		parentPKName = pk.Name
	}

	var unwoundFields []string
	for _, rel := range plan.Relations {
		stages, unwoundField, err := relationStage(rel, parentPKName)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, stages...)
		if unwoundField != "" {
			unwoundFields = append(unwoundFields, unwoundField)
		}
	}

	if len(unwoundFields) > 0 {
		addFields := bson.M{}
		for _, f := range unwoundFields {
			addFields[f] = nullIfUnwindEmpty(f)
		}
		pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: addFields}})
	}

	if sortDoc := buildSort(sortTerms); sortDoc != nil {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sortDoc}})
	}
	if page > 1 && limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64((page - 1) * limit)}})
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(limit)}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$project", Value: projectionFor(plan)}})
	return pipeline, nil
}

// nullIfUnwindEmpty replaces the value $unwind(preserveNullAndEmptyArrays)
// leaves behind for a missing or empty array (absent or `[]`) with an
// explicit null, per spec.md §4.6's "$addFields to normalise missing
// relations" stage.
func nullIfUnwindEmpty(field string) bson.M {
	ref := "$" + field
	return bson.M{"$cond": bson.A{
		bson.M{"$or": bson.A{
			bson.M{"$eq": bson.A{bson.M{"$type": ref}, "missing"}},
			bson.M{"$eq": bson.A{ref, bson.A{}}},
		}},
		nil,
		ref,
	}}
}

func projectionFor(plan *planner.Plan) bson.M {
	proj := bson.M{}
	for _, col := range plan.ScalarColumns {
		proj[col.Name] = 1
	}
	for _, rel := range plan.Relations {
		proj[rel.Property] = 1
	}
	return proj
}

func relationStage(rel planner.RelationPlan, parentPKName string) ([]bson.D, string, error) {
	switch rel.Strategy {
	case planner.StrategyReference:
		return referenceStage(rel, parentPKName)
	case planner.StrategyOwnerSubquery, planner.StrategyInverseSubquery:
		return singularLookupStage(rel, parentPKName)
	case planner.StrategyCollectionAgg:
		return collectionLookupStage(rel, parentPKName)
	case planner.StrategyDefer:
		return nil, "", nil // second pass, see PostFetchCollections
	default:
		return nil, "", fmt.Errorf("mongoexec: relation %q has no pipeline strategy", rel.Property)
	}
}

// referenceStage handles reference-only relations (nested fields == ["id"]).
// Owner-side relations need no join: the foreign key already lives on this
// document, so {id: fk} is built with $addFields. Inverse-side reference-
// only relations (no local FK to read) fall back to a minimal $lookup that
// projects only the target's primary key.
func referenceStage(rel planner.RelationPlan, parentPKName string) ([]bson.D, string, error) {
	if rel.Relation.IsOwner() {
		fk := "$" + rel.Relation.ForeignKeyColumn
		expr := bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{fk, nil}}, nil, bson.M{"id": fk},
		}}
		return []bson.D{{{Key: "$addFields", Value: bson.M{rel.Property: expr}}}}, "", nil
	}

	if rel.ChildForeignKey == "" {
		return nil, "", fmt.Errorf("mongoexec: reference-only inverse relation %q has no resolved foreign key", rel.Property)
	}
	targetPK := "_id"
	if rel.Child != nil {
		if pk := rel.Child.Table.PrimaryKey("mongo"); pk != nil {
			targetPK = pk.Name
		}
	}
	lookup := bson.M{
		"from":         rel.Relation.TargetTable,
		"localField":   parentPKName,
		"foreignField": rel.ChildForeignKey,
		"as":           rel.Property,
		"pipeline":     []bson.D{{{Key: "$project", Value: bson.M{"id": "$" + targetPK, "_id": 0}}}},
	}
	stages := []bson.D{{{Key: "$lookup", Value: lookup}}}
	if rel.Relation.Cardinality == metadata.OneToOne {
		stages = append(stages, bson.D{{Key: "$unwind", Value: bson.M{"path": "$" + rel.Property, "preserveNullAndEmptyArrays": true}}})
		return stages, rel.Property, nil
	}
	return stages, "", nil
}

// singularLookupStage handles owner M2O/O2O and inverse O2O relations with
// real requested fields: a $lookup followed by $unwind(preserveNullAndEmptyArrays)
// since exactly zero or one matching document is expected.
func singularLookupStage(rel planner.RelationPlan, parentPKName string) ([]bson.D, string, error) {
	local, foreign, err := lookupFields(rel, parentPKName)
	if err != nil {
		return nil, "", err
	}
	inner, err := childPipeline(rel.Child)
	if err != nil {
		return nil, "", err
	}
	lookup := bson.M{
		"from":         rel.Child.Table.Name,
		"localField":   local,
		"foreignField": foreign,
		"as":           rel.Property,
	}
	if len(inner) > 0 {
		lookup["pipeline"] = inner
	}
	stages := []bson.D{
		{{Key: "$lookup", Value: lookup}},
		{{Key: "$unwind", Value: bson.M{"path": "$" + rel.Property, "preserveNullAndEmptyArrays": true}}},
	}
	return stages, rel.Property, nil
}

// collectionLookupStage handles one-to-many relations: a $lookup with no
// $unwind (the array stays), an inner pipeline honouring the relation's own
// sort terms and nested-field projection (spec.md §4.6 "$lookup (no unwind)
// for each inverse collection requested with explicit nested fields").
func collectionLookupStage(rel planner.RelationPlan, parentPKName string) ([]bson.D, string, error) {
	local, foreign, err := lookupFields(rel, parentPKName)
	if err != nil {
		return nil, "", err
	}
	inner, err := childPipeline(rel.Child)
	if err != nil {
		return nil, "", err
	}
	if sortDoc := buildSort(rel.SortTerms); sortDoc != nil {
		inner = append([]bson.D{{{Key: "$sort", Value: sortDoc}}}, inner...)
	}
	lookup := bson.M{
		"from":         rel.Child.Table.Name,
		"localField":   local,
		"foreignField": foreign,
		"as":           rel.Property,
	}
	if len(inner) > 0 {
		lookup["pipeline"] = inner
	}
	return []bson.D{{{Key: "$lookup", Value: lookup}}}, "", nil
}

func lookupFields(rel planner.RelationPlan, parentPKName string) (local, foreign string, err error) {
	switch rel.Strategy {
	case planner.StrategyOwnerSubquery:
		targetPK := "_id"
		if pk := rel.Child.Table.PrimaryKey("mongo"); pk != nil {
			targetPK = pk.Name
		}
		return rel.Relation.ForeignKeyColumn, targetPK, nil
	case planner.StrategyInverseSubquery, planner.StrategyCollectionAgg:
		if rel.ChildForeignKey == "" {
			return "", "", fmt.Errorf("mongoexec: relation %q has no resolved child foreign key", rel.Property)
		}
		return parentPKName, rel.ChildForeignKey, nil
	default:
		return "", "", fmt.Errorf("mongoexec: relation %q strategy %q has no $lookup mapping", rel.Property, rel.Strategy)
	}
}

// childPipeline recursively builds the $lookup/$addFields/$project stages
// for a relation's own nested relations, so a deeply nested request (e.g.
// "posts.author.name") is honoured inside the inner $lookup pipeline.
func childPipeline(child *planner.Plan) ([]bson.D, error) {
	if child == nil {
		return nil, nil
	}
	var stages []bson.D
	parentPKName := "_id"
	if pk := child.Table.PrimaryKey("mongo"); pk != nil {
		parentPKName = pk.Name
	}
	var unwoundFields []string
	for _, rel := range child.Relations {
		s, unwoundField, err := relationStage(rel, parentPKName)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s...)
		if unwoundField != "" {
			unwoundFields = append(unwoundFields, unwoundField)
		}
	}
	if len(unwoundFields) > 0 {
		addFields := bson.M{}
		for _, f := range unwoundFields {
			addFields[f] = nullIfUnwindEmpty(f)
		}
		stages = append(stages, bson.D{{Key: "$addFields", Value: addFields}})
	}
	stages = append(stages, bson.D{{Key: "$project", Value: projectionFor(child)}})
	return stages, nil
}
