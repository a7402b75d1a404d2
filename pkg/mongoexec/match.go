// Package mongoexec implements the Mongo Executor (spec.md §4.6): it binds
// the planner's dialect-agnostic Plan to a MongoDB aggregation pipeline
// instead of SQL text, reusing the same planner.Strategy decisions
// pkg/sqlexec binds to SQL (owner relations unwind, one-to-many relations
// join inline, many-to-many relations defer to a second pass).
package mongoexec

import (
	"fmt"
	"regexp"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/omniqueryio/polyspec/pkg/apperr"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// BuildMatch translates a filter tree into a Mongo match sub-document for a
// $match stage (spec.md §4.3, emitted for Mongo instead of a SQL fragment).
// Field predicates and the owner-relation id-rewrite/membership shorthand
// are supported directly; aggregate and EXISTS-style relation predicates
// need a prior $lookup stage to correlate against, which this pass does not
// attempt (see DESIGN.md).
func BuildMatch(table *metadata.Table, filter *queryspec.Filter) (bson.M, error) {
	if filter.IsEmpty() {
		return bson.M{}, nil
	}
	return walkNode(table, filter)
}

func walkNode(table *metadata.Table, f *queryspec.Filter) (bson.M, error) {
	switch f.Combinator {
	case queryspec.CombAnd:
		return combine(table, f.Children, "$and")
	case queryspec.CombOr:
		return combine(table, f.Children, "$or")
	case queryspec.CombNot:
		if f.Child == nil || f.Child.IsEmpty() {
			return bson.M{}, nil
		}
		inner, err := walkNode(table, f.Child)
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": bson.A{inner}}, nil
	}

	parts := bson.M{}
	for name, ff := range f.Fields {
		prop := table.Resolve(name)
		if !prop.Found() {
			return nil, apperr.NotFound("unknown field or relation", map[string]any{"table": table.Name, "field": name})
		}
		var m bson.M
		var err error
		if prop.Column != nil {
			m, err = matchColumn(*prop.Column, ff)
		} else {
			m, err = matchRelation(*prop.Relation, ff)
		}
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			parts[k] = v
		}
	}
	return parts, nil
}

func combine(table *metadata.Table, children []queryspec.Filter, op string) (bson.M, error) {
	arr := bson.A{}
	for i := range children {
		m, err := walkNode(table, &children[i])
		if err != nil {
			return nil, err
		}
		if len(m) > 0 {
			arr = append(arr, m)
		}
	}
	if len(arr) == 0 {
		return bson.M{}, nil
	}
	return bson.M{op: arr}, nil
}

var mongoComparisonOps = map[queryspec.Operator]string{
	queryspec.OpGt:  "$gt",
	queryspec.OpGte: "$gte",
	queryspec.OpLt:  "$lt",
	queryspec.OpLte: "$lte",
}

func matchColumn(col metadata.Column, ff queryspec.FieldFilter) (bson.M, error) {
	if ff.HasScalar {
		v, err := coerceValue(col, ff.Scalar)
		if err != nil {
			return nil, invalidOperand(col)
		}
		return bson.M{col.Name: v}, nil
	}

	cond := bson.M{}
	for op, raw := range ff.Operators {
		switch op {
		case queryspec.OpEq:
			v, err := coerceValue(col, raw)
			if err != nil {
				return nil, invalidOperand(col)
			}
			cond["$eq"] = v
		case queryspec.OpNeq:
			v, err := coerceValue(col, raw)
			if err != nil {
				return nil, invalidOperand(col)
			}
			cond["$ne"] = v
		case queryspec.OpGt, queryspec.OpGte, queryspec.OpLt, queryspec.OpLte:
			v, err := coerceValue(col, raw)
			if err != nil {
				return nil, invalidOperand(col)
			}
			cond[mongoComparisonOps[op]] = v
		case queryspec.OpIn, queryspec.OpNotIn:
			values, err := toSlice(raw)
			if err != nil {
				return nil, apperr.Validation("membership operator requires an array", map[string]any{"field": col.Name})
			}
			coerced := make(bson.A, 0, len(values))
			for _, v := range values {
				cv, err := coerceValue(col, v)
				if err != nil {
					return nil, invalidOperand(col)
				}
				coerced = append(coerced, cv)
			}
			if op == queryspec.OpIn {
				cond["$in"] = coerced
			} else {
				cond["$nin"] = coerced
			}
		case queryspec.OpBetween:
			arr, ok := raw.([]any)
			if !ok || len(arr) != 2 {
				return nil, apperr.Validation("_between requires a two-element array", map[string]any{"field": col.Name})
			}
			lo, err := coerceValue(col, arr[0])
			if err != nil {
				return nil, invalidOperand(col)
			}
			hi, err := coerceValue(col, arr[1])
			if err != nil {
				return nil, invalidOperand(col)
			}
			cond["$gte"] = lo
			cond["$lte"] = hi
		case queryspec.OpContains, queryspec.OpStartsWith, queryspec.OpEndsWith:
			s, ok := raw.(string)
			if !ok {
				return nil, apperr.Validation("substring operators require a string operand", map[string]any{"field": col.Name})
			}
			cond["$regex"] = substringPattern(string(op), s)
			cond["$options"] = "i"
		case queryspec.OpIsNull:
			cond["$eq"] = nil
		case queryspec.OpIsNotNull:
			cond["$ne"] = nil
		default:
			return nil, apperr.Validation("operator not valid for a scalar field", map[string]any{"field": col.Name, "operator": string(op)})
		}
	}
	return bson.M{col.Name: cond}, nil
}

// matchRelation implements the owner-side subset of spec.md §4.3 rule 3 that
// a plain $match stage can express without a preceding $lookup: the id
// rewrite shorthand and _in/_not_in membership against the local foreign
// key. Aggregate and EXISTS-shaped relation filters are out of scope for
// this pass (DESIGN.md).
func matchRelation(rel metadata.Relation, ff queryspec.FieldFilter) (bson.M, error) {
	if ff.HasNestedID {
		if !rel.IsOwner() {
			return nil, apperr.Validation("id-only filter on a non-owner relation requires _in/_not_in", map[string]any{"relation": rel.PropertyName})
		}
		cond := bson.M{}
		for op, raw := range ff.NestedID {
			switch op {
			case queryspec.OpIsNull:
				cond["$eq"] = nil
			case queryspec.OpIsNotNull:
				cond["$ne"] = nil
			case queryspec.OpEq:
				cond["$eq"] = raw
			case queryspec.OpNeq:
				cond["$ne"] = raw
			default:
				mop, ok := mongoComparisonOps[op]
				if !ok {
					return nil, apperr.Validation("operator not valid in an id-rewrite relation filter", map[string]any{"relation": rel.PropertyName, "operator": string(op)})
				}
				cond[mop] = raw
			}
		}
		return bson.M{rel.ForeignKeyColumn: cond}, nil
	}

	if _, hasIn := ff.Operators[queryspec.OpIn]; hasIn && len(ff.Operators) > 1 {
		return nil, apperr.Validation("_in cannot be combined with other operators on a relation filter", map[string]any{"relation": rel.PropertyName})
	}
	if _, hasNotIn := ff.Operators[queryspec.OpNotIn]; hasNotIn && len(ff.Operators) > 1 {
		return nil, apperr.Validation("_not_in cannot be combined with other operators on a relation filter", map[string]any{"relation": rel.PropertyName})
	}
	if raw, ok := ff.Operators[queryspec.OpIn]; ok {
		return relationMembership(rel, queryspec.OpIn, raw)
	}
	if raw, ok := ff.Operators[queryspec.OpNotIn]; ok {
		return relationMembership(rel, queryspec.OpNotIn, raw)
	}

	return nil, apperr.DialectUnsupported(
		"aggregate and EXISTS-style relation filters need a preceding $lookup stage, not supported directly in a Mongo $match",
		map[string]any{"relation": rel.PropertyName},
		nil,
	)
}

func relationMembership(rel metadata.Relation, op queryspec.Operator, raw any) (bson.M, error) {
	if !rel.IsOwner() {
		return nil, apperr.DialectUnsupported(
			"membership filters on non-owner relations require a $lookup stage before $match, not yet supported",
			map[string]any{"relation": rel.PropertyName},
			nil,
		)
	}
	values, err := toSlice(raw)
	if err != nil {
		return nil, apperr.Validation("_in/_not_in requires an array", map[string]any{"relation": rel.PropertyName})
	}
	verb := "$in"
	if op == queryspec.OpNotIn {
		verb = "$nin"
	}
	// An empty values array already collapses naturally to the right
	// constant predicate under Mongo's own $in/$nin semantics (spec.md §8
	// invariant 7): $in: [] matches nothing, $nin: [] matches everything.
	return bson.M{rel.ForeignKeyColumn: bson.M{verb: bson.A(values)}}, nil
}

func invalidOperand(col metadata.Column) error {
	return apperr.Validation("operand coercion failed", map[string]any{"field": col.Name, "type": string(col.Type)})
}

func substringPattern(mode, s string) string {
	quoted := regexp.QuoteMeta(s)
	switch mode {
	case "_starts_with":
		return "^" + quoted
	case "_ends_with":
		return quoted + "$"
	default:
		return quoted
	}
}

func toSlice(raw any) ([]any, error) {
	v, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", raw)
	}
	return v, nil
}

// coerceValue converts an operand to the Go/BSON type matching col's
// logical type. A 24-hex-character string bound against the primary key or
// a field literally named "_id" is converted to an ObjectID (spec.md §4.6
// ObjectId handling).
func coerceValue(col metadata.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && (col.PrimaryKey || col.Name == "_id") && objectIDPattern.MatchString(s) {
		return primitive.ObjectIDFromHex(s)
	}
	switch col.Type {
	case metadata.TypeInteger, metadata.TypeBigInt:
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			return strconv.ParseInt(n, 10, 64)
		default:
			return nil, fmt.Errorf("cannot coerce %T to integer", v)
		}
	case metadata.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case float64:
			return b != 0, nil
		case string:
			return strconv.ParseBool(b)
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", v)
		}
	case metadata.TypeFloat, metadata.TypeDecimal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			return strconv.ParseFloat(n, 64)
		default:
			return nil, fmt.Errorf("cannot coerce %T to float", v)
		}
	default:
		return v, nil
	}
}
