// Package queryspec defines the request/result data model the rest of the
// engine operates on: requests, filter trees, operator tokens, and the
// uniformly-shaped result records described in spec.md §3 and §6.
package queryspec

// Operator is the closed set of filter operator tokens (spec.md §3).
type Operator string

const (
	OpEq         Operator = "_eq"
	OpNeq        Operator = "_neq"
	OpGt         Operator = "_gt"
	OpGte        Operator = "_gte"
	OpLt         Operator = "_lt"
	OpLte        Operator = "_lte"
	OpIn         Operator = "_in"
	OpNotIn      Operator = "_not_in"
	OpBetween    Operator = "_between"
	OpContains   Operator = "_contains"
	OpStartsWith Operator = "_starts_with"
	OpEndsWith   Operator = "_ends_with"
	OpIsNull     Operator = "_is_null"
	OpIsNotNull  Operator = "_is_not_null"
	OpCount      Operator = "_count"
	OpSum        Operator = "_sum"
	OpAvg        Operator = "_avg"
	OpMin        Operator = "_min"
	OpMax        Operator = "_max"
)

// IsAggregate reports whether op is one of the collection-aggregate tokens.
func (op Operator) IsAggregate() bool {
	switch op {
	case OpCount, OpSum, OpAvg, OpMin, OpMax:
		return true
	default:
		return false
	}
}

// IsValid reports whether op is a member of the closed operator set.
func (op Operator) IsValid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpBetween,
		OpContains, OpStartsWith, OpEndsWith, OpIsNull, OpIsNotNull,
		OpCount, OpSum, OpAvg, OpMin, OpMax:
		return true
	default:
		return false
	}
}

// Combinator is one of the three logical combinators a Filter node may be.
type Combinator string

const (
	CombAnd Combinator = "_and"
	CombOr  Combinator = "_or"
	CombNot Combinator = "_not"
)

// Filter is a recursive filter-tree node (spec.md §3). Exactly one of the
// three shapes is populated at a time:
//   - Combinator != "" : a logical combinator over Children (And/Or) or a
//     single Child (Not).
//   - otherwise, Fields holds a mapping of field/relation name to either a
//     scalar value (implicit equality) or an operator map.
type Filter struct {
	Combinator Combinator
	Children   []Filter // for _and / _or
	Child      *Filter  // for _not

	Fields map[string]FieldFilter
}

// FieldFilter is the value attached to a field or relation name within a
// Filter map level: either a bare scalar (implicit _eq) or an explicit
// operator -> operand mapping. For a relation-valued key it may instead
// hold a nested *Filter, stored in Operators under the "_nested" key.
type FieldFilter struct {
	Scalar      any
	HasScalar   bool
	Operators   map[Operator]any
	NestedID    map[Operator]any // `{id: {...}}` rewrite-to-FK shorthand
	HasNestedID bool
}

// IsEmpty reports whether the filter tree has no constraints at all.
func (f *Filter) IsEmpty() bool {
	return f == nil || (f.Combinator == "" && len(f.Fields) == 0 && f.Child == nil && len(f.Children) == 0)
}

// SortTerm is one parsed element of the "-name,createdAt" sort syntax.
type SortTerm struct {
	Path       []string // dotted path, e.g. ["posts", "createdAt"]
	Descending bool
}

// MetaRequest is the parsed form of the `meta` csv field.
type MetaRequest struct {
	TotalCount  bool
	FilterCount bool
	All         bool // "*" requested
}

// Request is the engine's sole entrypoint value (spec.md §6). It is
// immutable for the duration of a single Find call, except where a
// BeforeSelect hook is given explicit write access to it.
type Request struct {
	TableName string
	Fields    []string
	Filter    *Filter
	Sort      []SortTerm
	Page      int
	Limit     int
	Meta      MetaRequest
	Deep      map[string]*Request
	DebugMode bool
}

// Record is an open map keyed by metadata-declared property names (spec.md
// §9 "Dynamic tagged records"). Values are one of: a scalar, a nested
// Record (singular relation), or a []Record (collection relation).
type Record map[string]any

// Ref is the canonical reference-only relation shape: always `{id: v}`.
type Ref map[string]any

// NewRef builds a reference-only record from a primary-key value.
func NewRef(id any) Ref { return Ref{"id": id} }

// DeepMeta is meta attached per deep-relation name (spec.md §4.7).
type DeepMeta struct {
	TotalCount  *int64
	FilterCount *int64
}

// Meta is the result-level meta object.
type Meta struct {
	TotalCount  *int64
	FilterCount *int64
	Deep        map[string]DeepMeta
}

// Result is the engine's sole return value for a read operation.
type Result struct {
	Data  []Record
	Meta  *Meta
	Debug map[string]any
}
