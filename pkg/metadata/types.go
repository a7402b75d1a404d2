// Package metadata is the read-only façade over the metadata cache: tables,
// columns, and relations. It never talks to a database itself; a View is
// constructed from whatever snapshot the metadata cache collaborator
// (pkg/metacache) hands it.
package metadata

import "fmt"

// ColumnType is the closed set of logical column types the engine reasons
// about. Backend-specific SQL/BSON types are mapped onto these by the
// dialect layer and the result normaliser.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeBigInt   ColumnType = "bigint"
	TypeUUID     ColumnType = "uuid"
	TypeText     ColumnType = "text"
	TypeBoolean  ColumnType = "boolean"
	TypeDecimal  ColumnType = "decimal"
	TypeFloat    ColumnType = "float"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
	TypeEnum     ColumnType = "enum"
	TypeJSON     ColumnType = "json"
)

// IsValidPrimaryKeyType reports whether t is one of the three logical types
// a primary key column is allowed to have (spec.md §3).
func (t ColumnType) IsValidPrimaryKeyType() bool {
	switch t {
	case TypeInteger, TypeBigInt, TypeUUID:
		return true
	default:
		return false
	}
}

// Column describes a single table column.
type Column struct {
	Name          string
	Type          ColumnType
	EnumOptions   []string
	Nullable      bool
	Generated     bool
	System        bool
	Hidden        bool
	Updatable     bool
	PrimaryKey    bool
	Default       any
	Description   string
	Placeholder   string
}

// Cardinality enumerates the four relation shapes in the data model.
type Cardinality string

const (
	OneToOne   Cardinality = "one-to-one"
	ManyToOne  Cardinality = "many-to-one"
	OneToMany  Cardinality = "one-to-many"
	ManyToMany Cardinality = "many-to-many"
)

// Junction carries the (tableName, sourceColumn, targetColumn) triple for a
// many-to-many relation, per spec.md §3.
type Junction struct {
	Table         string
	SourceColumn  string
	TargetColumn  string
}

// Relation is modelled as the tagged-union described in spec.md's DESIGN
// NOTES ("Relation kinds as a sum type"): owner-side relations carry a
// foreign-key column, many-to-many carries a junction triple, inverse sides
// carry only the name of the property that owns the data on the other end.
// Cardinality (with Owner for one-to-one) decides which fields are
// meaningful; the IsOwner/IsInverse/IsCollection helpers answer the usual
// questions about it.
type Relation struct {
	PropertyName        string
	Cardinality         Cardinality
	SourceTable         string
	TargetTable          string
	InversePropertyName string // optional; required to resolve inverse sides
	Owner               bool   // for one-to-one: true when this side holds the FK
	ForeignKeyColumn    string // owner M2O, owner O2O
	JunctionInfo        *Junction
	OnDeleteCascade     bool
}

// IsOwner reports whether this side of the relation physically stores the
// foreign key: many-to-one always, one-to-one only when Owner is set.
func (r Relation) IsOwner() bool {
	switch r.Cardinality {
	case ManyToOne:
		return true
	case OneToOne:
		return r.Owner
	default:
		return false
	}
}

// IsInverse is the complement of IsOwner for the two cardinalities that
// have a "which side owns the data" question (one-to-many is always
// inverse, many-to-many never has inverse/owner semantics — it has a
// junction instead).
func (r Relation) IsInverse() bool {
	switch r.Cardinality {
	case OneToMany:
		return true
	case OneToOne:
		return !r.Owner
	default:
		return false
	}
}

// IsCollection reports whether the relation projects as an array.
func (r Relation) IsCollection() bool {
	return r.Cardinality == OneToMany || r.Cardinality == ManyToMany
}

// Table describes a single table/collection: its columns, relations and
// constraints. Table invariants (exactly one PK column; unique column and
// relation property names) are the responsibility of whatever populates the
// metadata cache; the View only enforces them on lookup paths that would
// otherwise return an ambiguous result.
type Table struct {
	Name              string
	System            bool
	CompositeUniques  [][]string
	CompositeIndexes  [][]string
	Columns           []Column
	Relations         []Relation
}

// Property is what Table.Resolve returns: exactly one of Column or Relation
// is non-nil, or both are nil when the name does not resolve.
type Property struct {
	Column   *Column
	Relation *Relation
}

// Found reports whether the property resolved to something.
func (p Property) Found() bool { return p.Column != nil || p.Relation != nil }

// Resolve looks up a property (field or relation) by name within the table.
func (t *Table) Resolve(name string) Property {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return Property{Column: &t.Columns[i]}
		}
	}
	for i := range t.Relations {
		if t.Relations[i].PropertyName == name {
			return Property{Relation: &t.Relations[i]}
		}
	}
	return Property{}
}

// Column looks up a column by name, nil if absent.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Relation looks up a relation by property name, nil if absent.
func (t *Table) Relation(name string) *Relation {
	for i := range t.Relations {
		if t.Relations[i].PropertyName == name {
			return &t.Relations[i]
		}
	}
	return nil
}

// PrimaryKey returns the table's declared primary-key column. If none is
// declared, it falls back to the conventional name for dialect: "id" for
// every SQL dialect, "_id" for mongo, per spec.md §4.1. Returns nil if even
// the conventional name is not a declared column.
func (t *Table) PrimaryKey(dialect string) *Column {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return &t.Columns[i]
		}
	}
	conventional := "id"
	if dialect == "mongo" {
		conventional = "_id"
	}
	return t.Column(conventional)
}

// ScalarColumns returns columns that are not themselves the foreign-key
// backing of an owner relation — those are represented as relations instead
// when expanding the `*` wildcard (spec.md §4.4 rule 2).
func (t *Table) ScalarColumns() []Column {
	fkCols := make(map[string]bool)
	for _, rel := range t.Relations {
		if rel.IsOwner() && rel.ForeignKeyColumn != "" {
			fkCols[rel.ForeignKeyColumn] = true
		}
	}
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if fkCols[c.Name] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// OwnerRelations returns every relation on the owner side (many-to-one, or
// one-to-one where this table holds the FK) — these are the relations
// auto-added at reference-only level when unrequested (spec.md §4.4 rule 2).
func (t *Table) OwnerRelations() []Relation {
	out := make([]Relation, 0)
	for _, r := range t.Relations {
		if r.IsOwner() {
			out = append(out, r)
		}
	}
	return out
}

// JunctionTableName derives the naming-convention junction table name when
// metadata does not carry one explicitly: "<source>_<targetPlural>".
// pkg/metadata/convention.go supplies the actual pluralisation.
func (r Relation) JunctionTableName() (string, error) {
	if r.Cardinality != ManyToMany {
		return "", fmt.Errorf("metadata: relation %q is not many-to-many", r.PropertyName)
	}
	if r.JunctionInfo != nil && r.JunctionInfo.Table != "" {
		return r.JunctionInfo.Table, nil
	}
	return junctionTableName(r.SourceTable, r.TargetTable), nil
}

// JunctionSourceColumn returns the junction column referencing SourceTable's
// primary key, falling back to "<sourceTable>_id" by convention.
func (r Relation) JunctionSourceColumn() string {
	if r.JunctionInfo != nil && r.JunctionInfo.SourceColumn != "" {
		return r.JunctionInfo.SourceColumn
	}
	return r.SourceTable + "_id"
}

// JunctionTargetColumn returns the junction column referencing TargetTable's
// primary key, falling back to "<targetTable>_id" by convention.
func (r Relation) JunctionTargetColumn() string {
	if r.JunctionInfo != nil && r.JunctionInfo.TargetColumn != "" {
		return r.JunctionInfo.TargetColumn
	}
	return r.TargetTable + "_id"
}
