package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	tables map[string]*Table
}

func (s *staticSource) GetTable(_ context.Context, name string) (*Table, error) {
	return s.tables[name], nil
}

func (s *staticSource) ListTables(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	return names, nil
}

func userPostSource() *staticSource {
	return &staticSource{tables: map[string]*Table{
		"user": {
			Name:    "user",
			Columns: []Column{{Name: "id", Type: TypeInteger, PrimaryKey: true}, {Name: "name", Type: TypeText}},
			Relations: []Relation{
				{PropertyName: "posts", Cardinality: OneToMany, SourceTable: "user", TargetTable: "post", InversePropertyName: "author"},
			},
		},
		"post": {
			Name: "post",
			Columns: []Column{
				{Name: "id", Type: TypeInteger, PrimaryKey: true},
				{Name: "title", Type: TypeText},
				{Name: "authorId", Type: TypeInteger},
			},
			Relations: []Relation{
				{PropertyName: "author", Cardinality: ManyToOne, SourceTable: "post", TargetTable: "user", ForeignKeyColumn: "authorId", InversePropertyName: "posts"},
			},
		},
	}}
}

func TestResolveFieldAndRelation(t *testing.T) {
	v := New(userPostSource(), "postgres")
	ctx := context.Background()

	p, err := v.Resolve(ctx, "post", "title")
	require.NoError(t, err)
	require.True(t, p.Found())
	assert.NotNil(t, p.Column)
	assert.Nil(t, p.Relation)

	p, err = v.Resolve(ctx, "post", "author")
	require.NoError(t, err)
	require.True(t, p.Found())
	assert.NotNil(t, p.Relation)
	assert.Equal(t, ManyToOne, p.Relation.Cardinality)

	p, err = v.Resolve(ctx, "post", "nope")
	require.NoError(t, err)
	assert.False(t, p.Found())
}

func TestPrimaryKeyConventionFallback(t *testing.T) {
	tbl := &Table{Name: "thing", Columns: []Column{{Name: "id", Type: TypeUUID}}}
	pk := tbl.PrimaryKey("postgres")
	require.NotNil(t, pk)
	assert.Equal(t, "id", pk.Name)

	mongoTbl := &Table{Name: "thing", Columns: []Column{{Name: "_id", Type: TypeUUID}}}
	pk = mongoTbl.PrimaryKey("mongo")
	require.NotNil(t, pk)
	assert.Equal(t, "_id", pk.Name)
}

func TestScalarColumnsExcludesForeignKeys(t *testing.T) {
	v := userPostSource()
	post := v.tables["post"]
	cols := post.ScalarColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.ElementsMatch(t, []string{"id", "title"}, names)
}

func TestResolveInverseFindsOwnerSide(t *testing.T) {
	v := New(userPostSource(), "postgres")
	ctx := context.Background()

	user, err := v.Table(ctx, "user")
	require.NoError(t, err)
	rel := user.Relation("posts")
	require.NotNil(t, rel)

	owner, err := v.ResolveInverse(ctx, *rel)
	require.NoError(t, err)
	assert.Equal(t, "author", owner.PropertyName)
	assert.Equal(t, "authorId", owner.ForeignKeyColumn)
}

func TestJunctionTableNameConvention(t *testing.T) {
	rel := Relation{Cardinality: ManyToMany, SourceTable: "article", TargetTable: "tag"}
	name, err := rel.JunctionTableName()
	require.NoError(t, err)
	assert.Equal(t, "article_tags", name)
}
