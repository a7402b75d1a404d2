package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

type staticSource struct{ tables map[string]*metadata.Table }

func (s *staticSource) GetTable(_ context.Context, name string) (*metadata.Table, error) {
	return s.tables[name], nil
}
func (s *staticSource) ListTables(_ context.Context) ([]string, error) { return nil, nil }

func schema() (*metadata.View, *metadata.Table) {
	src := &staticSource{tables: map[string]*metadata.Table{
		"user": {
			Name:    "user",
			Columns: []metadata.Column{{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true}, {Name: "name", Type: metadata.TypeText}},
			Relations: []metadata.Relation{
				{PropertyName: "posts", Cardinality: metadata.OneToMany, SourceTable: "user", TargetTable: "post", InversePropertyName: "author"},
				{PropertyName: "tags", Cardinality: metadata.ManyToMany, SourceTable: "user", TargetTable: "tag"},
			},
		},
		"post": {
			Name: "post",
			Columns: []metadata.Column{
				{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true},
				{Name: "published", Type: metadata.TypeBoolean},
				{Name: "authorId", Type: metadata.TypeInteger},
			},
			Relations: []metadata.Relation{
				{PropertyName: "author", Cardinality: metadata.ManyToOne, SourceTable: "post", TargetTable: "user", ForeignKeyColumn: "authorId", InversePropertyName: "posts"},
			},
		},
		"tag": {
			Name:    "tag",
			Columns: []metadata.Column{{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true}, {Name: "name", Type: metadata.TypeText}},
		},
	}}
	view := metadata.New(src, "mysql")
	return view, src.tables["user"]
}

func TestWalkScalarEquality(t *testing.T) {
	view, _ := schema()
	post, _ := view.Table(context.Background(), "post")
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"published": true})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), post, "p", f)
	require.NoError(t, err)
	assert.Equal(t, "`p`.`published` = ?", frag.SQL)
	assert.Equal(t, []any{true}, frag.Args)
}

func TestWalkAndCombinator(t *testing.T) {
	view, _ := schema()
	post, _ := view.Table(context.Background(), "post")
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{
		"_and": []any{
			map[string]any{"published": true},
			map[string]any{"id": map[string]any{"_gt": float64(5)}},
		},
	})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), post, "p", f)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, " AND ")
	assert.ElementsMatch(t, []any{true, int64(5)}, frag.Args)
}

func TestWalkNotNegatesFragment(t *testing.T) {
	view, _ := schema()
	post, _ := view.Table(context.Background(), "post")
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"_not": map[string]any{"published": true}})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), post, "p", f)
	require.NoError(t, err)
	assert.Equal(t, "NOT (`p`.`published` = ?)", frag.SQL)
}

func TestWalkInEmptyArrayCollapsesToFalse(t *testing.T) {
	view, _ := schema()
	post, _ := view.Table(context.Background(), "post")
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"id": map[string]any{"_in": []any{}}})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), post, "p", f)
	require.NoError(t, err)
	assert.Equal(t, "1=0", frag.SQL)
}

func TestWalkRelationIDRewriteOnOwnerSide(t *testing.T) {
	view, _ := schema()
	post, _ := view.Table(context.Background(), "post")
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"author": map[string]any{"id": map[string]any{"_eq": float64(7)}}})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), post, "p", f)
	require.NoError(t, err)
	assert.Equal(t, "`p`.`authorId` = ?", frag.SQL)
	assert.Equal(t, []any{float64(7)}, frag.Args)
}

func TestWalkRelationMembershipManyToMany(t *testing.T) {
	view, user := schema()
	w := New(view, dialect.Postgres)
	f, err := queryspec.ParseFilter(map[string]any{"tags": map[string]any{"_in": []any{float64(1), float64(2)}}})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), user, "u", f)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "EXISTS")
	assert.Contains(t, frag.SQL, "user_tags")
	assert.Equal(t, []any{float64(1), float64(2)}, frag.Args)
}

func TestWalkAggregatePredicate(t *testing.T) {
	view, user := schema()
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"posts": map[string]any{"_count": map[string]any{"_gt": float64(5)}}})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), user, "u", f)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "COUNT(*)")
	assert.Contains(t, frag.SQL, "> ?")
	assert.Equal(t, []any{float64(5)}, frag.Args)
}

func TestWalkRelationExistsWithNestedFilter(t *testing.T) {
	view, user := schema()
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"posts": map[string]any{"published": true}})
	require.NoError(t, err)
	frag, err := w.Walk(context.Background(), user, "u", f)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, "EXISTS")
	assert.Contains(t, frag.SQL, "published")
}

func TestWalkRelationInCombinedWithOtherOperatorsRejected(t *testing.T) {
	view, user := schema()
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"tags": map[string]any{"_in": []any{float64(1)}, "_not_in": []any{float64(2)}}})
	require.NoError(t, err)
	_, err = w.Walk(context.Background(), user, "u", f)
	assert.Error(t, err)
}

func TestWalkUnknownFieldIsResourceNotFound(t *testing.T) {
	view, user := schema()
	w := New(view, dialect.MySQL)
	f, err := queryspec.ParseFilter(map[string]any{"bogus": 1})
	require.NoError(t, err)
	_, err = w.Walk(context.Background(), user, "u", f)
	require.Error(t, err)
}
