package mongoexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

type staticSource struct{ tables map[string]*metadata.Table }

func (s *staticSource) GetTable(_ context.Context, name string) (*metadata.Table, error) {
	return s.tables[name], nil
}
func (s *staticSource) ListTables(_ context.Context) ([]string, error) { return nil, nil }

func schema() *metadata.View {
	src := &staticSource{tables: map[string]*metadata.Table{
		"user": {
			Name: "user",
			Columns: []metadata.Column{
				{Name: "_id", Type: metadata.TypeText, PrimaryKey: true},
				{Name: "name", Type: metadata.TypeText},
				{Name: "age", Type: metadata.TypeInteger},
			},
			Relations: []metadata.Relation{
				{PropertyName: "posts", Cardinality: metadata.OneToMany, SourceTable: "user", TargetTable: "post", InversePropertyName: "author"},
			},
		},
		"post": {
			Name: "post",
			Columns: []metadata.Column{
				{Name: "_id", Type: metadata.TypeText, PrimaryKey: true},
				{Name: "title", Type: metadata.TypeText},
				{Name: "authorId", Type: metadata.TypeText},
			},
			Relations: []metadata.Relation{
				{PropertyName: "author", Cardinality: metadata.ManyToOne, SourceTable: "post", TargetTable: "user", ForeignKeyColumn: "authorId", InversePropertyName: "posts"},
			},
		},
	}}
	return metadata.New(src, "mongo")
}

func TestBuildMatchEqualityOnScalar(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(map[string]any{"name": "ada"})
	require.NoError(t, err)

	m, err := BuildMatch(user, f)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"name": "ada"}, m)
}

func TestBuildMatchComparisonOperator(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(map[string]any{"age": map[string]any{"_gte": float64(21)}})
	require.NoError(t, err)

	m, err := BuildMatch(user, f)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"age": bson.M{"$gte": int64(21)}}, m)
}

func TestBuildMatchAndOr(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(map[string]any{
		"_or": []any{
			map[string]any{"name": "ada"},
			map[string]any{"name": "lin"},
		},
	})
	require.NoError(t, err)

	m, err := BuildMatch(user, f)
	require.NoError(t, err)
	or, ok := m["$or"].(bson.A)
	require.True(t, ok)
	assert.Len(t, or, 2)
}

func TestBuildMatchOwnerRelationIDRewrite(t *testing.T) {
	view := schema()
	post, err := view.Table(context.Background(), "post")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(map[string]any{"author": map[string]any{"id": "u1"}})
	require.NoError(t, err)

	m, err := BuildMatch(post, f)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"authorId": bson.M{"$eq": "u1"}}, m)
}

func TestBuildMatchOwnerRelationMembership(t *testing.T) {
	view := schema()
	post, err := view.Table(context.Background(), "post")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(map[string]any{"author": map[string]any{"_in": []any{"u1", "u2"}}})
	require.NoError(t, err)

	m, err := BuildMatch(post, f)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"authorId": bson.M{"$in": bson.A{"u1", "u2"}}}, m)
}

func TestBuildMatchInverseRelationRejected(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(map[string]any{"posts": map[string]any{"_in": []any{"p1"}}})
	require.NoError(t, err)

	_, err = BuildMatch(user, f)
	require.Error(t, err)
}

func TestBuildMatchEmptyFilterReturnsEmptyMatch(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	f, err := queryspec.ParseFilter(nil)
	require.NoError(t, err)

	m, err := BuildMatch(user, f)
	require.NoError(t, err)
	assert.Empty(t, m)
}
