package deepresolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
				{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true},
				{Name: "name", Type: metadata.TypeText},
			},
			Relations: []metadata.Relation{
				{PropertyName: "posts", Cardinality: metadata.OneToMany, SourceTable: "user", TargetTable: "post", InversePropertyName: "author"},
			},
		},
		"post": {
			Name: "post",
			Columns: []metadata.Column{
				{Name: "id", Type: metadata.TypeInteger, PrimaryKey: true},
				{Name: "title", Type: metadata.TypeText},
				{Name: "authorId", Type: metadata.TypeInteger},
			},
			Relations: []metadata.Relation{
				{PropertyName: "author", Cardinality: metadata.ManyToOne, SourceTable: "post", TargetTable: "user", ForeignKeyColumn: "authorId", InversePropertyName: "posts"},
			},
		},
	}}
	return metadata.New(src, "mysql")
}

func TestResolveAttachesNestedPageByParent(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	rows := []queryspec.Record{{"id": int64(1)}, {"id": int64(2)}}

	var seen []queryspec.Request
	find := func(_ context.Context, req queryspec.Request) (*queryspec.Result, error) {
		seen = append(seen, req)
		return &queryspec.Result{Data: []queryspec.Record{{"id": int64(99), "title": "x"}}}, nil
	}

	metaOut, warnings, err := Resolve(context.Background(), view, user, rows, map[string]*queryspec.Request{"posts": nil}, 4, find)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, metaOut)
	assert.Len(t, seen, 2)
	assert.Equal(t, "post", seen[0].TableName)

	for _, row := range rows {
		posts, ok := row["posts"].([]queryspec.Record)
		require.True(t, ok)
		require.Len(t, posts, 1)
		assert.Equal(t, "x", posts[0]["title"])
	}
}

func TestResolveUnknownRelationWarnsAndDefaultsEmpty(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	rows := []queryspec.Record{{"id": int64(1)}}
	find := func(_ context.Context, _ queryspec.Request) (*queryspec.Result, error) {
		t.Fatal("find should not be called for an unknown relation")
		return nil, nil
	}

	_, warnings, err := Resolve(context.Background(), view, user, rows, map[string]*queryspec.Request{"bogus": nil}, 4, find)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, []queryspec.Record{}, rows[0]["bogus"])
}

func TestResolveAggregatesMetaAcrossParents(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	rows := []queryspec.Record{{"id": int64(1)}, {"id": int64(2)}}
	find := func(_ context.Context, _ queryspec.Request) (*queryspec.Result, error) {
		n := int64(3)
		return &queryspec.Result{Data: []queryspec.Record{}, Meta: &queryspec.Meta{TotalCount: &n}}, nil
	}

	metaOut, _, err := Resolve(context.Background(), view, user, rows, map[string]*queryspec.Request{"posts": nil}, 4, find)
	require.NoError(t, err)
	require.Contains(t, metaOut, "posts")
	require.NotNil(t, metaOut["posts"].TotalCount)
	assert.Equal(t, int64(6), *metaOut["posts"].TotalCount)
}

func TestResolveNoDeepRelationsIsNoop(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	metaOut, warnings, err := Resolve(context.Background(), view, user, nil, nil, 4, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Empty(t, metaOut)
}
