package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniqueryio/polyspec/pkg/dialect"
	"github.com/omniqueryio/polyspec/pkg/metadata"
	"github.com/omniqueryio/polyspec/pkg/planner"
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
				{Name: "active", Type: metadata.TypeBoolean},
				{Name: "createdAt", Type: metadata.TypeDateTime},
				{Name: "settings", Type: metadata.TypeJSON},
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

func TestRecordCoercesMySQLBoolean(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "active"}, nil)
	require.NoError(t, err)

	rec := queryspec.Record{"id": int64(1), "active": int64(1)}
	require.NoError(t, Record(dialect.MySQL, plan, rec))
	assert.Equal(t, true, rec["active"])
}

func TestRecordParsesJSONColumn(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "settings"}, nil)
	require.NoError(t, err)

	rec := queryspec.Record{"id": int64(1), "settings": `{"theme":"dark"}`}
	require.NoError(t, Record(dialect.MySQL, plan, rec))
	assert.Equal(t, map[string]any{"theme": "dark"}, rec["settings"])
}

func TestRecordReformatsDateTimeToRFC3339(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "createdAt"}, nil)
	require.NoError(t, err)

	rec := queryspec.Record{"id": int64(1), "createdAt": "2024-01-02 03:04:05"}
	require.NoError(t, Record(dialect.MySQL, plan, rec))
	assert.Equal(t, "2024-01-02T03:04:05Z", rec["createdAt"])
}

func TestRecordDefaultsMissingCollectionToEmptySlice(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "posts.id"}, nil)
	require.NoError(t, err)

	rec := queryspec.Record{"id": int64(1)}
	require.NoError(t, Record(dialect.MySQL, plan, rec))
	assert.Equal(t, []queryspec.Record{}, rec["posts"])
}

func TestRecordDefaultsMissingSingularToNil(t *testing.T) {
	view := schema()
	post, err := view.Table(context.Background(), "post")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, post, []string{"id", "title", "author"}, nil)
	require.NoError(t, err)

	rec := queryspec.Record{"id": int64(1), "title": "hi"}
	require.NoError(t, Record(dialect.MySQL, plan, rec))
	assert.Nil(t, rec["author"])
}

func TestRecordRecursesIntoCollectionItems(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "posts.id", "posts.title"}, nil)
	require.NoError(t, err)

	rec := queryspec.Record{"id": int64(1), "posts": []any{
		map[string]any{"id": int64(1), "title": "hello"},
	}}
	require.NoError(t, Record(dialect.MySQL, plan, rec))
	posts, ok := rec["posts"].([]queryspec.Record)
	require.True(t, ok)
	require.Len(t, posts, 1)
	assert.Equal(t, "hello", posts[0]["title"])
}
