package hooks

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

func TestIsValidFieldPathScalarAndRelation(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	v := NewColumnValidator(view)
	ctx := context.Background()

	assert.True(t, v.IsValidFieldPath(ctx, user, "*"))
	assert.True(t, v.IsValidFieldPath(ctx, user, "id"))
	assert.True(t, v.IsValidFieldPath(ctx, user, "name"))
	assert.True(t, v.IsValidFieldPath(ctx, user, "posts"))
	assert.True(t, v.IsValidFieldPath(ctx, user, "posts.title"))
	assert.False(t, v.IsValidFieldPath(ctx, user, "bogus"))
	assert.False(t, v.IsValidFieldPath(ctx, user, "posts.bogus"))
	assert.False(t, v.IsValidFieldPath(ctx, user, "name.nope"))
}

func TestFilterFieldsDropsUnknownPaths(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	v := NewColumnValidator(view)
	filtered := v.FilterFields(context.Background(), user, []string{"id", "bogus", "posts.title", "posts.nope"})
	assert.Equal(t, []string{"id", "posts.title"}, filtered)
}

func TestValidateFieldsReturnsErrorListingInvalid(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	v := NewColumnValidator(view)
	err = v.ValidateFields(context.Background(), user, []string{"id", "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestFilterSortTermsKeepsOnlyScalarLeafPaths(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)

	v := NewColumnValidator(view)
	terms := []queryspec.SortTerm{
		{Path: []string{"name"}},
		{Path: []string{"posts", "title"}},
		{Path: []string{"posts"}},   // relation leaf, not sortable
		{Path: []string{"bogus"}},
	}
	filtered := v.FilterSortTerms(context.Background(), user, terms)
	require.Len(t, filtered, 2)
	assert.Equal(t, []string{"name"}, filtered[0].Path)
	assert.Equal(t, []string{"posts", "title"}, filtered[1].Path)
}
