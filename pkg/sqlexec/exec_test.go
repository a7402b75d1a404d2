package sqlexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniqueryio/polyspec/pkg/planner"
	"github.com/omniqueryio/polyspec/pkg/queryspec"
)

func TestDecodeRowPassesThroughScalarsAndDecodesRelationJSON(t *testing.T) {
	view := schema()
	post, err := view.Table(context.Background(), "post")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, post, []string{"id", "title", "author"}, nil)
	require.NoError(t, err)

	raw := map[string]any{
		"id":     int64(1),
		"title":  "hello",
		"author": `{"id": 7}`,
	}
	rec, err := decodeRow(plan, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec["id"])
	assert.Equal(t, "hello", rec["title"])
	assert.Equal(t, map[string]any{"id": float64(7)}, rec["author"])
}

func TestDecodeRowNullRelationStaysNil(t *testing.T) {
	view := schema()
	post, err := view.Table(context.Background(), "post")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, post, []string{"id", "author"}, nil)
	require.NoError(t, err)

	raw := map[string]any{"id": int64(1), "author": nil}
	rec, err := decodeRow(plan, raw)
	require.NoError(t, err)
	assert.Nil(t, rec["author"])
}

func TestDecodeRowCollectionAggDefaultsToEmptyArray(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "posts.id"}, nil)
	require.NoError(t, err)

	raw := map[string]any{"id": int64(1), "posts": nil}
	rec, err := decodeRow(plan, raw)
	require.NoError(t, err)
	assert.Equal(t, []queryspec.Record{}, rec["posts"])
}

func TestCollectIDsSkipsNil(t *testing.T) {
	rows := []queryspec.Record{{"id": int64(1)}, {"id": nil}, {"id": int64(3)}}
	ids := collectIDs(rows, "id")
	assert.Equal(t, []any{int64(1), int64(3)}, ids)
}

func TestDecodeJSONObjectParsesRow(t *testing.T) {
	rec, err := decodeJSONObject(`{"id": 1, "name": "tag"}`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), rec["id"])
	assert.Equal(t, "tag", rec["name"])
}
