package mongoexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/omniqueryio/polyspec/pkg/planner"
)

func TestBuildPipelineScalarOnlyProjectsAndSorts(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "name"}, nil)
	require.NoError(t, err)

	pipeline, err := BuildPipeline(plan, bson.M{"name": "ada"}, nil, 0, 10)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(pipeline), 3)
	assert.Equal(t, bson.E{Key: "$match", Value: bson.M{"name": "ada"}}, pipeline[0][0])

	last := pipeline[len(pipeline)-1]
	require.Len(t, last, 1)
	assert.Equal(t, "$project", last[0].Key)
	proj, ok := last[0].Value.(bson.M)
	require.True(t, ok)
	assert.Equal(t, 1, proj["name"])
}

func TestBuildPipelineOwnerRelationLooksUpAndUnwinds(t *testing.T) {
	view := schema()
	post, err := view.Table(context.Background(), "post")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, post, []string{"id", "title", "author.id", "author.name"}, nil)
	require.NoError(t, err)

	pipeline, err := BuildPipeline(plan, bson.M{}, nil, 0, 0)
	require.NoError(t, err)

	var sawLookup, sawUnwind bool
	for _, stage := range pipeline {
		for _, e := range stage {
			if e.Key == "$lookup" {
				sawLookup = true
				lookup, ok := e.Value.(bson.M)
				require.True(t, ok)
				assert.Equal(t, "authorId", lookup["localField"])
				assert.Equal(t, "user", lookup["from"])
			}
			if e.Key == "$unwind" {
				sawUnwind = true
			}
		}
	}
	assert.True(t, sawLookup, "expected a $lookup stage for the owner relation")
	assert.True(t, sawUnwind, "expected the owner relation lookup to be unwound")
}

func TestBuildPipelineCollectionRelationLooksUpWithoutUnwind(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "posts.id", "posts.title"}, nil)
	require.NoError(t, err)

	pipeline, err := BuildPipeline(plan, bson.M{}, nil, 0, 0)
	require.NoError(t, err)

	var lookupStageIdx = -1
	for i, stage := range pipeline {
		for _, e := range stage {
			if e.Key == "$lookup" {
				lookupStageIdx = i
				lookup, ok := e.Value.(bson.M)
				require.True(t, ok)
				assert.Equal(t, "post", lookup["from"])
				assert.Equal(t, "authorId", lookup["foreignField"])
			}
		}
	}
	require.NotEqual(t, -1, lookupStageIdx)
	if lookupStageIdx+1 < len(pipeline) {
		for _, e := range pipeline[lookupStageIdx+1] {
			assert.NotEqual(t, "$unwind", e.Key, "one-to-many relations must not be unwound")
		}
	}
}

func TestBuildPipelinePaginationAddsSkipAndLimit(t *testing.T) {
	view := schema()
	user, err := view.Table(context.Background(), "user")
	require.NoError(t, err)
	plan, err := planner.Plan(context.Background(), view, user, []string{"id", "name"}, nil)
	require.NoError(t, err)

	pipeline, err := BuildPipeline(plan, bson.M{}, nil, 2, 10)
	require.NoError(t, err)

	var sawSkip, sawLimit bool
	for _, stage := range pipeline {
		for _, e := range stage {
			if e.Key == "$skip" {
				sawSkip = true
				assert.Equal(t, int64(10), e.Value)
			}
			if e.Key == "$limit" {
				sawLimit = true
				assert.Equal(t, int64(10), e.Value)
			}
		}
	}
	assert.True(t, sawSkip)
	assert.True(t, sawLimit)
}
