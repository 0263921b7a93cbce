package vecindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatQueryOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	f := NewFlat()
	require.NoError(t, f.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, f.Add(ctx, 2, []float32{0, 1}))
	require.NoError(t, f.Add(ctx, 3, []float32{0.9, 0.1}))

	matches, err := f.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].ID)
	assert.Equal(t, int64(3), matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestFlatAddReplacesExisting(t *testing.T) {
	ctx := context.Background()
	f := NewFlat()
	require.NoError(t, f.Add(ctx, 1, []float32{0, 1}))
	require.NoError(t, f.Add(ctx, 1, []float32{1, 0}))

	matches, err := f.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestFlatRemove(t *testing.T) {
	ctx := context.Background()
	f := NewFlat()
	require.NoError(t, f.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, f.Add(ctx, 2, []float32{0, 1}))
	require.NoError(t, f.Remove(ctx, 1))
	require.NoError(t, f.Remove(ctx, 42)) // absent id is a no-op

	matches, err := f.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(2), matches[0].ID)
}

func TestFlatRebuildReplacesEverything(t *testing.T) {
	ctx := context.Background()
	f := NewFlat()
	require.NoError(t, f.Add(ctx, 1, []float32{1, 0}))

	require.NoError(t, f.Rebuild(ctx, []Entry{
		{ID: 10, Vector: []float32{1, 0}},
		{ID: 11, Vector: []float32{0, 1}},
	}))

	matches, err := f.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(10), matches[0].ID)
}

func TestFlatQueryEmptyIndex(t *testing.T) {
	matches, err := NewFlat().Query(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
