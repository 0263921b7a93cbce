package query

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/cache"
	"mnemo/internal/config"
	"mnemo/internal/embedder"
	"mnemo/internal/store"
	"mnemo/internal/vecindex"
	"mnemo/internal/vector"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	res, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

type engineFixture struct {
	store  *store.SQLiteStore
	dbPath string
	emb    *stubEmbedder
	index  *vecindex.Flat
	engine *Engine
}

func newEngineFixture(t *testing.T, qvec []float32) *engineFixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "query.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	emb := &stubEmbedder{vec: qvec}
	flat := vecindex.NewFlat()
	cfg := config.Default().Query
	eng := New(st, emb, flat, cfg, 3, zerolog.Nop())
	return &engineFixture{store: st, dbPath: dbPath, emb: emb, index: flat, engine: eng}
}

// addChunk persists a chunk and registers its vector in the index.
func (fx *engineFixture) addChunk(t *testing.T, path string, start int, vec []float32, text string, mtime time.Time) int64 {
	t.Helper()
	ids, err := fx.store.InsertChunks([]store.Chunk{{
		Path:        path,
		StartLine:   start,
		EndLine:     start,
		Content:     text,
		ContentHash: path + text, // uniqueness only matters per test
		FileMtime:   mtime,
		Embedding:   vector.Encode(vec),
	}})
	require.NoError(t, err)
	require.NoError(t, fx.index.Add(context.Background(), ids[0], vec))
	return ids[0]
}

func oldTime() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }

func TestSearchRanksByRelevance(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "near.md", 1, []float32{0.99, 0.1, 0}, "closest match", oldTime())
	fx.addChunk(t, "far.md", 1, []float32{0.2, 0.9, 0.1}, "distant match", oldTime())

	results, err := fx.engine.Search(context.Background(), "anything", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near.md", results[0].Path)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchEmptyIndexReturnsNoResults(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	results, err := fx.engine.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCacheHitSkipsEmbedding(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "a.md", 1, []float32{1, 0, 0}, "content", oldTime())

	first, err := fx.engine.Search(context.Background(), "My Query", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.emb.calls)

	second, err := fx.engine.Search(context.Background(), "  my   query ", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.emb.calls, "cache hit must not embed")
	assert.Equal(t, first, second)
}

func TestSearchCacheExpiryTriggersFreshEmbedding(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.engine.cache = cache.New[[]Result](8, 30*time.Millisecond)
	fx.addChunk(t, "a.md", 1, []float32{1, 0, 0}, "content", oldTime())

	_, err := fx.engine.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	_, err = fx.engine.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.emb.calls)
}

func TestSearchEmptyResultIsCachedAndLogged(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})

	results, err := fx.engine.Search(context.Background(), "nothing here", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, fx.emb.calls)

	// The empty result is a completed query: repeat within the TTL hits the
	// cache instead of embedding again.
	results, err = fx.engine.Search(context.Background(), "nothing here", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, fx.emb.calls, "cached empty result must not re-embed")

	db, err := sql.Open("sqlite3", fx.dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	row := db.QueryRow(`SELECT COUNT(*) FROM query_log WHERE query = ?`, "nothing here")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count, "the completed query is logged once; the repeat was a cache hit")
}

func TestBoostedScoreStaysWithinOne(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	// Perfect cosine match on a just-modified file: the recency boost would
	// push the raw score past 1 without the clamp.
	fx.addChunk(t, "fresh.md", 1, []float32{1, 0, 0}, "exact match", time.Now())

	results, err := fx.engine.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].Score, 1.0)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSearchEmbedderFailurePropagates(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.emb.err = embedder.ErrUnavailable
	fx.addChunk(t, "a.md", 1, []float32{1, 0, 0}, "content", oldTime())

	_, err := fx.engine.Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, embedder.ErrUnavailable)
}

func TestSearchDimensionMismatch(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0}) // 2 dims, engine expects 3
	fx.addChunk(t, "a.md", 1, []float32{1, 0, 0}, "content", oldTime())

	_, err := fx.engine.Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestSearchDropsStaleIndexEntries(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "live.md", 1, []float32{1, 0, 0}, "live", oldTime())
	// An id the store no longer holds.
	require.NoError(t, fx.index.Add(context.Background(), 9999, []float32{1, 0, 0}))

	results, err := fx.engine.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "live.md", results[0].Path)
}

func TestSearchExpandsAliasesWithEqualScores(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	id := fx.addChunk(t, "a.md", 3, []float32{1, 0, 0}, "shared paragraph", oldTime())
	require.NoError(t, fx.store.InsertAlias(id, store.Location{
		Path: "b.md", StartLine: 7, EndLine: 7, FileMtime: oldTime(),
	}))

	results, err := fx.engine.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	paths := []string{results[0].Path, results[1].Path}
	assert.ElementsMatch(t, []string{"a.md", "b.md"}, paths)
	assert.Equal(t, results[0].Text, results[1].Text)
}

func TestSearchRefusesEscapedPaths(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "../outside.md", 1, []float32{1, 0, 0}, "escaped", oldTime())

	_, err := fx.engine.Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestRecencyBoostBreaksTies(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "stale.md", 1, []float32{1, 0, 0}, "old note", oldTime())
	fx.addChunk(t, "fresh.md", 1, []float32{1, 0, 0}, "new note", time.Now())

	results, err := fx.engine.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fresh.md", results[0].Path)
}

func TestRecencyBoostNeverInvertsLargeGaps(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "relevant.md", 1, []float32{0.99, 0.1, 0}, "on topic", oldTime())
	fx.addChunk(t, "fresh-but-off.md", 1, []float32{0.3, 0.9, 0.2}, "off topic", time.Now())

	results, err := fx.engine.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "relevant.md", results[0].Path)
}

func TestMMRPrefersDistinctSources(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "big.md", 1, []float32{1, 0, 0}, "section one", oldTime())
	fx.addChunk(t, "big.md", 10, []float32{0.99, 0.05, 0}, "section two", oldTime())
	fx.addChunk(t, "big.md", 20, []float32{0.98, 0.1, 0}, "section three", oldTime())
	fx.addChunk(t, "other.md", 1, []float32{0.95, 0.3, 0.05}, "another source", oldTime())

	results, err := fx.engine.Search(context.Background(), "q", 4)
	require.NoError(t, err)
	require.Len(t, results, 4)

	otherPos, lastBigPos := -1, -1
	for i, r := range results {
		if r.Path == "other.md" {
			otherPos = i
		} else {
			lastBigPos = i
		}
	}
	require.NotEqual(t, -1, otherPos)
	assert.Less(t, otherPos, lastBigPos, "distinct source must outrank at least one near-duplicate")
}

func TestSearchAppendsQueryLog(t *testing.T) {
	fx := newEngineFixture(t, []float32{1, 0, 0})
	fx.addChunk(t, "a.md", 1, []float32{1, 0, 0}, "content", oldTime())

	_, err := fx.engine.Search(context.Background(), "logged query", 3)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", fx.dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	row := db.QueryRow(`SELECT COUNT(*) FROM query_log WHERE query = ?`, "logged query")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}
