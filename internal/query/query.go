// Package query runs the search pipeline: cache lookup, query embedding,
// candidate retrieval, hydration, recency weighting, diversity reranking and
// analytics logging.
package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mnemo/internal/cache"
	"mnemo/internal/config"
	"mnemo/internal/embedder"
	"mnemo/internal/store"
	"mnemo/internal/vecindex"
	"mnemo/internal/vector"
)

// ErrAccessDenied is returned when a hydrated chunk's path would escape the
// indexed root. The query is refused rather than silently narrowed.
var ErrAccessDenied = errors.New("query: result path outside indexed root")

// Result is one ranked search hit.
type Result struct {
	ChunkID   int64   `json:"-"`
	Path      string  `json:"path"`
	StartLine int     `json:"line"`
	EndLine   int     `json:"-"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
}

// candidate carries the working state of one hit through reranking.
type candidate struct {
	result Result
	vec    []float32
	mtime  time.Time
}

// Engine orchestrates one search at a time against a shared store, index and
// cache. The cache lives for the process, so repeat queries inside a
// long-lived session skip the embedding call entirely.
type Engine struct {
	store store.Store
	emb   embedder.Embedder
	index vecindex.Index
	cache *cache.Cache[[]Result]
	cfg   config.QueryConfig
	dim   int
	log   zerolog.Logger
	now   func() time.Time
}

func New(st store.Store, emb embedder.Embedder, idx vecindex.Index, cfg config.QueryConfig, dim int, log zerolog.Logger) *Engine {
	return &Engine{
		store: st,
		emb:   emb,
		index: idx,
		cache: cache.New[[]Result](cfg.CacheSize, cfg.CacheTTL()),
		cfg:   cfg,
		dim:   dim,
		log:   log,
		now:   time.Now,
	}
}

// Search returns the top-k ranked results for a natural-language query.
// Collaborator failures (embedder.ErrUnavailable, vecindex.ErrUnavailable,
// vector.ErrDimensionMismatch) abort the query and are returned to the
// caller, never swallowed into an empty result set.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	key := cache.Key(query, k)
	if cached, ok := e.cache.Get(key); ok {
		e.log.Debug().Str("query", query).Msg("cache hit")
		return cached, nil
	}

	qvec, err := e.emb.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(qvec) != e.dim {
		return nil, fmt.Errorf("query vector has %d dims, index expects %d: %w", len(qvec), e.dim, vector.ErrDimensionMismatch)
	}

	overfetch := k * e.cfg.OverfetchFactor
	matches, err := e.index.Query(ctx, qvec, overfetch)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	// An empty match set is still a completed query: it gets cached and
	// logged like any other, so repeats within the TTL skip the embedding.
	var results []Result
	if len(matches) > 0 {
		cands, err := e.hydrate(matches)
		if err != nil {
			return nil, err
		}
		e.applyRecencyBoost(cands)
		results = e.rerank(cands, k)
	}

	e.cache.Put(key, results)

	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Score
	}
	if err := e.store.AppendQueryLog(query, topScore, len(results)); err != nil {
		e.log.Warn().Err(err).Msg("failed to append query log")
	}
	return results, nil
}

// hydrate fetches chunk records for the index matches, expanding each
// canonical chunk into one candidate per recorded source location. Ids the
// index returned but the store no longer holds are stale and dropped.
func (e *Engine) hydrate(matches []vecindex.Match) ([]candidate, error) {
	ids := make([]int64, len(matches))
	scores := make(map[int64]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		scores[m.ID] = m.Score
	}

	chunks, err := e.store.GetChunksByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating results: %w", err)
	}
	aliases, err := e.store.AliasesByChunkIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("fetching aliases: %w", err)
	}

	var cands []candidate
	for _, ch := range chunks {
		if err := checkPath(ch.Path); err != nil {
			return nil, err
		}
		vec, err := vector.Decode(ch.Embedding, e.dim)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %d: %w", ch.ID, err)
		}
		score := clamp01(scores[ch.ID])
		cands = append(cands, candidate{
			result: Result{
				ChunkID:   ch.ID,
				Path:      ch.Path,
				StartLine: ch.StartLine,
				EndLine:   ch.EndLine,
				Score:     score,
				Text:      ch.Content,
			},
			vec:   vec,
			mtime: ch.FileMtime,
		})
		// Identical content in other files scores the same; it is the same
		// canonical vector.
		for _, loc := range aliases[ch.ID] {
			if err := checkPath(loc.Path); err != nil {
				return nil, err
			}
			cands = append(cands, candidate{
				result: Result{
					ChunkID:   ch.ID,
					Path:      loc.Path,
					StartLine: loc.StartLine,
					EndLine:   loc.EndLine,
					Score:     score,
					Text:      ch.Content,
				},
				vec:   vec,
				mtime: loc.FileMtime,
			})
		}
	}
	return cands, nil
}

// checkPath rejects stored paths that point outside the indexed root. Paths
// are stored relative to the root at index time, so anything absolute or
// parent-escaping is refused outright.
func checkPath(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrAccessDenied, path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrAccessDenied, path)
	}
	return nil
}

// applyRecencyBoost nudges scores of recently modified files upward. The
// boost decays linearly across the window and is capped small enough that it
// only reorders near-ties, never a large similarity gap. Reported scores
// stay within [0, 1].
func (e *Engine) applyRecencyBoost(cands []candidate) {
	window := e.cfg.RecencyWindow()
	if window <= 0 || e.cfg.RecencyBoost <= 0 {
		return
	}
	now := e.now()
	for i := range cands {
		age := now.Sub(cands[i].mtime)
		if age < 0 || age >= window {
			continue
		}
		boost := 1 + e.cfg.RecencyBoost*(1-age.Seconds()/window.Seconds())
		cands[i].result.Score = clamp01(cands[i].result.Score * boost)
	}
}

func clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// rerank selects up to k results by maximal marginal relevance: each pick
// maximizes lambda*relevance - (1-lambda)*maxSim(candidate, selected).
// Candidates from the same file count as fully similar; otherwise similarity
// is the cosine of their chunk vectors.
func (e *Engine) rerank(cands []candidate, k int) []Result {
	lambda := e.cfg.Lambda
	selected := make([]candidate, 0, k)
	remaining := append([]candidate(nil), cands...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestVal := 0.0
		for i, c := range remaining {
			penalty := 0.0
			for _, s := range selected {
				penalty = max(penalty, similarity(c, s))
			}
			val := lambda*c.result.Score - (1-lambda)*penalty
			if bestIdx == -1 || val > bestVal {
				bestIdx, bestVal = i, val
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	results := make([]Result, len(selected))
	for i, c := range selected {
		results[i] = c.result
	}
	return results
}

func similarity(a, b candidate) float64 {
	if a.result.Path == b.result.Path {
		return 1.0
	}
	if a.result.ChunkID == b.result.ChunkID {
		return 1.0
	}
	return vector.Cosine(a.vec, b.vec)
}
