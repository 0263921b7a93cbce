package index

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mnemo/internal/chunker"
	"mnemo/internal/embedder"
	"mnemo/internal/store"
	"mnemo/internal/vecindex"
)

// Config holds the indexer configuration.
type Config struct {
	Model       string
	Dimension   int
	BatchSize   int
	Concurrency int
	MaxChars    int
	Extensions  []string
}

// Stats is the run summary of one indexing pass.
type Stats struct {
	FilesScanned     int
	FilesSkipped     int
	FilesUpdated     int
	FilesRefreshed   int
	FilesDeleted     int
	ChunksAdded      int
	ChunksReused     int
	DuplicatesFolded int
	ChunksFailed     int
}

// changed reports whether the pass altered the live chunk set.
func (s *Stats) changed() bool {
	return s.FilesUpdated > 0 || s.FilesDeleted > 0 || s.ChunksAdded > 0
}

// Indexer drives an incremental indexing pass: file discovery, change
// detection, chunking, dedup, embedding, storage, and vector-index
// maintenance. The content store's live chunk set is the source of truth the
// vector index is rebuilt from.
type Indexer struct {
	store    store.Store
	embedder embedder.Embedder
	index    vecindex.Index
	chunker  *chunker.Chunker
	cfg      Config
	log      zerolog.Logger
}

// New wires an indexer from its collaborators.
func New(st store.Store, emb embedder.Embedder, idx vecindex.Index, cfg Config, log zerolog.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Indexer{
		store:    st,
		embedder: emb,
		index:    idx,
		chunker:  chunker.New(cfg.MaxChars),
		cfg:      cfg,
		log:      log,
	}
}

// Index runs one pass over the directory tree at root. force re-indexes
// every file regardless of recorded mtimes. Failures local to one file or
// one embed batch never abort the pass.
func (ix *Indexer) Index(ctx context.Context, root string, force bool) (*Stats, error) {
	// A model change invalidates every stored embedding.
	lastModel, err := ix.store.GetMeta("embedding_model")
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	if lastModel != "" && lastModel != ix.cfg.Model {
		ix.log.Warn().Str("from", lastModel).Str("to", ix.cfg.Model).
			Msg("embedding model changed, re-indexing everything")
		if err := ix.store.DeleteAll(); err != nil {
			return nil, fmt.Errorf("clear store: %w", err)
		}
		force = true
	}

	stats, err := ix.runPass(ctx, root, force)
	if err != nil {
		return stats, err
	}

	if err := ix.store.SetMeta("embedding_model", ix.cfg.Model); err != nil {
		return stats, fmt.Errorf("set meta: %w", err)
	}
	if err := ix.store.SetMeta("root", root); err != nil {
		return stats, fmt.Errorf("set meta: %w", err)
	}

	// The index is a derived cache: rebuild it from the store whenever the
	// live chunk set moved.
	if stats.changed() {
		rows, err := ix.store.AllEmbeddings(ix.cfg.Dimension)
		if err != nil {
			return stats, fmt.Errorf("load embeddings for rebuild: %w", err)
		}
		entries := make([]vecindex.Entry, len(rows))
		for i, r := range rows {
			entries[i] = vecindex.Entry{ID: r.ID, Vector: r.Vector}
		}
		if err := ix.index.Rebuild(ctx, entries); err != nil {
			return stats, fmt.Errorf("rebuild vector index: %w", err)
		}
		ix.log.Info().Int("vectors", len(entries)).Msg("vector index rebuilt")
	}

	return stats, nil
}
