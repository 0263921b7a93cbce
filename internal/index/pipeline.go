package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"sync"

	"mnemo/internal/chunker"
	"mnemo/internal/store"
	"mnemo/internal/vector"
	"mnemo/internal/walker"
)

// candidate is a chunk awaiting embedding, plus any duplicate locations
// discovered later in the same pass.
type candidate struct {
	chunk   store.Chunk
	aliases []store.Location
}

// runPass walks the tree, applies the per-file state machine, dedups chunks,
// embeds the novel ones in batches, and cleans up orphans.
func (ix *Indexer) runPass(ctx context.Context, root string, force bool) (*Stats, error) {
	stats := &Stats{}

	exts := make(map[string]bool, len(ix.cfg.Extensions))
	for _, e := range ix.cfg.Extensions {
		exts[e] = true
	}

	recorded, err := ix.store.FileMtimes()
	if err != nil {
		return stats, err
	}

	fileCh, walkErrCh := walker.Walk(root, exts)

	// Dedup state for this pass. inserted maps content hash to the canonical
	// chunk id already in the store; pendingByHash holds hashes queued for
	// embedding so later duplicates fold into them before insertion.
	inserted := make(map[string]int64)
	pendingByHash := make(map[string]*candidate)
	var queue []*candidate

	seen := make(map[string]bool)

	for fi := range fileCh {
		stats.FilesScanned++
		seen[fi.RelPath] = true

		prev, known := recorded[fi.RelPath]
		if known && !force && prev.Equal(fi.ModTime) {
			stats.FilesSkipped++
			continue
		}

		src, err := os.ReadFile(fi.Path)
		if err != nil {
			ix.log.Warn().Err(err).Str("file", fi.RelPath).Msg("read failed, skipping")
			continue
		}
		chunks := ix.chunker.Chunk(string(src))

		if known {
			// mtime moved but content may not have: an identical chunk set
			// just gets its recorded mtime refreshed, no embedding traffic.
			// A forced run skips the shortcut and re-embeds.
			if !force && ix.contentUnchanged(fi.RelPath, chunks) {
				if err := ix.store.TouchFile(fi.RelPath, fi.ModTime); err != nil {
					ix.log.Warn().Err(err).Str("file", fi.RelPath).Msg("mtime refresh failed")
					continue
				}
				stats.FilesRefreshed++
				continue
			}

			// Changed file: reuse embeddings for chunks whose content
			// survived, then clear the old rows and treat the file as new.
			var reuse map[string][]byte
			if !force {
				reuse = ix.reusableEmbeddings(fi.RelPath)
			}
			if _, err := ix.store.DeleteByFile(fi.RelPath); err != nil {
				ix.log.Warn().Err(err).Str("file", fi.RelPath).Msg("delete before re-index failed")
				continue
			}
			ix.ingestFile(fi, chunks, reuse, inserted, pendingByHash, &queue, stats)
			stats.FilesUpdated++
			continue
		}

		ix.ingestFile(fi, chunks, nil, inserted, pendingByHash, &queue, stats)
		stats.FilesUpdated++
	}

	if err := <-walkErrCh; err != nil {
		return stats, err
	}

	ix.embedAndStore(ctx, queue, inserted, stats)

	// Orphans: files in the store that no longer exist on disk.
	for path := range recorded {
		if seen[path] {
			continue
		}
		if _, err := ix.store.DeleteByFile(path); err != nil {
			ix.log.Warn().Err(err).Str("file", path).Msg("orphan cleanup failed")
			continue
		}
		stats.FilesDeleted++
		ix.log.Debug().Str("file", path).Msg("removed orphaned file")
	}

	return stats, nil
}

// ingestFile dedups a file's chunks against the store and the current pass,
// reusing prior embeddings where possible and queueing the rest.
func (ix *Indexer) ingestFile(
	fi walker.FileInfo,
	chunks []chunker.Chunk,
	reuse map[string][]byte,
	inserted map[string]int64,
	pendingByHash map[string]*candidate,
	queue *[]*candidate,
	stats *Stats,
) {
	for _, c := range chunks {
		hash := hashText(c.Text)
		loc := store.Location{
			Path:      fi.RelPath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			FileMtime: fi.ModTime,
		}

		// Canonical already inserted this pass.
		if id, ok := inserted[hash]; ok {
			ix.addAlias(id, loc, stats)
			continue
		}
		// Canonical queued but not yet embedded: fold into it.
		if p, ok := pendingByHash[hash]; ok {
			p.aliases = append(p.aliases, loc)
			stats.DuplicatesFolded++
			continue
		}
		// Canonical persisted in an earlier pass (possibly another file).
		if id, ok, err := ix.store.LookupHash(hash); err == nil && ok {
			ix.addAlias(id, loc, stats)
			continue
		}

		row := store.Chunk{
			Path:        loc.Path,
			StartLine:   loc.StartLine,
			EndLine:     loc.EndLine,
			Content:     c.Text,
			ContentHash: hash,
			FileMtime:   loc.FileMtime,
		}

		// Same content as before the file changed: keep the old embedding,
		// skip the gateway round-trip.
		if blob, ok := reuse[hash]; ok {
			row.Embedding = blob
			if ids, err := ix.store.InsertChunks([]store.Chunk{row}); err == nil {
				inserted[hash] = ids[0]
				stats.ChunksReused++
				continue
			}
		}

		p := &candidate{chunk: row}
		pendingByHash[hash] = p
		*queue = append(*queue, p)
	}
}

func (ix *Indexer) addAlias(id int64, loc store.Location, stats *Stats) {
	if err := ix.store.InsertAlias(id, loc); err != nil {
		ix.log.Warn().Err(err).Str("file", loc.Path).Int("line", loc.StartLine).Msg("alias insert failed")
		stats.ChunksFailed++
		return
	}
	stats.DuplicatesFolded++
}

// embedAndStore embeds queued candidates in bounded batches with bounded
// concurrency, then persists each batch with its embeddings attached. One
// failing batch never aborts the pass.
func (ix *Indexer) embedAndStore(ctx context.Context, queue []*candidate, inserted map[string]int64, stats *Stats) {
	if len(queue) == 0 {
		return
	}

	var batches [][]*candidate
	for start := 0; start < len(queue); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(queue))
		batches = append(batches, queue[start:end])
	}

	sem := make(chan struct{}, ix.cfg.Concurrency)
	var mu sync.Mutex // guards store writes, inserted, stats
	var wg sync.WaitGroup

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []*candidate) {
			defer wg.Done()
			defer func() { <-sem }()
			ix.processBatch(ctx, batch, &mu, inserted, stats)
		}(batch)
	}
	wg.Wait()
}

// processBatch embeds one batch, degrading to two half-batches on failure
// before giving up on the affected chunks for this pass.
func (ix *Indexer) processBatch(ctx context.Context, batch []*candidate, mu *sync.Mutex, inserted map[string]int64, stats *Stats) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.chunk.Content
	}

	embs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		if len(batch) > 1 {
			ix.log.Warn().Err(err).Int("batch", len(batch)).Msg("embed batch failed, retrying halves")
			half := len(batch) / 2
			ix.processBatch(ctx, batch[:half], mu, inserted, stats)
			ix.processBatch(ctx, batch[half:], mu, inserted, stats)
			return
		}
		ix.log.Error().Err(err).Str("file", batch[0].chunk.Path).Msg("embed failed, chunk dropped this pass")
		mu.Lock()
		stats.ChunksFailed += 1 + len(batch[0].aliases)
		mu.Unlock()
		return
	}

	mu.Lock()
	defer mu.Unlock()

	for i, c := range batch {
		c.chunk.Embedding = vector.Encode(embs[i])
		ids, err := ix.store.InsertChunks([]store.Chunk{c.chunk})
		if err != nil {
			// An integrity violation is fatal for this record only.
			if errors.Is(err, store.ErrIntegrityViolation) {
				ix.log.Warn().Err(err).Str("file", c.chunk.Path).Msg("duplicate location, chunk skipped")
			} else {
				ix.log.Error().Err(err).Str("file", c.chunk.Path).Msg("store insert failed")
			}
			stats.ChunksFailed += 1 + len(c.aliases)
			continue
		}
		inserted[c.chunk.ContentHash] = ids[0]
		stats.ChunksAdded++
		for _, loc := range c.aliases {
			ix.addAlias(ids[0], loc, stats)
		}
	}
}

// contentUnchanged reports whether a file's chunk set (hashes and line
// ranges) matches what the store already holds for it.
func (ix *Indexer) contentUnchanged(path string, chunks []chunker.Chunk) bool {
	existing, err := ix.store.GetChunksByFile(path)
	if err != nil || len(existing) != len(chunks) {
		return false
	}
	for i, c := range chunks {
		e := existing[i]
		if e.StartLine != c.StartLine || e.EndLine != c.EndLine || e.ContentHash != hashText(c.Text) {
			return false
		}
	}
	return true
}

// reusableEmbeddings captures a changed file's current embeddings keyed by
// content hash before its rows are deleted.
func (ix *Indexer) reusableEmbeddings(path string) map[string][]byte {
	existing, err := ix.store.GetChunksByFile(path)
	if err != nil {
		return nil
	}
	reuse := make(map[string][]byte, len(existing))
	for _, c := range existing {
		reuse[c.ContentHash] = c.Embedding
	}
	return reuse
}

// hashText is the content hash used for dedup: a pure function of the text.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
