package vecindex

import (
	"context"
	"sort"
	"sync"

	"mnemo/internal/vector"
)

// Flat is an exact brute-force cosine index. It satisfies the Index contract
// for small corpora and is the implementation tests run against.
type Flat struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[int64]int
}

// NewFlat creates an empty flat index.
func NewFlat() *Flat {
	return &Flat{byID: make(map[int64]int)}
}

func (f *Flat) Add(_ context.Context, id int64, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.byID[id]; ok {
		f.entries[i].Vector = vec
		return nil
	}
	f.byID[id] = len(f.entries)
	f.entries = append(f.entries, Entry{ID: id, Vector: vec})
	return nil
}

func (f *Flat) Remove(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.byID[id]
	if !ok {
		return nil
	}
	last := len(f.entries) - 1
	f.entries[i] = f.entries[last]
	f.byID[f.entries[i].ID] = i
	f.entries = f.entries[:last]
	delete(f.byID, id)
	return nil
}

// Rebuild swaps in a fresh copy of the entries under the write lock, so
// queries observe either the old or the new generation.
func (f *Flat) Rebuild(_ context.Context, entries []Entry) error {
	fresh := make([]Entry, len(entries))
	copy(fresh, entries)
	byID := make(map[int64]int, len(fresh))
	for i, e := range fresh {
		byID[e.ID] = i
	}

	f.mu.Lock()
	f.entries = fresh
	f.byID = byID
	f.mu.Unlock()
	return nil
}

func (f *Flat) Query(_ context.Context, vec []float32, k int) ([]Match, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matches := make([]Match, 0, len(f.entries))
	for _, e := range f.entries {
		matches = append(matches, Match{ID: e.ID, Score: vector.Cosine(vec, e.Vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}
