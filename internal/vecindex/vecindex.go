// Package vecindex treats nearest-neighbor search as an opaque structure
// over (id, vector) pairs. The index is a derived cache of the content
// store: it is rebuilt from the store's live chunk set and may briefly hold
// stale ids, which readers drop at hydration time.
package vecindex

import (
	"context"
	"errors"
)

// ErrUnavailable means the index is missing or corrupt and must be rebuilt
// by running an indexing pass.
var ErrUnavailable = errors.New("vecindex: index unavailable, rebuild needed")

// Entry is one indexed vector.
type Entry struct {
	ID     int64
	Vector []float32
}

// Match is a query hit: chunk id plus cosine similarity, higher is better.
// Opposing vectors can score negative; the query pipeline clamps the scores
// it reports to [0, 1].
type Match struct {
	ID    int64
	Score float64
}

// Index is the approximate-nearest-neighbor contract. Rebuild replaces the
// whole index atomically: a concurrent query sees the old or the new
// generation, never a half-built one.
type Index interface {
	Add(ctx context.Context, id int64, vec []float32) error
	Remove(ctx context.Context, id int64) error
	Rebuild(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vec []float32, k int) ([]Match, error)
}
