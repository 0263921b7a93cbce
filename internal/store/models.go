package store

import "time"

// Chunk is one indexed unit of content. The embedding is stored in its
// packed binary form and is always present on a live row.
type Chunk struct {
	ID          int64
	Path        string
	StartLine   int
	EndLine     int
	Content     string
	ContentHash string
	FileMtime   time.Time
	Embedding   []byte
	CreatedAt   time.Time
}

// Location is a source position of a chunk's content. Canonical chunks carry
// their own location; aliases record the other places identical content
// appears.
type Location struct {
	Path      string
	StartLine int
	EndLine   int
	FileMtime time.Time
}

// EmbeddingRow pairs a chunk id with its decoded vector, used to rebuild the
// vector index from the store.
type EmbeddingRow struct {
	ID     int64
	Vector []float32
}

// Stats reports aggregate store counts for diagnostics.
type Stats struct {
	Chunks  int
	Aliases int
	Files   int
}
