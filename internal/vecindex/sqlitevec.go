package vecindex

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVec implements Index on a sqlite-vec vec0 virtual table. It opens
// its own connection, so it can share a database file with the content store
// (WAL mode) while staying an opaque collaborator behind the Index interface.
type SQLiteVec struct {
	db  *sql.DB
	dim int
}

// OpenSQLite opens (or creates) the vec0 table in the database at dbPath.
// A failure to create the virtual table means the vec extension is missing
// or the file is corrupt, reported as ErrUnavailable.
func OpenSQLite(dbPath string, dim int) (*SQLiteVec, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, dbPath, err)
	}
	ddl := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			chunk_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		)`, dim)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create vec table: %v", ErrUnavailable, err)
	}
	return &SQLiteVec{db: db, dim: dim}, nil
}

func (v *SQLiteVec) Add(ctx context.Context, id int64, vec []float32) error {
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize vector for %d: %w", id, err)
	}
	// vec0 has no upsert; delete-then-insert keeps Add idempotent.
	if _, err := v.db.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", id); err != nil {
		return err
	}
	_, err = v.db.ExecContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", id, blob)
	return err
}

func (v *SQLiteVec) Remove(ctx context.Context, id int64) error {
	_, err := v.db.ExecContext(ctx, "DELETE FROM vec_chunks WHERE chunk_id = ?", id)
	return err
}

// Rebuild replaces the whole table inside one transaction, so a concurrent
// query sees the pre- or post-rebuild generation, never a half-built one.
func (v *SQLiteVec) Rebuild(ctx context.Context, entries []Entry) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		blob, err := sqlite_vec.SerializeFloat32(e.Vector)
		if err != nil {
			return fmt.Errorf("serialize vector for %d: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, blob); err != nil {
			return fmt.Errorf("insert vector for %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (v *SQLiteVec) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if len(vec) != v.dim {
		return nil, fmt.Errorf("query vector has dim %d, index has %d", len(vec), v.dim)
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}
	rows, err := v.db.QueryContext(ctx, `
		SELECT chunk_id, distance
		FROM vec_chunks
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var distance float64
		if err := rows.Scan(&m.ID, &distance); err != nil {
			return nil, err
		}
		// Cosine distance to similarity.
		m.Score = 1 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Count reports how many vectors the index holds, used to detect an index
// that exists but was never built.
func (v *SQLiteVec) Count(ctx context.Context) (int, error) {
	var n int
	err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vec_chunks").Scan(&n)
	return n, err
}

// Close closes the index connection.
func (v *SQLiteVec) Close() error {
	return v.db.Close()
}
