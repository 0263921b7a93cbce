package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"mnemo/internal/vector"
)

// Error kinds surfaced by the store. Callers branch with errors.Is.
var (
	// ErrStorageUnavailable means the database could not be opened or created.
	ErrStorageUnavailable = errors.New("store: storage unavailable")
	// ErrIntegrityViolation means a write would break the uniqueness
	// invariant on (path, start_line, end_line) for a live chunk or alias.
	ErrIntegrityViolation = errors.New("store: integrity violation")
)

// Store provides persistence for chunks, dedup aliases, and query analytics.
type Store interface {
	// InsertChunks inserts chunks with their embeddings attached and returns
	// their ids. A chunk is never visible without its embedding.
	InsertChunks(chunks []Chunk) ([]int64, error)
	// GetChunksByIDs fetches chunks by id; missing ids are omitted.
	GetChunksByIDs(ids []int64) ([]Chunk, error)
	// GetChunksByFile returns all canonical chunks whose path matches.
	GetChunksByFile(path string) ([]Chunk, error)
	// DeleteByFile removes a file's chunks and aliases. Canonical chunks
	// whose content is still referenced from other files are relocated to a
	// surviving alias instead of deleted. Returns the number of rows removed.
	DeleteByFile(path string) (int, error)
	// DeleteByIDs removes chunks (and their aliases, by cascade) by id.
	DeleteByIDs(ids []int64) error
	// FileMtimes returns the recorded modification time per indexed file.
	FileMtimes() (map[string]time.Time, error)
	// LookupHash returns the canonical chunk id for a content hash.
	LookupHash(hash string) (int64, bool, error)
	// InsertAlias records an additional source location of a canonical chunk.
	InsertAlias(chunkID int64, loc Location) error
	// AliasesByChunkIDs returns extra locations keyed by canonical chunk id.
	AliasesByChunkIDs(ids []int64) (map[int64][]Location, error)
	// TouchFile refreshes the recorded mtime for a file's rows.
	TouchFile(path string, mtime time.Time) error
	// AllEmbeddings decodes every live embedding for an index rebuild.
	AllEmbeddings(dim int) ([]EmbeddingRow, error)
	// AppendQueryLog appends one analytics record. Never updated or deleted.
	AppendQueryLog(query string, topScore float64, resultCount int) error
	// Stats reports chunk/alias/file counts for diagnostics.
	Stats() (Stats, error)
	// DeleteAll removes every chunk and alias (query log is kept).
	DeleteAll() error
	// GetMeta returns a metadata value by key, or "" if not set.
	GetMeta(key string) (string, error)
	// SetMeta sets a metadata key-value pair.
	SetMeta(key, value string) error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes
// the schema. Failure to open or initialize reports ErrStorageUnavailable.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, dbPath, err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrStorageUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// wrapConstraint translates sqlite unique-constraint failures into the
// store's integrity error kind.
func wrapConstraint(err error, context string) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s: %v", ErrIntegrityViolation, context, err)
	}
	return fmt.Errorf("%s: %w", context, err)
}

func (s *SQLiteStore) InsertChunks(chunks []Chunk) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (path, start_line, end_line, content, content_hash, file_mtime, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return nil, fmt.Errorf("chunk %s:%d has no embedding", c.Path, c.StartLine)
		}
		res, err := stmt.Exec(c.Path, c.StartLine, c.EndLine, c.Content, c.ContentHash, c.FileMtime.UnixNano(), c.Embedding)
		if err != nil {
			return nil, wrapConstraint(err, fmt.Sprintf("insert chunk %s:%d", c.Path, c.StartLine))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

const chunkColumns = "id, path, start_line, end_line, content, content_hash, file_mtime, embedding, created_at"

func scanChunk(rows *sql.Rows) (Chunk, error) {
	var c Chunk
	var mtime int64
	err := rows.Scan(&c.ID, &c.Path, &c.StartLine, &c.EndLine, &c.Content, &c.ContentHash, &mtime, &c.Embedding, &c.CreatedAt)
	if err != nil {
		return Chunk{}, err
	}
	c.FileMtime = time.Unix(0, mtime)
	return c, nil
}

func (s *SQLiteStore) GetChunksByIDs(ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT "+chunkColumns+" FROM chunks WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the caller's id order; absent ids are silently omitted.
	out := make([]Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *SQLiteStore) GetChunksByFile(path string) ([]Chunk, error) {
	rows, err := s.db.Query(
		"SELECT "+chunkColumns+" FROM chunks WHERE path = ? ORDER BY start_line", path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteByFile(path string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed := 0

	// Alias locations inside the deleted file just vanish.
	res, err := tx.Exec("DELETE FROM chunk_aliases WHERE path = ?", path)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += int(n)
	}

	// Canonical chunks: relocate to a surviving alias when one exists in
	// another file, otherwise delete (cascading any remaining aliases).
	rows, err := tx.Query("SELECT id FROM chunks WHERE path = ?", path)
	if err != nil {
		return 0, err
	}
	var chunkIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		chunkIDs = append(chunkIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range chunkIDs {
		var aliasID int64
		var loc Location
		var mtime int64
		err := tx.QueryRow(`
			SELECT id, path, start_line, end_line, file_mtime
			FROM chunk_aliases WHERE chunk_id = ? ORDER BY id LIMIT 1`, id).
			Scan(&aliasID, &loc.Path, &loc.StartLine, &loc.EndLine, &mtime)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec("DELETE FROM chunks WHERE id = ?", id); err != nil {
				return 0, err
			}
			removed++
		case err != nil:
			return 0, err
		default:
			// Promote the alias: the chunk's canonical location becomes the
			// alias's, keeping shared content alive.
			if _, err := tx.Exec("DELETE FROM chunk_aliases WHERE id = ?", aliasID); err != nil {
				return 0, err
			}
			_, err = tx.Exec(
				"UPDATE chunks SET path = ?, start_line = ?, end_line = ?, file_mtime = ? WHERE id = ?",
				loc.Path, loc.StartLine, loc.EndLine, mtime, id)
			if err != nil {
				return 0, wrapConstraint(err, fmt.Sprintf("promote alias for chunk %d", id))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *SQLiteStore) DeleteByIDs(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec("DELETE FROM chunks WHERE id IN ("+placeholders+")", args...)
	return err
}

func (s *SQLiteStore) FileMtimes() (map[string]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT path, MAX(file_mtime) FROM (
			SELECT path, file_mtime FROM chunks
			UNION ALL
			SELECT path, file_mtime FROM chunk_aliases
		) GROUP BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var path string
		var mtime int64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, err
		}
		out[path] = time.Unix(0, mtime)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LookupHash(hash string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow("SELECT id FROM chunks WHERE content_hash = ? LIMIT 1", hash).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *SQLiteStore) InsertAlias(chunkID int64, loc Location) error {
	_, err := s.db.Exec(`
		INSERT INTO chunk_aliases (chunk_id, path, start_line, end_line, file_mtime)
		VALUES (?, ?, ?, ?, ?)`,
		chunkID, loc.Path, loc.StartLine, loc.EndLine, loc.FileMtime.UnixNano())
	return wrapConstraint(err, fmt.Sprintf("insert alias %s:%d", loc.Path, loc.StartLine))
}

func (s *SQLiteStore) AliasesByChunkIDs(ids []int64) (map[int64][]Location, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT chunk_id, path, start_line, end_line, file_mtime FROM chunk_aliases WHERE chunk_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]Location)
	for rows.Next() {
		var id int64
		var loc Location
		var mtime int64
		if err := rows.Scan(&id, &loc.Path, &loc.StartLine, &loc.EndLine, &mtime); err != nil {
			return nil, err
		}
		loc.FileMtime = time.Unix(0, mtime)
		out[id] = append(out[id], loc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TouchFile(path string, mtime time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE chunks SET file_mtime = ? WHERE path = ?", mtime.UnixNano(), path); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE chunk_aliases SET file_mtime = ? WHERE path = ?", mtime.UnixNano(), path); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) AllEmbeddings(dim int) ([]EmbeddingRow, error) {
	rows, err := s.db.Query("SELECT id, embedding FROM chunks ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := vector.Decode(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for chunk %d: %w", id, err)
		}
		out = append(out, EmbeddingRow{ID: id, Vector: vec})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendQueryLog(query string, topScore float64, resultCount int) error {
	_, err := s.db.Exec(
		"INSERT INTO query_log (query, top_score, result_count) VALUES (?, ?, ?)",
		query, topScore, resultCount)
	return err
}

func (s *SQLiteStore) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM chunk_aliases),
			(SELECT COUNT(DISTINCT path) FROM (
				SELECT path FROM chunks UNION SELECT path FROM chunk_aliases
			))`).Scan(&st.Chunks, &st.Aliases, &st.Files)
	return st, err
}

func (s *SQLiteStore) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM chunk_aliases"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
