// Package rag implements the context retriever: a SQLite-backed store of
// documentation and source chunks, queried with term-overlap ranking. The
// index is built offline by the Indexer and read at triage time.
package rag

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	path    TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
`

// Chunk is one indexed snippet of a source document.
type Chunk struct {
	ID      int64
	Path    string
	Seq     int
	Content string
}

// Store persists chunks in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the chunk database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceDocument atomically swaps the chunks stored for one source path.
func (s *Store) ReplaceDocument(ctx context.Context, path string, contents []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, delArgs, err := sq.Delete("chunks").Where(sq.Eq{"path": path}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return fmt.Errorf("deleting stale chunks for %s: %w", path, err)
	}

	if len(contents) > 0 {
		ins := sq.Insert("chunks").Columns("path", "seq", "content")
		for i, content := range contents {
			ins = ins.Values(path, i, content)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting chunks for %s: %w", path, err)
		}
	}

	return tx.Commit()
}

// CandidateChunks returns chunks containing at least one of the given
// terms. The caller ranks them; this is only the SQL prefilter.
func (s *Store) CandidateChunks(ctx context.Context, terms []string, limit int) ([]Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	or := sq.Or{}
	for _, term := range terms {
		or = append(or, sq.Like{"lower(content)": "%" + term + "%"})
	}

	query, args, err := sq.Select("id", "path", "seq", "content").
		From("chunks").
		Where(or).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Path, &c.Seq, &c.Content); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}
