package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"beacon/internal/repository"

	_ "modernc.org/sqlite"
)

// Store implements repository.ObjectStore using SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.ObjectStore = (*Store)(nil)

// New opens (and creates if needed) the database at dbPath. ":memory:" gives
// a private in-memory database.
func New(dbPath string) (*Store, error) {
	memory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")

	dsn := dbPath
	if !memory {
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		hash TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_objects_kind ON objects(kind, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Store saves data under its content hash
func (s *Store) Store(ctx context.Context, kind string, data []byte) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("object kind is required")
	}
	hash := repository.ContentHash(data)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (hash, kind, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, kind, data, toMillis(s.now()))
	if err != nil {
		return "", fmt.Errorf("failed to store %s object: %w", kind, err)
	}
	return hash, nil
}

// GetByHash loads one object
func (s *Store) GetByHash(ctx context.Context, hash string) (repository.Object, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, kind, data, created_at FROM objects WHERE hash = ?
	`, strings.ToLower(hash))

	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.Object{}, false, nil
	}
	if err != nil {
		return repository.Object{}, false, fmt.Errorf("failed to get object %s: %w", hash, err)
	}
	return obj, true, nil
}

// List returns objects of one kind, newest first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]repository.Object, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, kind, data, created_at FROM objects
		WHERE kind = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}
	defer rows.Close()

	var out []repository.Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating objects: %w", err)
	}
	return out, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}
