// Package sqlite is the single-node durable store backend. All collections
// share one documents table keyed by (collection, id), with the owner in its
// own indexed column and the record kept as a JSON body.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

// DB is an open, migrated database shared by every collection store.
type DB struct {
	db *sql.DB
}

func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", core.ErrConfiguration)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; the busy timeout covers other processes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Options tune a single collection.
type Options struct {
	Timeout time.Duration
}

// Store is one collection in the documents table.
type Store[T core.Record] struct {
	db         *sql.DB
	collection string
	opts       Options
}

var (
	_ store.Store[core.Budget]    = (*Store[core.Budget])(nil)
	_ store.Modifier[core.Budget] = (*Store[core.Budget])(nil)
)

func NewStore[T core.Record](d *DB, collection string, opts Options) *Store[T] {
	return &Store[T]{db: d.db, collection: collection, opts: opts}
}

func (s *Store[T]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

func (s *Store[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// sort_key holds RecordTime in Unix microseconds, so ordering is numeric
	// whatever the offset or fractional precision of the stored timestamp.
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND user_id = ?
		 ORDER BY sort_key DESC, id ASC`,
		s.collection, ownerID)
	if err != nil {
		return nil, s.classify("list", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, s.classify("list", err)
		}
		var rec T
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("sqlite %s list: decode: %w", s.collection, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("list", err)
	}
	return out, nil
}

func (s *Store[T]) GetByID(ctx context.Context, id, ownerID string) (T, bool, error) {
	var zero T
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ? AND user_id = ?`,
		s.collection, id, ownerID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, s.classify("read", err)
	}
	var rec T
	if err := json.Unmarshal(body, &rec); err != nil {
		return zero, false, fmt.Errorf("sqlite %s read: decode: %w", s.collection, err)
	}
	return rec, true, nil
}

// Create rejects any id already present in the collection, whoever owns it.
func (s *Store[T]) Create(ctx context.Context, record T) (T, error) {
	var zero T
	if err := core.CheckRecord(record); err != nil {
		return zero, err
	}
	body, err := json.Marshal(record)
	if err != nil {
		return zero, fmt.Errorf("sqlite %s create: encode: %w", s.collection, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, user_id, body, sort_key) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO NOTHING`,
		s.collection, record.RecordID(), record.RecordOwner(), string(body), record.RecordTime().UnixMicro())
	if err != nil {
		return zero, s.classify("create", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return zero, s.classify("create", err)
	} else if n == 0 {
		return zero, fmt.Errorf("%w: id %s", core.ErrConflict, record.RecordID())
	}

	slog.DebugContext(ctx, "Document saved to SQLite",
		"collection", s.collection,
		"record_id", record.RecordID(),
		"owner_id", record.RecordOwner())
	return record, nil
}

func (s *Store[T]) Update(ctx context.Context, id string, record T) error {
	if err := store.CheckUpdate(id, record); err != nil {
		return err
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("sqlite %s update: encode: %w", s.collection, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, sort_key = ? WHERE collection = ? AND id = ? AND user_id = ?`,
		string(body), record.RecordTime().UnixMicro(), s.collection, id, record.RecordOwner())
	if err != nil {
		return s.classify("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.classify("update", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %s", core.ErrNotFound, id)
	}
	return nil
}

// Modify is an optimistic read-modify-write: the update only matches while the
// stored body is the one fn saw.
func (s *Store[T]) Modify(ctx context.Context, id, ownerID string, fn func(current T) (T, bool)) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < store.MaxModifyAttempts; attempt++ {
		var before string
		err := s.db.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND id = ? AND user_id = ?`,
			s.collection, id, ownerID).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
		}
		if err != nil {
			return false, s.classify("modify", err)
		}
		var current T
		if err := json.Unmarshal([]byte(before), &current); err != nil {
			return false, fmt.Errorf("sqlite %s modify: decode: %w", s.collection, err)
		}

		next, write := fn(current)
		if !write {
			return false, nil
		}
		if err := store.CheckModified(id, ownerID, next); err != nil {
			return false, err
		}
		body, err := json.Marshal(next)
		if err != nil {
			return false, fmt.Errorf("sqlite %s modify: encode: %w", s.collection, err)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE documents SET body = ?, sort_key = ?
			 WHERE collection = ? AND id = ? AND user_id = ? AND body = ?`,
			string(body), next.RecordTime().UnixMicro(), s.collection, id, ownerID, before)
		if err != nil {
			return false, s.classify("modify", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, s.classify("modify", err)
		}
		if n == 1 {
			return true, nil
		}
		slog.DebugContext(ctx, "Document changed during modify, retrying",
			"collection", s.collection, "record_id", id, "attempt", attempt+1)
	}
	return false, fmt.Errorf("%w: id %s kept changing during modify", core.ErrConflict, id)
}

func (s *Store[T]) Delete(ctx context.Context, id, ownerID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ? AND user_id = ?`,
		s.collection, id, ownerID); err != nil {
		return s.classify("delete", err)
	}
	return nil
}

func (s *Store[T]) classify(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("sqlite %s %s: %w: %w", s.collection, op, core.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("sqlite %s %s: %w", s.collection, op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return true
		}
	}
	return false
}
