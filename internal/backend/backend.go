// Package backend implements the ordered-backend external collaborator
// (§6.3): a SQLite-backed key-value store whose primary key ordering gives
// byte-lexicographic iteration directly from a SELECT ... ORDER BY, the same
// WITHOUT ROWID technique the reference system's partition builder uses to
// get an ordered embedded store without hand-rolling an LSM tree.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/pkg/types"
)

// OrderedBackend is the per-shard/per-bucket storage engine.
type OrderedBackend struct {
	path string
	db   *sql.DB
}

// Open opens a store at path. createIfMissing/errorIfExists mirror the
// create/open semantics the shard lifecycle needs at create-time vs.
// open-time.
func Open(path string, createIfMissing, errorIfExists bool) (*OrderedBackend, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && errorIfExists {
		return nil, errs.Conflictf(errs.CodeTableExists, "path", "backend store already exists at %q", path)
	}
	if !exists && !createIfMissing {
		return nil, errs.NotFoundf(errs.CodeNoTable, "path", "backend store does not exist at %q", path)
	}
	if !exists {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "creating directory for backend store %q", path)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "opening backend store %q", path)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (k BLOB PRIMARY KEY, v BLOB) WITHOUT ROWID`); err != nil {
		db.Close()
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "creating kv table in %q", path)
	}
	return &OrderedBackend{path: path, db: db}, nil
}

// Put writes a single key/value pair.
func (b *OrderedBackend) Put(ctx context.Context, key, value []byte) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (k, v) VALUES (?, ?)`, key, value)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "writing key to %q", b.path)
	}
	return nil
}

// ReadRangeBinary reads up to chunk items in [start, stop) ordered by dir,
// returning the items and either "complete" (cont == nil) or the next
// continuation key.
func (b *OrderedBackend) ReadRangeBinary(ctx context.Context, start, stop []byte, chunk int, dir types.Comparator) ([]types.RawKV, []byte, error) {
	order := "ASC"
	cmp := ">="
	stopCmp := "<"
	if dir == types.ComparatorDescending {
		order = "DESC"
		cmp = "<="
		stopCmp = ">"
	}

	// A nil start means "from the beginning of the keyspace" (in dir order):
	// the lower-bound condition is omitted entirely rather than binding a Go
	// nil []byte, which mattn/go-sqlite3 binds as SQL NULL — `k >= NULL`/
	// `k <= NULL` is NULL under SQLite's three-valued logic and would match
	// zero rows, silently breaking every nil-start range read.
	var conditions []string
	var args []any
	if start != nil {
		conditions = append(conditions, fmt.Sprintf("k %s ?", cmp))
		args = append(args, start)
	}
	if stop != nil {
		conditions = append(conditions, fmt.Sprintf("k %s ?", stopCmp))
		args = append(args, stop)
	}

	query := "SELECT k, v FROM kv"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY k %s LIMIT ?", order)
	args = append(args, chunk+1)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, errs.Downstreamf(errs.CodeBackendError, err, "reading range from %q", b.path)
	}
	defer rows.Close()

	var out []types.RawKV
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, nil, errs.Downstreamf(errs.CodeBackendError, err, "scanning range row from %q", b.path)
		}
		out = append(out, types.RawKV{Key: k, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errs.Downstreamf(errs.CodeBackendError, err, "iterating range from %q", b.path)
	}

	if len(out) > chunk {
		cont := out[chunk].Key
		return out[:chunk], cont, nil
	}
	return out, nil, nil
}

// ReadRangeNBinary reads exactly min(n, available) items starting at start.
func (b *OrderedBackend) ReadRangeNBinary(ctx context.Context, start []byte, n int, dir types.Comparator) ([]types.RawKV, error) {
	items, _, err := b.ReadRangeBinary(ctx, start, nil, n, dir)
	return items, err
}

// ApproximateSize reports the row count as a size proxy, matching the
// reference system's own "count rows, don't stat bytes" approach for
// backends where an exact byte size isn't cheaply available.
func (b *OrderedBackend) ApproximateSize(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&count)
	if err != nil {
		return 0, errs.Downstreamf(errs.CodeBackendError, err, "approximating size of %q", b.path)
	}
	return count, nil
}

// Close closes the underlying database handle.
func (b *OrderedBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "closing backend %q", b.path)
	}
	return nil
}

// DeleteDB closes the handle and removes the backing file, including its
// WAL/SHM sidecars.
func (b *OrderedBackend) DeleteDB() error {
	b.db.Close()
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(b.path + suffix); err != nil && !os.IsNotExist(err) {
			return errs.Downstreamf(errs.CodeBackendError, err, "deleting backend file %q", b.path+suffix)
		}
	}
	return nil
}

// Delete removes the store at path without requiring a caller-held handle,
// for shard/bucket lifecycle deletions where nothing has path already open.
func Delete(path string) error {
	b, err := Open(path, false, false)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return nil
		}
		return err
	}
	return b.DeleteDB()
}
