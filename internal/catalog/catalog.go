// Package catalog implements C2: the transactional metadata store backing
// tables(name -> T) and shards(shard_id -> S), following the reference
// system's manifest catalog split between a single serialized write handle
// and a pooled read-only handle.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	errs "github.com/enterdb/enterdb/internal/errors"
	"github.com/enterdb/enterdb/pkg/types"
)

const (
	tableTableName = "enterdb_table"
	shardTableName = "enterdb_stab"
)

// wrapIfErr wraps err as a downstream backend error, or returns nil if err is nil.
func wrapIfErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errs.Downstreamf(errs.CodeBackendError, err, format, args...)
}

// Catalog persists table and shard descriptors in SQLite.
type Catalog struct {
	db     *sql.DB // single writer, serialized transactions
	readDB *sql.DB // pooled, read-only handle for dirty reads
	mu     sync.Mutex
}

// Open opens (creating if necessary) the catalog database at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "opening catalog write handle")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "opening catalog read handle")
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)

	if _, err := readDB.Exec("PRAGMA read_uncommitted = true"); err != nil {
		readDB.Close()
		db.Close()
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "setting read_uncommitted pragma")
	}

	c := &Catalog{db: db, readDB: readDB}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL
		) WITHOUT ROWID`, tableTableName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			shard_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			data BLOB NOT NULL
		) WITHOUT ROWID`, shardTableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_by_name ON %s (name)`, shardTableName, shardTableName),
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return errs.Downstreamf(errs.CodeBackendError, err, "initializing catalog schema")
		}
	}
	return nil
}

// TableExists implements validator.TableExistsChecker.
func (c *Catalog) TableExists(name string) (bool, error) {
	var count int
	err := c.readDB.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE name = ?", tableTableName), name).Scan(&count)
	if err != nil {
		return false, errs.Downstreamf(errs.CodeBackendError, err, "checking table existence")
	}
	return count > 0, nil
}

// CreateTable writes every shard row and only then the table row, in one
// transaction: a reader observing the table row is guaranteed to find all
// of its shard rows.
func (c *Catalog) CreateTable(ctx context.Context, t *types.Table, shards []*types.Shard) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "beginning create_table transaction")
	}
	defer tx.Rollback()

	for _, s := range shards {
		if err := putShardTx(ctx, tx, s); err != nil {
			return err
		}
	}
	if err := putTableTx(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "committing create_table transaction")
	}
	return nil
}

// PutTable is a standalone transactional write of the table row, used
// outside the create_table happy path (e.g. by test setup).
func (c *Catalog) PutTable(ctx context.Context, t *types.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "beginning put_table transaction")
	}
	defer tx.Rollback()
	if err := putTableTx(ctx, tx, t); err != nil {
		return err
	}
	return wrapIfErr(tx.Commit(), "committing put_table")
}

func putTableTx(ctx context.Context, tx *sql.Tx, t *types.Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "marshaling table %q", t.Name)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (name, data) VALUES (?, ?)", tableTableName),
		t.Name, data)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "writing table row %q", t.Name)
	}
	return nil
}

// PutShard writes a single shard row.
func (c *Catalog) PutShard(ctx context.Context, s *types.Shard) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "beginning put_shard transaction")
	}
	defer tx.Rollback()
	if err := putShardTx(ctx, tx, s); err != nil {
		return err
	}
	return wrapIfErr(tx.Commit(), "committing put_shard")
}

func putShardTx(ctx context.Context, tx *sql.Tx, s *types.Shard) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "marshaling shard %q", s.ShardID)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (shard_id, name, data) VALUES (?, ?, ?)", shardTableName),
		s.ShardID, s.Name, data)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "writing shard row %q", s.ShardID)
	}
	return nil
}

// GetTable does a dirty read of the read handle.
func (c *Catalog) GetTable(name string) (*types.Table, error) {
	var data []byte
	err := c.readDB.QueryRow(fmt.Sprintf("SELECT data FROM %s WHERE name = ?", tableTableName), name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf(errs.CodeNoTable, "name", "table %q not found", name)
	}
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "reading table %q", name)
	}
	var t types.Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "unmarshaling table %q", name)
	}
	return &t, nil
}

// GetShard does a dirty read of the read handle.
func (c *Catalog) GetShard(id string) (*types.Shard, error) {
	var data []byte
	err := c.readDB.QueryRow(fmt.Sprintf("SELECT data FROM %s WHERE shard_id = ?", shardTableName), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf(errs.CodeNoTable, "shard_id", "shard %q not found", id)
	}
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "reading shard %q", id)
	}
	var s types.Shard
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "unmarshaling shard %q", id)
	}
	return &s, nil
}

// ShardsForTable lists every shard row belonging to a table.
func (c *Catalog) ShardsForTable(name string) ([]*types.Shard, error) {
	rows, err := c.readDB.Query(fmt.Sprintf("SELECT data FROM %s WHERE name = ?", shardTableName), name)
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "listing shards for table %q", name)
	}
	defer rows.Close()

	var out []*types.Shard
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "scanning shard row for table %q", name)
		}
		var s types.Shard
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "unmarshaling shard row for table %q", name)
		}
		out = append(out, &s)
	}
	return out, wrapIfErr(rows.Err(), "iterating shards for table %q", name)
}

// AllTables lists every table row in the catalog, for use by the snapshot
// archiver rather than any C1-C6 operation.
func (c *Catalog) AllTables() ([]*types.Table, error) {
	rows, err := c.readDB.Query(fmt.Sprintf("SELECT data FROM %s", tableTableName))
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "listing all tables")
	}
	defer rows.Close()

	var out []*types.Table
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "scanning table row")
		}
		var t types.Table
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "unmarshaling table row")
		}
		out = append(out, &t)
	}
	return out, wrapIfErr(rows.Err(), "iterating all tables")
}

// AllShards lists every shard row in the catalog, for use by the snapshot
// archiver.
func (c *Catalog) AllShards() ([]*types.Shard, error) {
	rows, err := c.readDB.Query(fmt.Sprintf("SELECT data FROM %s", shardTableName))
	if err != nil {
		return nil, errs.Downstreamf(errs.CodeBackendError, err, "listing all shards")
	}
	defer rows.Close()

	var out []*types.Shard
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "scanning shard row")
		}
		var s types.Shard
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errs.Downstreamf(errs.CodeBackendError, err, "unmarshaling shard row")
		}
		out = append(out, &s)
	}
	return out, wrapIfErr(rows.Err(), "iterating all shards")
}

// WrappedShards lists every shard row whose canonical type rotates through
// buckets, the working set the bucket-rotation sweep checks each tick.
func (c *Catalog) WrappedShards() ([]*types.Shard, error) {
	all, err := c.AllShards()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Shard, 0, len(all))
	for _, s := range all {
		if s.Type.Canonical() == types.TypeOrderedWrapped {
			out = append(out, s)
		}
	}
	return out, nil
}

// UpdateBucketList performs a transactional read-modify-write of a shard's
// bucket list, the only field mutable after a shard is created.
func (c *Catalog) UpdateBucketList(ctx context.Context, shardID string, buckets []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "beginning update_bucket_list transaction")
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE shard_id = ?", shardTableName), shardID).Scan(&data)
	if err == sql.ErrNoRows {
		return errs.NotFoundf(errs.CodeNoTable, "shard_id", "shard %q not found", shardID)
	}
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "reading shard %q for bucket update", shardID)
	}
	var s types.Shard
	if err := json.Unmarshal(data, &s); err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "unmarshaling shard %q for bucket update", shardID)
	}
	s.Buckets = buckets
	if err := putShardTx(ctx, tx, &s); err != nil {
		return err
	}
	return wrapIfErr(tx.Commit(), "committing update_bucket_list")
}

// DeleteTable removes every shard row and then the table row, the reverse
// order of CreateTable: partial states must not persist after a successful
// delete.
func (c *Catalog) DeleteTable(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "beginning delete_table transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = ?", shardTableName), name); err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "deleting shards for table %q", name)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = ?", tableTableName), name); err != nil {
		return errs.Downstreamf(errs.CodeBackendError, err, "deleting table row %q", name)
	}
	return wrapIfErr(tx.Commit(), "committing delete_table")
}

// DeleteShard removes a single shard row.
func (c *Catalog) DeleteShard(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE shard_id = ?", shardTableName), id)
	return wrapIfErr(err, "deleting shard %q", id)
}

// Close closes both handles, read first, matching the reference system's
// shutdown order.
func (c *Catalog) Close() error {
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return errs.Downstreamf(errs.CodeBackendError, err, "closing catalog read handle")
	}
	return wrapIfErr(c.db.Close(), "closing catalog write handle")
}
