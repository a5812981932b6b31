package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meshvault/meshvault/internal/config"
)

// sqliteDriver is the direct low-level backend: database/sql on top of
// mattn/go-sqlite3. Configuration directives travel in the DSN so every
// pooled connection carries them; mmap_size has no DSN form and is applied
// per acquisition.
type sqliteDriver struct {
	db   *sql.DB
	mmap int64
}

func openSQLite(cfg config.StorageConfig) (*sqliteDriver, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &sqliteDriver{db: db, mmap: cfg.MmapBytes}, nil
}

// sqliteDSN encodes the required per-connection directives:
// write-ahead journal, referential integrity, bounded busy wait, bounded
// page cache, and NORMAL synchronous durability. Transactions start
// immediate: operations read and then write inside one transaction, and a
// deferred-to-write upgrade under contention fails without consulting the
// busy handler.
func sqliteDSN(cfg config.StorageConfig) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeoutMS))
	q.Set("_cache_size", strconv.Itoa(-cfg.CacheKB))
	q.Set("_synchronous", "NORMAL")
	q.Set("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + q.Encode()
}

func (d *sqliteDriver) Name() string { return "sqlite" }

func (d *sqliteDriver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *sqliteDriver) Close() error { return d.db.Close() }

func (d *sqliteDriver) Begin(ctx context.Context) (Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire pooled connection: %w", err)
	}
	if d.mmap > 0 {
		// PRAGMA mmap_size cannot be set inside a transaction.
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA mmap_size=%d", d.mmap)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set mmap_size: %w", err)
		}
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteConn{conn: conn, tx: tx}, nil
}

// sqliteConn binds one pooled connection to one transaction. Commit and
// Rollback both return the connection to the pool.
type sqliteConn struct {
	conn *sql.Conn
	tx   *sql.Tx
	done bool
}

func (c *sqliteConn) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	res, err := c.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	var out Result
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	return out, nil
}

func (c *sqliteConn) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return c.tx.QueryContext(ctx, query, args...)
}

func (c *sqliteConn) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return sqlRow{row: c.tx.QueryRowContext(ctx, query, args...)}
}

func (c *sqliteConn) Commit() error {
	if c.done {
		return nil
	}
	c.done = true
	err := c.tx.Commit()
	c.conn.Close()
	return err
}

func (c *sqliteConn) Rollback() error {
	if c.done {
		return nil
	}
	c.done = true
	err := c.tx.Rollback()
	c.conn.Close()
	return err
}

// sqlRow adapts *sql.Row to the backend-neutral Row, mapping the driver's
// no-rows sentinel to ErrNoRows.
type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...interface{}) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}
