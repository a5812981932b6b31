package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/meshvault/meshvault/internal/config"
)

// gormDriver is the SQL-toolkit backend: gorm.io with the sqlite dialect.
// It speaks the same `?` placeholder convention as the low-level driver,
// so callers never branch on backend.
type gormDriver struct {
	db   *gorm.DB
	mmap int64
}

func openGorm(cfg config.StorageConfig) (*gormDriver, error) {
	db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg)), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap gorm connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MinConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return &gormDriver{db: db, mmap: cfg.MmapBytes}, nil
}

func (d *gormDriver) Name() string { return "gorm" }

func (d *gormDriver) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *gormDriver) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *gormDriver) Begin(ctx context.Context) (Conn, error) {
	tx := d.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	if d.mmap > 0 {
		if err := tx.Exec(fmt.Sprintf("PRAGMA mmap_size=%d", d.mmap)).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("set mmap_size: %w", err)
		}
	}
	return &gormConn{tx: tx}, nil
}

type gormConn struct {
	tx   *gorm.DB
	done bool
}

func (c *gormConn) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	res := c.tx.Exec(query, args...)
	if res.Error != nil {
		return Result{}, res.Error
	}
	out := Result{RowsAffected: res.RowsAffected}
	// gorm's Exec does not surface last-insert ids; ask the dialect when the
	// statement could have produced one.
	if strings.HasPrefix(strings.TrimSpace(strings.ToUpper(query)), "INSERT") {
		var id int64
		if err := c.tx.Raw("SELECT last_insert_rowid()").Row().Scan(&id); err == nil {
			out.LastInsertID = id
		}
	}
	return out, nil
}

func (c *gormConn) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := c.tx.Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *gormConn) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return gormRow{row: c.tx.Raw(query, args...).Row()}
}

func (c *gormConn) Commit() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.tx.Commit().Error
}

func (c *gormConn) Rollback() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.tx.Rollback().Error
}

type gormRow struct {
	row *sql.Row
}

func (r gormRow) Scan(dest ...interface{}) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}
