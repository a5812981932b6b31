package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/fault"
)

var tracer = otel.Tracer("meshvault/storage")

// Engine owns connection acquisition, configuration verification, schema
// bootstrap, and self-repair for one store. Engines are plain values wired
// through dependency injection (or context binding, see context.go);
// never a process-wide mutable singleton.
type Engine struct {
	drv Driver
	cfg config.StorageConfig
}

// New opens the configured backend and verifies the store is reachable.
// A failure here is fatal at startup: the process must not accept requests
// against a store that failed bootstrap.
func New(cfg config.StorageConfig) (*Engine, error) {
	var (
		drv Driver
		err error
	)
	switch cfg.Backend {
	case "sqlite":
		drv, err = openSQLite(cfg)
	case "gorm":
		drv, err = openGorm(cfg)
	default:
		return nil, fault.New(fault.KindConnection, fault.CodeConnection,
			"unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fault.Connection(err, "open %s backend", cfg.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.BusyTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := drv.Ping(ctx); err != nil {
		drv.Close()
		return nil, fault.Connection(err, "ping %s backend", cfg.Backend)
	}

	log.Info().
		Str("backend", drv.Name()).
		Str("path", cfg.Path).
		Int("busy_timeout_ms", cfg.BusyTimeoutMS).
		Msg("storage engine opened")
	return &Engine{drv: drv, cfg: cfg}, nil
}

// Backend returns the active driver name.
func (e *Engine) Backend() string { return e.drv.Name() }

// Close releases the underlying pool.
func (e *Engine) Close() error { return e.drv.Close() }

// Acquire begins a transaction and verifies, not merely sets, the
// required configuration directives on the handle. A handle whose
// write-ahead mode or referential-integrity enforcement does not hold is
// rejected with a connection fault rather than silently degraded.
func (e *Engine) Acquire(ctx context.Context) (Conn, error) {
	conn, err := e.drv.Begin(ctx)
	if err != nil {
		return nil, fault.Connection(err, "acquire handle")
	}
	if err := e.verify(ctx, conn); err != nil {
		conn.Rollback()
		return nil, err
	}
	return conn, nil
}

// verify checks the directives every consistency guarantee downstream
// assumes: WAL journaling, foreign keys, the bounded busy wait, the page
// cache bound, and NORMAL synchronous durability.
func (e *Engine) verify(ctx context.Context, c Conn) error {
	var mode string
	if err := c.QueryRow(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fault.Connection(err, "read journal_mode")
	}
	if !strings.EqualFold(mode, "wal") {
		return fault.New(fault.KindConnection, fault.CodeConnection,
			"journal_mode is %q, need wal", mode)
	}

	var fk int
	if err := c.QueryRow(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		return fault.Connection(err, "read foreign_keys")
	}
	if fk != 1 {
		return fault.New(fault.KindConnection, fault.CodeConnection,
			"foreign_keys not enforced on handle")
	}

	var busy int
	if err := c.QueryRow(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
		return fault.Connection(err, "read busy_timeout")
	}
	if busy != e.cfg.BusyTimeoutMS {
		return fault.New(fault.KindConnection, fault.CodeConnection,
			"busy_timeout is %dms, configured %dms", busy, e.cfg.BusyTimeoutMS)
	}

	// Negative cache_size means a KB bound rather than a page count.
	var cache int
	if err := c.QueryRow(ctx, "PRAGMA cache_size").Scan(&cache); err != nil {
		return fault.Connection(err, "read cache_size")
	}
	if cache != -e.cfg.CacheKB {
		return fault.New(fault.KindConnection, fault.CodeConnection,
			"cache_size is %d, configured %dKB", cache, e.cfg.CacheKB)
	}

	var sync int
	if err := c.QueryRow(ctx, "PRAGMA synchronous").Scan(&sync); err != nil {
		return fault.Connection(err, "read synchronous")
	}
	if sync != 1 {
		return fault.New(fault.KindConnection, fault.CodeConnection,
			"synchronous is %d, need NORMAL", sync)
	}
	return nil
}

// WithTx runs fn inside one acquired handle and guarantees release on
// every exit path: commit on success, rollback on error or panic.
func (e *Engine) WithTx(ctx context.Context, name string, fn func(Conn) error) (err error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	conn, err := e.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			conn.Rollback()
			panic(p)
		}
		if err != nil {
			conn.Rollback()
			return
		}
		if cerr := conn.Commit(); cerr != nil {
			err = fault.Connection(cerr, "commit %s", name)
		}
	}()
	return fn(conn)
}

// Initialize bootstraps the schema. It is idempotent: the first call on a
// fresh store applies every migration as one atomic unit and records the
// version history; later calls apply only revisions above the recorded
// version, and are no-ops once the store is current. After applying, the
// schema is validated, with one scoped repair attempt for tables
// introduced by later revisions.
func (e *Engine) Initialize(ctx context.Context) error {
	err := e.WithTx(ctx, "storage.initialize", func(c Conn) error {
		return e.applyMigrations(ctx, c)
	})
	if err != nil {
		if fault.KindOf(err) == fault.KindConnection {
			return err
		}
		return fault.Schema(err, "apply migrations")
	}
	return e.validateWithRepair(ctx)
}

func (e *Engine) applyMigrations(ctx context.Context, c Conn) error {
	if _, err := c.Exec(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := recordedVersion(ctx, c)
	if err != nil {
		return err
	}
	if current > latestVersion() {
		// A newer deployment touched this store. Forward-compatible:
		// log, don't fail.
		log.Warn().
			Int("recorded", current).
			Int("known", latestVersion()).
			Msg("schema version ahead of this build")
		return nil
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, c, m); err != nil {
			return err
		}
		log.Info().
			Int("version", m.Version).
			Str("description", m.Description).
			Msg("schema migration applied")
	}
	return nil
}

func applyMigration(ctx context.Context, c Conn, m migration) error {
	for _, stmt := range m.Statements {
		if _, err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	_, err := c.Exec(ctx,
		`INSERT OR IGNORE INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	return nil
}

func recordedVersion(ctx context.Context, c Conn) (int, error) {
	var v sql.NullInt64
	if err := c.QueryRow(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// validateWithRepair validates the schema; when a table introduced by a
// later revision is missing, it re-applies just the owning migration,
// re-records the version, and re-validates once. A second failure is a
// hard schema fault, never a repair loop.
func (e *Engine) validateWithRepair(ctx context.Context) error {
	missing, err := e.validate(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	for _, table := range missing {
		m, ok := migrationOwning(table)
		if !ok || m.Version == 1 {
			// Baseline tables are never auto-repaired: their absence means
			// the store is corrupt, not merely behind.
			return fault.New(fault.KindSchema, fault.CodeSchema,
				"required table %q missing", table)
		}
		log.Warn().
			Str("table", table).
			Int("migration", m.Version).
			Msg("recoverable schema gap, re-applying migration")
		err := e.WithTx(ctx, "storage.repair", func(c Conn) error {
			return applyMigration(ctx, c, m)
		})
		if err != nil {
			return fault.Schema(err, "repair table %q", table)
		}
	}

	missing, err = e.validate(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fault.New(fault.KindSchema, fault.CodeSchema,
			"schema invalid after repair: missing %v", missing)
	}
	return nil
}

// validate returns the list of required tables that are absent. The
// version record is checked too: a version ahead of this build logs a
// warning but does not fail.
func (e *Engine) validate(ctx context.Context) ([]string, error) {
	var missing []string
	err := e.WithTx(ctx, "storage.validate", func(c Conn) error {
		for _, table := range requiredTables() {
			ok, err := tableExists(ctx, c, table)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, table)
			}
		}
		v, err := recordedVersion(ctx, c)
		if err != nil {
			return err
		}
		if v > latestVersion() {
			log.Warn().Int("recorded", v).Int("known", latestVersion()).
				Msg("schema version ahead of this build")
		}
		return nil
	})
	if err != nil {
		if fault.KindOf(err) != 0 {
			return nil, err
		}
		return nil, fault.Schema(err, "validate schema")
	}
	return missing, nil
}

func tableExists(ctx context.Context, c Conn, name string) (bool, error) {
	var n int
	err := c.QueryRow(ctx,
		`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// SchemaVersion returns the highest recorded schema revision.
func (e *Engine) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := e.WithTx(ctx, "storage.schema_version", func(c Conn) error {
		v, err := recordedVersion(ctx, c)
		version = v
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Health describes the engine's current condition.
type Health struct {
	Status      string                 `json:"status"` // "ok" or "degraded"
	Diagnostics map[string]interface{} `json:"diagnostics"`
}

// Health probes the store and reports ok/degraded with diagnostics.
// It never returns an error: a store that cannot be probed is degraded.
func (e *Engine) Health(ctx context.Context) Health {
	diag := map[string]interface{}{
		"backend": e.drv.Name(),
		"path":    e.cfg.Path,
	}
	err := e.WithTx(ctx, "storage.health", func(c Conn) error {
		var mode string
		if err := c.QueryRow(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			return err
		}
		diag["journal_mode"] = mode
		v, err := recordedVersion(ctx, c)
		if err != nil {
			return err
		}
		diag["schema_version"] = v
		return nil
	})
	if err != nil {
		diag["error"] = err.Error()
		return Health{Status: "degraded", Diagnostics: diag}
	}
	return Health{Status: "ok", Diagnostics: diag}
}
