// Package database opens the sftrader SQLite files and applies their schemas.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemas embed.FS

// Database names. Each has an embedded schema applied by Migrate.
const (
	NameMarket = "market" // observations, benchmark, prices
	NameCache  = "cache"  // covariance cache
	NameBroker = "broker" // paper broker account
	NameRuns   = "runs"   // rebalance run history
)

// DatabaseProfile selects durability and pool settings for a database
type DatabaseProfile string

const (
	// ProfileLedger is for the broker account: every write is fsynced
	ProfileLedger DatabaseProfile = "ledger"
	// ProfileCache is for data that can be rebuilt from the market database
	ProfileCache DatabaseProfile = "cache"
	// ProfileStandard is used for everything else
	ProfileStandard DatabaseProfile = "standard"
)

type profileSettings struct {
	pragmas []string
	maxOpen int
	maxIdle int
}

var profiles = map[DatabaseProfile]profileSettings{
	ProfileLedger: {
		pragmas: []string{"synchronous(FULL)", "auto_vacuum(NONE)"},
		maxOpen: 25,
		maxIdle: 5,
	},
	ProfileCache: {
		pragmas: []string{"synchronous(OFF)", "auto_vacuum(FULL)", "temp_store(MEMORY)"},
		maxOpen: 10,
		maxIdle: 2,
	},
	ProfileStandard: {
		pragmas: []string{"synchronous(NORMAL)", "auto_vacuum(INCREMENTAL)", "temp_store(MEMORY)"},
		maxOpen: 25,
		maxIdle: 5,
	},
}

// Applied to every profile. journal_mode stays first so WAL is set before
// anything touches the file.
var commonPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"wal_autocheckpoint(1000)",
	"cache_size(-64000)",
}

var checkpointModes = map[string]bool{
	"PASSIVE":  true,
	"FULL":     true,
	"RESTART":  true,
	"TRUNCATE": true,
}

// DB is one of the sftrader SQLite databases
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// Config holds database configuration
type Config struct {
	Path    string
	Profile DatabaseProfile // ProfileStandard when empty
	Name    string          // One of the Name* constants
}

// New opens the database at cfg.Path, creating its directory if needed
func New(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}
	settings, ok := profiles[cfg.Profile]
	if !ok {
		return nil, fmt.Errorf("unknown database profile %q for %s", cfg.Profile, cfg.Name)
	}

	// file: URIs are passed through untouched (in-memory databases)
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}
	conn.SetMaxOpenConns(settings.maxOpen)
	conn.SetMaxIdleConns(settings.maxIdle)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

// buildConnectionString appends the common and profile pragmas as _pragma
// query parameters understood by the modernc driver
func buildConnectionString(path string, profile DatabaseProfile) string {
	pragmas := append(append([]string{}, commonPragmas...), profiles[profile].pragmas...)
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection pool
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name
func (db *DB) Name() string {
	return db.name
}

// Profile returns the database profile
func (db *DB) Profile() DatabaseProfile {
	return db.profile
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Migrate applies the embedded schema for this database.
// Schemas use IF NOT EXISTS and are safe to apply on every start.
func (db *DB) Migrate() error {
	schema, err := schemaFor(db.name)
	if err != nil {
		return err
	}

	return WithTransaction(context.Background(), db.conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec(schema); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", db.name, err)
		}
		return nil
	})
}

func schemaFor(name string) (string, error) {
	switch name {
	case NameMarket, NameCache, NameBroker, NameRuns:
	default:
		return "", fmt.Errorf("no schema registered for database %q", name)
	}

	content, err := schemas.ReadFile("schemas/" + name + "_schema.sql")
	if err != nil {
		return "", fmt.Errorf("failed to read %s schema: %w", name, err)
	}
	return string(content), nil
}

// WithTransaction runs fn in a transaction. The transaction is committed when
// fn returns nil and rolled back when it fails or panics.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
				return
			}
			err = fmt.Errorf("transaction failed: %w", err)
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	return fn(tx)
}

// ExecContext executes a statement
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query returning rows
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query returning at most one row
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// HealthCheck pings the database and runs a full integrity check.
// Every problem SQLite reports is included in the error.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	rows, err := db.conn.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("failed to read integrity check for %s: %w", db.name, err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check failed for %s: %w", db.name, err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, strings.Join(problems, "; "))
	}
	return nil
}

// QuickCheck only pings the database
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint checkpoints the WAL file. mode is one of PASSIVE, FULL,
// RESTART or TRUNCATE (the default).
func (db *DB) WALCheckpoint(mode string) error {
	mode = strings.ToUpper(mode)
	if mode == "" {
		mode = "TRUNCATE"
	}
	if !checkpointModes[mode] {
		return fmt.Errorf("invalid WAL checkpoint mode %q", mode)
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(" + mode + ")"); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}

// Stats describes the size of a database
type Stats struct {
	SizeBytes     int64 // main file
	WALSizeBytes  int64
	PageCount     int64
	PageSize      int64
	FreelistCount int64 // unused pages VACUUM would reclaim
}

// GetStats reads file sizes and page counters
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{
		SizeBytes:    fileSize(db.path),
		WALSizeBytes: fileSize(db.path + "-wal"),
	}

	counters := []struct {
		pragma string
		dst    *int64
	}{
		{"page_count", &stats.PageCount},
		{"page_size", &stats.PageSize},
		{"freelist_count", &stats.FreelistCount},
	}
	for _, c := range counters {
		if err := db.conn.QueryRow("PRAGMA " + c.pragma).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to read %s of %s: %w", c.pragma, db.name, err)
		}
	}
	return stats, nil
}

// fileSize is 0 for files that do not exist (no WAL yet, in-memory databases)
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
