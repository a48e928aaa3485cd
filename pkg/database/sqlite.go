package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultBusyTimeout is how long a queued writer waits for the write lock
const DefaultBusyTimeout = 5 * time.Second

// Config holds database configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// BusyTimeout bounds how long an immediate transaction waits behind
	// another writer before failing with SQLITE_BUSY
	BusyTimeout time.Duration
}

// DB wraps sql.DB with additional functionality
type DB struct {
	*sql.DB
	logger *zap.Logger
}

func (c Config) inMemory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

// normalize fills defaults and pins the pool to what SQLite can serve.
// Instance and committee writes are read-check-update sequences guarded by
// a version column; one writer connection keeps them from interleaving.
func (c Config) normalize() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 1
	}
	if c.inMemory() {
		// every connection would see its own empty database
		c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime = 1, 1, 0
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	return c
}

// DSN builds the go-sqlite3 connection string. Transactions begin
// IMMEDIATE so a second writer queues on the busy timeout at BEGIN instead
// of failing on lock upgrade halfway through a transition.
func (c Config) DSN() string {
	c = c.normalize()

	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	if !c.inMemory() {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}

	sep := "?"
	if strings.Contains(c.Path, "?") {
		sep = "&"
	}
	return "file:" + c.Path + sep + q.Encode()
}

// New opens the workflow database, creating its directory if needed
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	cfg = cfg.normalize()

	if !cfg.inMemory() {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var journal string
	if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !cfg.inMemory() && !strings.EqualFold(journal, "wal") {
		sqlDB.Close()
		return nil, fmt.Errorf("database %s is in %s journal mode, want wal", cfg.Path, journal)
	}

	logger.Info("Workflow database opened",
		zap.String("path", cfg.Path),
		zap.String("journal_mode", journal),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Duration("busy_timeout", cfg.BusyTimeout),
	)

	return &DB{DB: sqlDB, logger: logger}, nil
}

// WithTx runs fn inside one immediate transaction
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing workflow database")
	return db.DB.Close()
}
