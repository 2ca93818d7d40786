// Package store provides the persistent message cache for mailmirror.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	sqlitedrv "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/wesm/mailmirror/internal/store/migrations"
)

// Store is the durable message cache. It is safe for concurrent use; SQLite
// serializes conflicting writes across the pooled connections.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

// CacheError reports a storage failure. Every error returned by Store
// methods is a *CacheError.
type CacheError struct {
	Op  string
	Err error

	traced error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// Trace returns the error with the stack captured when it was raised.
func (e *CacheError) Trace() string {
	if e.traced == nil {
		return e.Error()
	}
	return eris.ToString(e.traced, true)
}

// Busy reports whether the failure was SQLite lock contention.
func (e *CacheError) Busy() bool {
	return isSQLiteError(e.Err, "database is locked") || isSQLiteError(e.Err, "database table is locked")
}

func cacheErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CacheError
	if errors.As(err, &ce) {
		return err
	}
	return &CacheError{Op: op, Err: err, traced: eris.Wrap(err, op)}
}

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlitedrv.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Open opens or creates the cache at dbPath and brings its schema up to date.
// A missing file is created, never reported as an error.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, cacheErr("open", fmt.Errorf("create db directory: %w", err))
	}

	db, err := sqlx.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, cacheErr("open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cacheErr("open", fmt.Errorf("ping database: %w", err))
	}

	s := &Store{db: db, dbPath: dbPath}
	if _, err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// DB returns the underlying handle for advanced queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, cacheErr("migrate", fmt.Errorf("migration source: %w", err))
	}

	driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, cacheErr("migrate", fmt.Errorf("migration driver: %w", err))
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, cacheErr("migrate", fmt.Errorf("migration instance: %w", err))
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, cacheErr("migrate", fmt.Errorf("migration up: %w", err))
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

// withTx executes fn within a transaction, rolling back if fn fails.
func (s *Store) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Stats holds cache statistics.
type Stats struct {
	MessageCount int64 `db:"message_count"`
	ThreadCount  int64 `db:"thread_count"`
	RunCount     int64 `db:"run_count"`
	DatabaseSize int64 `db:"-"`
}

// Stats returns cache statistics.
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.db.Get(&st, `
		SELECT
			(SELECT COUNT(*) FROM messages) AS message_count,
			(SELECT COUNT(DISTINCT thread_id) FROM messages) AS thread_count,
			(SELECT COUNT(*) FROM sync_runs) AS run_count`)
	if err != nil {
		return nil, cacheErr("stats", err)
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		st.DatabaseSize = info.Size()
	}
	return &st, nil
}
