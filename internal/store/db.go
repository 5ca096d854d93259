// Package store provides the singleton SQLite connection and schema management
// for the runner's persisted state (spec §6.5).
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/malamar-dev/malamar/internal/logx"
)

//nolint:gochecknoglobals // intentional singleton for database access
var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	dbLogger     *logx.Logger
)

// Open initializes the singleton database connection against dbPath, creating
// the schema if this is a fresh file. Subsequent calls are no-ops and return nil.
func Open(dbPath string) error {
	var initErr error

	globalDBOnce.Do(func() {
		dbLogger = logx.NewLogger("store")

		db, err := sql.Open("sqlite", fmt.Sprintf(
			"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
			dbPath,
		))
		if err != nil {
			initErr = fmt.Errorf("open database: %w", err)
			return
		}

		if err := db.Ping(); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("ping database: %w", err)
			return
		}

		if err := applySchema(db); err != nil {
			_ = db.Close()
			initErr = fmt.Errorf("apply schema: %w", err)
			return
		}

		// A single SQLite connection is the simplest way to honor the
		// "one writer" constraint of the file format without a separate
		// write-serialization layer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		globalDB = db
		dbLogger.Info("database opened: %s", dbPath)
	})

	return initErr
}

// DB returns the singleton connection. Panics if Open has not been called.
func DB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("store.Open must be called before store.DB")
	}
	return globalDB
}

// Close closes the database connection. Safe to call during shutdown even if
// Open was never called.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("close database: %w", err)
		}
	}
	return nil
}

// IsOpen reports whether the singleton connection has been established.
func IsOpen() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}

// Reset closes the database and clears the singleton so a test can call Open
// again against a fresh path. Only ever used from tests.
func Reset() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		if err := globalDB.Close(); err != nil {
			return fmt.Errorf("close database during reset: %w", err)
		}
		globalDB = nil
	}
	globalDBOnce = sync.Once{}
	dbLogger = nil
	return nil
}
