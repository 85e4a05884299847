package turso

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// Options configures how the database handle is opened.
type Options struct {
	Ping bool
}

// NewDB opens a libsql database. Remote URLs (libsql://, https://) carry the
// auth token; file: URLs open a local database on a single connection so
// writers serialise instead of hitting SQLITE_BUSY.
func NewDB(databaseURL, authToken string) (*sql.DB, error) {
	return NewDBWithOptions(databaseURL, authToken, Options{Ping: true})
}

func NewDBWithOptions(databaseURL, authToken string, opts Options) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	local := IsLocal(databaseURL)
	connStr := databaseURL
	if !local && authToken != "" {
		connStr = databaseURL + "?authToken=" + authToken
	}

	db, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if local {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		// Turso closes idle Hrana streams aggressively, so stale pooled
		// connections surface as "stream not found".
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(0)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(0)
	}

	if opts.Ping {
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	return db, nil
}

// IsLocal reports whether databaseURL names a local file database.
func IsLocal(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "file:")
}

// IsStreamError checks if an error is a Turso "stream not found" error.
func IsStreamError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "stream not found")
}

// WithRetry executes a function with retry logic for Turso stream errors.
// It retries up to maxRetries times when encountering "stream not found" errors.
func WithRetry[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}

		if !IsStreamError(err) || attempt == maxRetries {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	return result, err
}

// retries is how often read paths retry on a stale stream.
const retries = 2

type rowScanner interface {
	Scan(dest ...any) error
}
