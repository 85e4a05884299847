package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/emiliopalmerini/splitd/migrations"
)

// Migration represents a single database migration with up and down SQL.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Runner applies embedded migrations and tracks the schema version in
// schema_migrations. A migration that fails halfway leaves the dirty flag
// set and every later run refuses to proceed.
type Runner struct {
	db     *sql.DB
	source fs.FS
	logger *slog.Logger
}

func NewRunner(db *sql.DB, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{db: db, source: migrations.FS, logger: logger}
}

// RunAll runs all pending migrations on the provided database.
func RunAll(ctx context.Context, db *sql.DB) error {
	_, err := NewRunner(db, nil).Up(ctx)
	return err
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Version returns the current migration version and dirty state.
func (r *Runner) Version(ctx context.Context) (int, bool, error) {
	if err := r.ensureTable(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version, dirty int
	err := r.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty == 1, nil
}

func (r *Runner) setVersion(ctx context.Context, version int, dirty bool) error {
	dirtyInt := 0
	if dirty {
		dirtyInt = 1
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version > 0 || dirty {
		_, err := r.db.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirtyInt)
		return err
	}
	return nil
}

var upPattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// Load reads all embedded migration files sorted by version.
func (r *Runner) Load() ([]Migration, error) {
	var result []Migration

	err := fs.WalkDir(r.source, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matches := upPattern.FindStringSubmatch(path.Base(p))
		if matches == nil {
			return nil
		}

		version, _ := strconv.Atoi(matches[1])
		upSQL, err := fs.ReadFile(r.source, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		downPath := path.Join(path.Dir(p), fmt.Sprintf("%s_%s.down.sql", matches[1], matches[2]))
		downSQL, _ := fs.ReadFile(r.source, downPath)

		result = append(result, Migration{
			Version: version,
			Name:    matches[2],
			UpSQL:   string(upSQL),
			DownSQL: string(downSQL),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// Up applies every pending migration and returns how many ran.
func (r *Runner) Up(ctx context.Context) (int, error) {
	current, all, err := r.prepare(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, m := range all {
		if m.Version <= current {
			continue
		}
		if err := r.run(ctx, m, true); err != nil {
			return applied, err
		}
		applied++
	}
	if applied == 0 {
		r.logger.InfoContext(ctx, "no migrations to run", "version", current)
	}
	return applied, nil
}

// To migrates up or down until the schema is at target.
func (r *Runner) To(ctx context.Context, target int) error {
	if target < 0 {
		return fmt.Errorf("invalid target version %d", target)
	}
	current, all, err := r.prepare(ctx)
	if err != nil {
		return err
	}

	if target >= current {
		for _, m := range all {
			if m.Version <= current || m.Version > target {
				continue
			}
			if err := r.run(ctx, m, true); err != nil {
				return err
			}
		}
		return nil
	}

	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if m.Version > current || m.Version <= target {
			continue
		}
		if m.DownSQL == "" {
			return fmt.Errorf("no down migration for version %d", m.Version)
		}
		if err := r.run(ctx, m, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) prepare(ctx context.Context) (int, []Migration, error) {
	current, dirty, err := r.Version(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return 0, nil, fmt.Errorf("database is in dirty state at version %d", current)
	}
	all, err := r.Load()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return current, all, nil
}

func (r *Runner) run(ctx context.Context, m Migration, up bool) error {
	direction := "up"
	sqlContent := m.UpSQL
	target := m.Version
	if !up {
		direction = "down"
		sqlContent = m.DownSQL
		target = m.Version - 1
	}

	r.logger.InfoContext(ctx, "applying migration", "direction", direction, "version", m.Version, "name", m.Name)

	if err := r.setVersion(ctx, m.Version, true); err != nil {
		return fmt.Errorf("failed to set dirty flag: %w", err)
	}
	for _, stmt := range SplitSQL(sqlContent) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d %s: %w\nSQL: %s", m.Version, direction, err, stmt)
		}
	}
	if err := r.setVersion(ctx, target, false); err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	return nil
}

// SplitSQL splits a SQL script on semicolons and drops empty statements.
func SplitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
