package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-evals/internal/platform/database"
)

//go:embed migrations
var migrationsFS embed.FS

var upPattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// LoadMigrations returns the embedded migrations for a dialect sorted by version.
func LoadMigrations(dialect string) ([]Migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}
	var out []Migration
	for _, entry := range entries {
		matches := upPattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		up, err := fs.ReadFile(migrationsFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		down, err := fs.ReadFile(migrationsFS, path.Join(dir, fmt.Sprintf("%s_%s.down.sql", matches[1], matches[2])))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read down migration %d: %w", version, err)
		}
		out = append(out, Migration{Version: version, Name: matches[2], UpSQL: string(up), DownSQL: string(down)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		dirty INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

// CurrentVersion returns the applied schema version and whether a migration was
// interrupted.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, bool, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, false, fmt.Errorf("create schema_migrations: %w", err)
	}
	var version, dirty int
	err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty == 1, nil
}

func setVersion(ctx context.Context, db *sql.DB, dialect database.Dialect, version int, dirty bool) error {
	dirtyInt := 0
	if dirty {
		dirtyInt = 1
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, dialect.Rebind(`INSERT INTO schema_migrations (version, dirty) VALUES ($1, $2)`), version, dirtyInt)
	return err
}

// Migrate applies every pending up migration and returns how many ran.
func Migrate(ctx context.Context, db *sql.DB, dialect database.Dialect, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	current, dirty, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return 0, fmt.Errorf("database is in dirty state at version %d", current)
	}
	migrations, err := LoadMigrations(dialect.Name())
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "name", m.Name, "dialect", dialect.Name())
		if err := setVersion(ctx, db, dialect, m.Version, true); err != nil {
			return applied, fmt.Errorf("set dirty flag: %w", err)
		}
		for _, stmt := range splitSQL(m.UpSQL) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("migration %d: %w\nSQL: %s", m.Version, err, stmt)
			}
		}
		if err := setVersion(ctx, db, dialect, m.Version, false); err != nil {
			return applied, fmt.Errorf("clear dirty flag: %w", err)
		}
		applied++
	}
	return applied, nil
}

func splitSQL(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
