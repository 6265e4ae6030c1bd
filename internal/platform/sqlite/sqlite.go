// Package sqlite opens embedded SQLite databases through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const Memory = ":memory:"

type Config struct {
	// Path is a file path or ":memory:".
	Path        string
	BusyTimeout time.Duration
	PingTimeout time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("sqlite path is required")
	}
	if c.BusyTimeout < 0 {
		return errors.New("sqlite busy timeout must be >= 0")
	}
	if c.PingTimeout <= 0 {
		return errors.New("sqlite ping timeout must be positive")
	}
	return nil
}

// PathFromURL extracts the database path from sqlite:<path>, sqlite://<path> and
// file:<path> URLs.
func PathFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(raw, prefix) {
			path := strings.TrimPrefix(raw, prefix)
			if i := strings.IndexByte(path, '?'); i >= 0 {
				path = path[:i]
			}
			return path, path != ""
		}
	}
	if raw == Memory {
		return Memory, true
	}
	return "", false
}

func (c Config) dsn() string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	if c.Path != Memory {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Set("_time_format", "sqlite")
	return "file:" + c.Path + "?" + params.Encode()
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == Memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}
