// Package postgres opens Postgres through pgx's database/sql adapter.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

type Options struct {
	URL string
	// ApplicationName is reported in pg_stat_activity.
	ApplicationName string
	// StatementTimeout is enforced by the server; zero keeps its default.
	StatementTimeout time.Duration
	PingTimeout      time.Duration
}

func connConfig(opts Options) (*pgx.ConnConfig, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("postgres url is required")
	}
	if opts.StatementTimeout < 0 {
		return nil, errors.New("statement timeout must be >= 0")
	}
	cfg, err := pgx.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if name := strings.TrimSpace(opts.ApplicationName); name != "" {
		cfg.RuntimeParams["application_name"] = name
	}
	if opts.StatementTimeout > 0 {
		cfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	return cfg, nil
}

// Open returns a pool that has answered a ping. Pool limits are left to the caller.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	cfg, err := connConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}

	db := stdlib.OpenDB(*cfg)
	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}
