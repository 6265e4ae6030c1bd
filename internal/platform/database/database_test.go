package database

import (
	"context"
	"testing"
	"time"
)

func TestDriver(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db": "postgres",
		"postgresql://localhost/db":   "postgres",
		"sqlite:evals.db":             "sqlite",
		"file:/tmp/evals.db":          "sqlite",
	}
	for url, want := range cases {
		got, err := Driver(url)
		if err != nil || got != want {
			t.Fatalf("Driver(%q)=%q err=%v, want %q", url, got, err, want)
		}
	}
	for _, bad := range []string{"", "mysql://localhost/db"} {
		if _, err := Driver(bad); err == nil {
			t.Fatalf("Driver(%q) expected error", bad)
		}
	}
}

func TestOpenSQLiteMemory(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite::memory:")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	db, dialect, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer db.Close()
	if dialect.Name() != "sqlite" {
		t.Fatalf("dialect = %s, want sqlite", dialect.Name())
	}
}

func TestConfigFromEnvPool(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:evals.db")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "4")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error for idle conns above open conns")
	}

	t.Setenv("DATABASE_MAX_IDLE_CONNS", "2")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Pool.MaxOpenConns != 4 || cfg.Pool.MaxIdleConns != 2 || cfg.Pool.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("pool=%+v", cfg.Pool)
	}
}
