package sqlite

import (
	"context"
	"strings"
	"testing"
)

func TestPathFromURL(t *testing.T) {
	cases := map[string]string{
		"sqlite:evals.db":             "evals.db",
		"sqlite:///var/lib/x.db":      "/var/lib/x.db",
		"file:/tmp/evals.db?mode=rwc": "/tmp/evals.db",
		":memory:":                    Memory,
		"sqlite::memory:":             Memory,
	}
	for raw, want := range cases {
		got, ok := PathFromURL(raw)
		if !ok || got != want {
			t.Fatalf("PathFromURL(%q)=%q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := PathFromURL("postgres://localhost/db"); ok {
		t.Fatalf("PathFromURL() accepted a postgres url")
	}
}

func TestRebind(t *testing.T) {
	got := Dialect{}.Rebind("SELECT a FROM t WHERE b = $1 AND c = $12 AND d = '$x'")
	want := "SELECT a FROM t WHERE b = ?1 AND c = ?12 AND d = '$x'"
	if got != want {
		t.Fatalf("Rebind()=%q, want %q", got, want)
	}
}

func TestOpenMemoryEnforcesConstraints(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: Memory})
	if err != nil {
		t.Fatalf("Open() err=%v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE parents (id TEXT PRIMARY KEY)`,
		`CREATE TABLE children (id TEXT PRIMARY KEY, parent_id TEXT NOT NULL REFERENCES parents (id))`,
		`INSERT INTO parents (id) VALUES ('p1')`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q err=%v", stmt, err)
		}
	}

	d := Dialect{}
	_, err = db.ExecContext(ctx, d.Rebind(`INSERT INTO parents (id) VALUES ($1)`), "p1")
	if !d.IsUniqueViolation(err) {
		t.Fatalf("duplicate insert err=%v, want unique violation", err)
	}
	_, err = db.ExecContext(ctx, d.Rebind(`INSERT INTO children (id, parent_id) VALUES ($1, $2)`), "c1", "missing")
	if !d.IsForeignKeyViolation(err) {
		t.Fatalf("orphan insert err=%v, want foreign key violation", err)
	}
	if d.IsUniqueViolation(err) {
		t.Fatalf("foreign key violation classified as unique")
	}
	if err == nil || !strings.Contains(strings.ToUpper(err.Error()), "FOREIGN KEY") {
		t.Fatalf("unexpected error text: %v", err)
	}
}
