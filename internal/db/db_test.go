package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, `SELECT * FROM tasks WHERE id=? AND status=?`, `SELECT * FROM tasks WHERE id=? AND status=?`},
		{Postgres, `SELECT * FROM tasks WHERE id=? AND status=?`, `SELECT * FROM tasks WHERE id=$1 AND status=$2`},
		{Postgres, `UPDATE tasks SET note='why?' WHERE id=?`, `UPDATE tasks SET note='why?' WHERE id=$1`},
		{Postgres, `SELECT 1`, `SELECT 1`},
	}
	for _, tc := range cases {
		if got := Rebind(tc.dialect, tc.in); got != tc.want {
			t.Fatalf("Rebind(%s, %q) = %q, want %q", tc.dialect, tc.in, got, tc.want)
		}
	}
}

func TestConfigDialect(t *testing.T) {
	for driver, want := range map[string]Dialect{"": SQLite, "sqlite": SQLite, "postgres": Postgres, "pgx": Postgres} {
		got, err := Config{Driver: driver}.Dialect()
		if err != nil || got != want {
			t.Fatalf("driver %q: got %s, %v", driver, got, err)
		}
	}
	if _, err := (Config{Driver: "mysql"}).Dialect(); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("expected sqlite dialect, got %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".workgraph")); err != nil {
		t.Fatalf("workspace dir missing: %v", err)
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected missing DSN error")
	}
}
