package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSchema = `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL);`

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{DataDir: t.TempDir()}, testSchema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesDataDirAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	db, err := Open(Config{DataDir: dir}, testSchema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "stagehand.db")); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}

func TestOpen_SchemasAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(Config{DataDir: dir}, testSchema)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		_ = db.Close()
	}
}

func TestOpen_BadSchemaFails(t *testing.T) {
	_, err := Open(Config{DataDir: t.TempDir()}, "CREATE NONSENSE")
	if err == nil {
		t.Fatal("expected migration error")
	}
}

func TestOpen_OpenError(t *testing.T) {
	orig := openDB
	defer func() { openDB = orig }()
	openDB = func(driver, dsn string) (*sql.DB, error) {
		return nil, errors.New("no driver")
	}

	if _, err := Open(Config{DataDir: t.TempDir()}); err == nil {
		t.Fatal("expected open error")
	}
}

func TestInTx_Commits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx Conn) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`)
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	var v string
	if err := db.Conn().QueryRowContext(ctx, `SELECT v FROM kv WHERE k = 'a'`).Scan(&v); err != nil {
		t.Fatalf("select: %v", err)
	}
	if v != "1" {
		t.Errorf("v = %q, want 1", v)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx Conn) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('b', '2')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}

	var n int
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows = %d, want 0 after rollback", n)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Conn().ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('dup', '1')`); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := db.Conn().ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('dup', '2')`)
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
	if IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) should be false")
	}
}

func TestFormatParseTime_RoundTripsAndSorts(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	b := a.Add(time.Second)

	sa, sb := FormatTime(a), FormatTime(b)
	if sa >= sb {
		t.Errorf("formatted times should sort lexically: %s >= %s", sa, sb)
	}

	got, err := ParseTime(sa)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !got.Equal(a.Truncate(time.Millisecond)) {
		t.Errorf("ParseTime = %v, want %v", got, a)
	}

	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected parse error")
	}
}
