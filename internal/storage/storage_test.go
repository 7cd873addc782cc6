package storage

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "trackspeed/pkg/logx"
)

var runAt = time.Date(2021, 1, 3, 12, 10, 5, 0, time.UTC)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "tape"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestFileStoreWritesTimestampedDocument(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "data")
	st, err := Open(Config{Driver: "file", Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	payload := []byte(`{"type":"result"}`)
	loc, err := st.SaveRaw(context.Background(), RawResult{At: runAt, Source: "ookla", Payload: payload})
	if err != nil {
		t.Fatalf("SaveRaw: %v", err)
	}
	if want := filepath.Join(dir, "20210103121005.json"); loc != want {
		t.Fatalf("location = %q, want %q", loc, want)
	}
	got, err := os.ReadFile(loc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the result file, found %d entries", len(entries))
	}
}

func TestFileStoreRequiresTimestamp(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.SaveRaw(context.Background(), RawResult{Payload: []byte("{}")}); err == nil {
		t.Fatal("expected error for zero timestamp")
	}
}

func TestSQLiteStoreInsertsRows(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "db", "raw.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		loc, err := st.SaveRaw(ctx, RawResult{At: runAt.Add(time.Duration(i) * time.Hour), Source: "simulate", Payload: []byte(`{"n":1}`)})
		if err != nil {
			t.Fatalf("SaveRaw: %v", err)
		}
		if !strings.HasPrefix(loc, path+"#") {
			t.Fatalf("location = %q", loc)
		}
	}

	db := st.(*sqliteStore).db
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_results WHERE source = 'simulate'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}
	var at string
	if err := db.QueryRowContext(ctx, `SELECT at FROM raw_results ORDER BY id LIMIT 1`).Scan(&at); err != nil {
		t.Fatalf("select: %v", err)
	}
	if at != "2021-01-03T12:10:05Z" {
		t.Fatalf("at = %q", at)
	}
}

func TestSQLiteReopenKeepsSchema(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "raw.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if _, err := st.SaveRaw(context.Background(), RawResult{At: runAt, Payload: []byte("{}")}); err != nil {
			t.Fatalf("SaveRaw #%d: %v", i, err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	t.Parallel()
	dsn := sqliteDSN("/var/lib/trackspeed/raw.db", 0)
	path, query, ok := strings.Cut(dsn, "?")
	if !ok || path != "/var/lib/trackspeed/raw.db" {
		t.Fatalf("dsn = %q", dsn)
	}
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	want := []string{"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"}
	got := q["_pragma"]
	if len(got) != len(want) {
		t.Fatalf("pragmas = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pragmas = %v, want %v", got, want)
		}
	}
}
