package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "trackspeed/pkg/logx"
)

//go:embed schema.sql
var schema string

const defaultBusyTimeout = 5 * time.Second

const insertRaw = `INSERT INTO raw_results(at, source, payload) VALUES(?, ?, ?) RETURNING id`

type sqliteStore struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
	log    logx.Logger
}

// sqliteDSN sets the connection pragmas through modernc's _pragma parameter
// so every pooled connection gets them.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema %s: %w", path, err)
	}
	insert, err := db.PrepareContext(ctx, insertRaw)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite prepare %s: %w", path, err)
	}
	return &sqliteStore{
		db:     db,
		insert: insert,
		path:   path,
		log:    log.With(logx.String("comp", "storage.sqlite")),
	}, nil
}

// SaveRaw inserts one row and returns "<path>#<id>".
func (s *sqliteStore) SaveRaw(ctx context.Context, r RawResult) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrDisabled
	}
	if r.At.IsZero() {
		return "", errors.New("raw result has no timestamp")
	}
	var source sql.NullString
	if src := strings.TrimSpace(r.Source); src != "" {
		source = sql.NullString{String: src, Valid: true}
	}
	var id int64
	err := s.insert.QueryRowContext(ctx, r.At.UTC().Format(time.RFC3339Nano), source, string(r.Payload)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert raw result: %w", err)
	}
	loc := fmt.Sprintf("%s#%d", s.path, id)
	s.log.Debug("raw result stored", logx.String("location", loc), logx.Int("bytes", len(r.Payload)))
	return loc, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return errors.Join(s.insert.Close(), s.db.Close())
}
