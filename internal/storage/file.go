package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "trackspeed/pkg/logx"
)

// fileStore writes one JSON document per run. A second run within the same
// second replaces the first file.
type fileStore struct {
	dir string
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("storage directory is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log.With(logx.String("comp", "storage.file"))}, nil
}

func (s *fileStore) SaveRaw(ctx context.Context, r RawResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.At.IsZero() {
		return "", errors.New("raw result has no timestamp")
	}
	name := r.At.UTC().Format(FileTimeLayout) + ".json"
	path := filepath.Join(s.dir, name)

	// Write to a temp file and rename so readers never see a partial document.
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(r.Payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		s.log.Debug("chmod raw result failed", logx.Err(err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	s.log.Debug("raw result written", logx.String("path", path), logx.Int("bytes", len(r.Payload)))
	return path, nil
}

func (s *fileStore) Close() error { return nil }
