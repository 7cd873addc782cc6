package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisabled is returned by a store without a backing database.
	ErrDisabled = errors.New("storage disabled")
	// ErrUnknownDriver rejects a storage.driver value.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Dir is used by the file driver, Path by the sqlite driver. If Driver is
// empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Dir         string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RawResult is the unparsed output of one measurement.
type RawResult struct {
	At      time.Time
	Source  string
	Payload []byte
}

// Store persists raw results.
type Store interface {
	// SaveRaw stores r and returns where it was written.
	SaveRaw(ctx context.Context, r RawResult) (string, error)
	Close() error
}

// FileTimeLayout names raw result files.
const FileTimeLayout = "20060102150405"
