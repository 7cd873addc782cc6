// Package speedlog owns the structured measurement log: an append-only CSV file
// with a fixed header followed by one row per speed test run.
//
// Writer appends rows; ReadLast reads the trailing window of samples by
// scanning the file backwards, so the cost of an alert check does not grow
// with the size of the log.
package speedlog

import (
	"errors"
	"time"
)

// TimeLayout is the textual timestamp format of the date column (always UTC).
const TimeLayout = "2006/01/02 15:04:05"

// FileName is the log's file name inside the data directory.
const FileName = "speed.csv"

// Column names consumed by the alert pipeline.
const (
	ColumnDate     = "date"
	ColumnDownload = "speeds_download"
	ColumnUpload   = "speeds_upload"
)

// Header is the fixed positional schema written as the first line of a new log.
var Header = []string{
	ColumnDate,
	"ping",
	ColumnDownload,
	ColumnUpload,
	"client_ip",
	"client_isp",
	"server_host",
	"server_lat",
	"server_lon",
	"server_location",
	"server_country",
	"location_distance",
	"server_ping",
	"server_id",
}

var (
	// ErrRead reports that the log exists but could not be opened or read.
	ErrRead = errors.New("read measurement log")
	// ErrParse reports a row that does not match the schema, or a window
	// whose parsed row count differs from the requested count.
	ErrParse = errors.New("parse measurement log")
)

// Sample is one measurement row as consumed by the alert pipeline.
type Sample struct {
	Timestamp    time.Time
	DownloadMbps float64
	UploadMbps   float64
}
