package speedlog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// null is written for schema columns the measurement source does not provide.
const null = "null"

// Row is everything the writer records for one run.
type Row struct {
	Timestamp      time.Time
	PingMs         float64
	DownloadMbps   float64
	UploadMbps     float64
	ClientIP       string
	ISP            string
	ServerHost     string
	ServerLocation string
	ServerCountry  string
	ServerID       string
}

// Writer appends rows to the structured log, writing the header first when
// the file is new or empty.
//
// It is safe for concurrent use within one process.
type Writer struct {
	Path string

	mu sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{Path: path}
}

// Append writes one row. The header (for a new file) and the row are written
// with a single write call.
func (w *Writer) Append(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	f, err := os.OpenFile(w.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open measurement log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat measurement log: %w", err)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if st.Size() == 0 {
		_ = cw.Write(Header)
	}
	_ = cw.Write(row.record())
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode row: %w", err)
	}

	_, werr := f.Write(buf.Bytes())
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append row: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close measurement log: %w", cerr)
	}
	return nil
}

func (r Row) record() []string {
	id := r.ServerID
	if id == "" {
		id = null
	}
	return []string{
		r.Timestamp.UTC().Format(TimeLayout),
		strconv.FormatFloat(r.PingMs, 'f', -1, 64),
		strconv.FormatFloat(r.DownloadMbps, 'f', 2, 64),
		strconv.FormatFloat(r.UploadMbps, 'f', 2, 64),
		r.ClientIP,
		r.ISP,
		r.ServerHost,
		null,
		null,
		r.ServerLocation,
		r.ServerCountry,
		null,
		null,
		id,
	}
}
