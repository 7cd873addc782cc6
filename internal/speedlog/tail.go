package speedlog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ReadLast returns the most recent n samples of the log at path, oldest first.
//
// ok is false when the log does not exist yet or holds fewer than n data rows;
// that is the normal state before enough runs have happened and is not an
// error. The header line is never counted as a sample. Any row among the last
// n that does not parse fails the whole read (wrapped ErrParse): a window is
// either complete or rejected.
func ReadLast(path string, n int) (samples []Sample, ok bool, err error) {
	if n < 1 {
		return nil, false, fmt.Errorf("speedlog: sample count must be at least 1, got %d", n)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: open %s: %w", ErrRead, path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header, err := readLine(br)
	if err == io.EOF && header == "" {
		return nil, false, nil
	}
	if err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("%w: read header of %s: %w", ErrRead, path, err)
	}

	available, err := countLines(br, n)
	if err != nil {
		return nil, false, fmt.Errorf("%w: count rows of %s: %w", ErrRead, path, err)
	}
	if available < n {
		return nil, false, nil
	}

	st, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("%w: stat %s: %w", ErrRead, path, err)
	}
	lines, err := lastLines(f, st.Size(), n)
	if err != nil {
		return nil, false, fmt.Errorf("%w: scan %s backwards: %w", ErrRead, path, err)
	}
	slices.Reverse(lines)

	samples, err = parseWindow(header, lines)
	if err != nil {
		return nil, false, err
	}
	if len(samples) != n {
		return nil, false, fmt.Errorf("%w: expected %d rows, parsed %d", ErrParse, n, len(samples))
	}
	return samples, true, nil
}

// lastLines collects the last n non-blank lines, newest first.
func lastLines(r io.ReaderAt, size int64, n int) ([]string, error) {
	rs := NewReverseScanner(r, size, DefaultChunkSize)
	lines := make([]string, 0, n)
	for len(lines) < n && rs.Scan() {
		if len(bytes.TrimSpace(rs.Bytes())) == 0 {
			continue
		}
		lines = append(lines, rs.Text())
	}
	return lines, rs.Err()
}

// countLines counts non-blank lines up to limit; it stops reading once the
// limit is reached.
func countLines(br *bufio.Reader, limit int) (int, error) {
	count := 0
	for count < limit {
		line, err := readLine(br)
		if strings.TrimSpace(line) != "" {
			count++
		}
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// readLine reads one line without its terminator. At the end of input it
// returns the remaining partial line together with io.EOF.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}

func parseWindow(header string, lines []string) ([]Sample, error) {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	rdr := csv.NewReader(strings.NewReader(b.String()))
	names, err := rdr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrParse, err)
	}
	idx, err := columnIndex(names)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(lines))
	for row := 1; ; row++ {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d of window: %w", ErrParse, row, err)
		}
		s, err := parseSample(record, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d of window: %w", ErrParse, row, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

type columns struct{ date, download, upload int }

func columnIndex(names []string) (columns, error) {
	pos := make(map[string]int, len(names))
	for i, name := range names {
		pos[strings.TrimSpace(name)] = i
	}
	var c columns
	for _, want := range []struct {
		name string
		dst  *int
	}{
		{ColumnDate, &c.date},
		{ColumnDownload, &c.download},
		{ColumnUpload, &c.upload},
	} {
		i, ok := pos[want.name]
		if !ok {
			return columns{}, fmt.Errorf("%w: header has no %q column", ErrParse, want.name)
		}
		*want.dst = i
	}
	return c, nil
}

func parseSample(record []string, c columns) (Sample, error) {
	ts, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(record[c.date]), time.UTC)
	if err != nil {
		return Sample{}, fmt.Errorf("column %s: %w", ColumnDate, err)
	}
	dl, err := strconv.ParseFloat(strings.TrimSpace(record[c.download]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("column %s: %w", ColumnDownload, err)
	}
	ul, err := strconv.ParseFloat(strings.TrimSpace(record[c.upload]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("column %s: %w", ColumnUpload, err)
	}
	return Sample{Timestamp: ts, DownloadMbps: dl, UploadMbps: ul}, nil
}
