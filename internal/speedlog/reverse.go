package speedlog

import (
	"bytes"
	"fmt"
	"io"
)

// DefaultChunkSize is the read size used when walking a file backwards.
const DefaultChunkSize = 4096

// ReverseScanner yields the lines of a file from last to first.
//
// It reads fixed-size chunks from the end towards the start, so the memory it
// holds is one chunk plus the line currently being assembled, whatever the
// size of the file. A single trailing newline does not produce an empty last
// line, matching bufio.Scanner's forward behaviour. A trailing '\r' is dropped
// from every line.
type ReverseScanner struct {
	r     io.ReaderAt
	size  int64
	chunk int

	off     int64  // bytes in [0, off) have not been read yet
	store   []byte // backing array; chunks are read into the free space before head
	head    int
	buf     []byte // store[head:], read bytes not yet returned as lines
	line    []byte
	pending bool // buf still holds the first line of the file
	started bool
	err     error
}

// NewReverseScanner creates a scanner over the first size bytes of r.
// chunkSize <= 0 selects DefaultChunkSize.
func NewReverseScanner(r io.ReaderAt, size int64, chunkSize int) *ReverseScanner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReverseScanner{r: r, size: size, chunk: chunkSize}
}

// Scan advances to the previous line. It returns false at the start of the
// file or on a read error (see Err).
func (s *ReverseScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		if !s.init() {
			return false
		}
	}

	for {
		if i := bytes.LastIndexByte(s.buf, '\n'); i >= 0 {
			s.line = dropCR(s.buf[i+1:])
			s.buf = s.buf[:i]
			return true
		}
		if s.off == 0 {
			if !s.pending {
				return false
			}
			s.pending = false
			s.line = dropCR(s.buf)
			s.buf = nil
			return true
		}
		if !s.fill() {
			return false
		}
	}
}

// init positions the scanner before the optional trailing newline.
func (s *ReverseScanner) init() bool {
	s.off = s.size
	if s.size <= 0 {
		return false
	}
	s.pending = true

	var last [1]byte
	if _, err := s.r.ReadAt(last[:], s.size-1); err != nil && err != io.EOF {
		s.err = fmt.Errorf("read last byte: %w", err)
		return false
	}
	if last[0] == '\n' {
		s.off--
	}
	return true
}

// fill prepends the next chunk (moving towards the start of the file) to buf.
func (s *ReverseScanner) fill() bool {
	n := int(min(int64(s.chunk), s.off))
	s.off -= int64(n)
	if s.head < n {
		s.grow(n)
	}
	m, err := s.r.ReadAt(s.store[s.head-n:s.head], s.off)
	if m < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		s.err = fmt.Errorf("read at offset %d: %w", s.off, err)
		return false
	}
	s.head -= n
	s.buf = s.store[s.head : s.head+n+len(s.buf)]
	return true
}

// grow moves buf to the end of a new backing array with room for at least
// n+len(buf) more bytes in front of it. The size follows buf rather than the
// old array, so short lines keep memory at a few chunks while a long line
// is copied a logarithmic number of times.
func (s *ReverseScanner) grow(n int) {
	size := max(2*(len(s.buf)+n), 2*s.chunk)
	store := make([]byte, size)
	head := size - len(s.buf)
	copy(store[head:], s.buf)
	s.store, s.head = store, head
	s.buf = store[head:]
}

// Bytes returns the current line. The slice is only valid until the next Scan.
func (s *ReverseScanner) Bytes() []byte { return s.line }

// Text returns the current line as a string.
func (s *ReverseScanner) Text() string { return string(s.line) }

// Err returns the first read error encountered.
func (s *ReverseScanner) Err() error { return s.err }

func dropCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}
