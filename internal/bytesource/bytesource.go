// Package bytesource implements the asynchronous, seekable byte-range view
// over an input of known length that every analyzer parses through
// (spec.md §3 "Byte Source", §4.1).
//
// The teacher (elliotnunn-BeHierarchic) builds its filesystem tree over
// plain io.ReaderAt values threaded through internal/sectionreader for
// bounds-safe sub-ranging and internal/spinner for a block cache on top of
// expensive-to-reopen files. This package keeps both shapes but repoints
// them at spec.md's contract: a Source never panics, slices are stable
// snapshots, and a read past the end of data returns ErrOutOfRange, which
// Cursor turns into an ok=false result.
package bytesource

import (
	"errors"
	"io"

	"github.com/cursorbyte/binfabric/internal/sectionreader"
)

// ErrOutOfRange is returned by Slice when end exceeds Length(). Analyzers
// that read through a Cursor don't see this error directly — Cursor.Take
// and Cursor.Peek report it as ok=false, and the analyzer records the
// issue-log entry itself.
var ErrOutOfRange = errors.New("bytesource: slice out of range")

// Source is the seekable byte-range view spec.md §4.1 specifies: Length and
// a bounds-checked Slice. Implementations must return stable snapshots —
// the returned bytes never change after Slice returns (spec.md §3).
type Source interface {
	Length() int64
	Slice(start, end int64) ([]byte, error)
}

// memSource is the trivial in-memory Source, used directly in tests and as
// the common case when a caller has already buffered an input.
type memSource struct {
	data []byte
}

// FromBytes wraps an in-memory buffer as a Source. The caller must not
// mutate data afterwards — Slice hands out sub-slices of the same backing
// array, matching spec.md's "stable snapshot" invariant only if the caller
// cooperates, exactly as a raw []byte would.
func FromBytes(data []byte) Source {
	return &memSource{data: data}
}

func (m *memSource) Length() int64 { return int64(len(m.data)) }

func (m *memSource) Slice(start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > int64(len(m.data)) {
		return nil, ErrOutOfRange
	}
	return m.data[start:end], nil
}

// readerAtSource adapts any io.ReaderAt of known size into a Source,
// copying each requested range into a fresh, owned buffer so the "stable
// snapshot" invariant holds even if the underlying reader is later reused
// (the teacher's sectionreader.ReaderAt gives the same read-only, bounds-
// checked view; we route every read through it here).
type readerAtSource struct {
	r    io.ReaderAt
	size int64
}

// FromReaderAt wraps an io.ReaderAt of the given total size as a Source.
// Use Cached (blockcache.go) on top of this when the same ranges are
// re-read many times during bounded recursive descent (PE resource trees,
// ISO-9660 directory BFS, EBML SeekHead revisits).
func FromReaderAt(r io.ReaderAt, size int64) Source {
	return &readerAtSource{r: r, size: size}
}

func (s *readerAtSource) Length() int64 { return s.size }

func (s *readerAtSource) Slice(start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > s.size {
		return nil, ErrOutOfRange
	}
	n := end - start
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	sec := sectionreader.Section(s.r, start, n)
	read, err := sec.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}
