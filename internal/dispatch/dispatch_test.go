package dispatch

import (
	"testing"

	"github.com/cursorbyte/binfabric/internal/bytesource"
)

// TestEmptyZIP dispatches the minimal 22-byte EOCD-only archive spec.md §8
// test vector #1 describes: an empty ZIP with no central directory entries.
func TestEmptyZIP(t *testing.T) {
	eocd := []byte{
		'P', 'K', 0x05, 0x06, // signature
		0, 0, // disk number
		0, 0, // disk with CD start
		0, 0, // entries on this disk
		0, 0, // total entries
		0, 0, 0, 0, // CD size
		0, 0, 0, 0, // CD offset
		0, 0, // comment length
	}
	src := bytesource.FromBytes(eocd)
	result := Dispatch(src, Options{})
	if result.Analyzer != Zip {
		t.Fatalf("expected Zip, got %s (label %q)", result.Analyzer, result.Label)
	}
}

func TestELFMagicRoutesToElf(t *testing.T) {
	// The magic plus four identification bytes is too short for the real
	// ELF header, so the analyzer should report truncation issues but
	// still route to Elf.
	src := bytesource.FromBytes([]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	result := Dispatch(src, Options{})
	if result.Analyzer != Elf {
		t.Fatalf("expected Elf, got %s", result.Analyzer)
	}
}

func TestSQLiteMagicRoutesToSqlite(t *testing.T) {
	header := make([]byte, 100)
	copy(header, "SQLite format 3\x00")
	src := bytesource.FromBytes(header)
	result := Dispatch(src, Options{})
	if result.Analyzer != Sqlite {
		t.Fatalf("expected Sqlite, got %s", result.Analyzer)
	}
}

func TestUnrecognizedBinaryFallsBackToUnknown(t *testing.T) {
	junk := []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0x00, 0x01}
	src := bytesource.FromBytes(junk)
	result := Dispatch(src, Options{})
	if result.Analyzer != Unknown {
		t.Fatalf("expected Unknown, got %s", result.Analyzer)
	}
}

func TestPlainTextFallsBackToUnknownWithTextLabel(t *testing.T) {
	src := bytesource.FromBytes([]byte("just some ordinary ASCII text\n"))
	result := Dispatch(src, Options{})
	if result.Analyzer != Unknown || result.Label != "plain text" {
		t.Fatalf("expected Unknown/plain text, got %s/%q", result.Analyzer, result.Label)
	}
}

func TestAtHelper(t *testing.T) {
	b := []byte("Rar!\x1A\x07\x00")
	if !at(b, "Rar!\x1A\x07\x00", 0) {
		t.Errorf("expected RAR4 magic to match at offset 0")
	}
	if at(b, "Rar!\x1A\x07\x00", 1) {
		t.Errorf("shifted offset must not match")
	}
	if at(b, "too long to fit", 0) {
		t.Errorf("pattern longer than input must not match")
	}
}
