package lnk

import (
	"encoding/binary"
	"testing"

	"github.com/cursorbyte/binfabric/internal/bytesource"
)

// minimalHeader builds a valid 76-byte Shell Link header with every
// LinkFlags bit clear, followed by 8 zero bytes that begin with a
// zero-size ExtraData terminator, and nothing else.
func minimalHeader() []byte {
	b := make([]byte, 84)
	binary.LittleEndian.PutUint32(b[0:], 0x4C)
	copy(b[4:20], shellLinkCLSID)
	// LinkFlags, FileAttributes, three FILETIMEs, TargetSize, IconIndex,
	// ShowCommand, Hotkey all left zero.
	// b[76:84]: an 8-byte window starting with a zero size field, which
	// parseExtraData reads via Peek(8) and recognizes as the terminator.
	return b
}

func TestAnalyzeMinimalValidHeader(t *testing.T) {
	src := bytesource.FromBytes(minimalHeader())
	doc := Analyze(src)
	if !doc.Header.SizeOK {
		t.Errorf("expected SizeOK")
	}
	if !doc.Header.CLSIDOK {
		t.Errorf("expected CLSIDOK")
	}
	if doc.IDList != nil || doc.Name != "" {
		t.Errorf("expected no optional sections decoded when no flags are set")
	}
}

func TestAnalyzeRejectsBadSizeAndCLSID(t *testing.T) {
	b := minimalHeader()
	binary.LittleEndian.PutUint32(b[0:], 0x99)
	b[4] = 0xFF
	src := bytesource.FromBytes(b)
	doc := Analyze(src)
	if doc.Header.SizeOK {
		t.Errorf("expected SizeOK to be false")
	}
	if doc.Header.CLSIDOK {
		t.Errorf("expected CLSIDOK to be false")
	}
	if len(doc.Issues) < 2 {
		t.Errorf("expected at least two issues (size + CLSID), got %v", doc.Issues)
	}
}

func TestAnalyzeTruncatedInput(t *testing.T) {
	src := bytesource.FromBytes(make([]byte, 10))
	doc := Analyze(src)
	if len(doc.Issues) == 0 {
		t.Errorf("expected a truncation issue")
	}
}
