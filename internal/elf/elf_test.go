package elf

import (
	"encoding/binary"
	"testing"

	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/disasm"
)

// minimalELF64 builds a bare 64-byte ELF64 LSB header: e_type=ET_DYN,
// e_machine=EM_X86_64, no program/section headers.
func minimalELF64(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 64)
	copy(b, []byte{0x7F, 'E', 'L', 'F'})
	b[4] = 2 // ELFCLASS64
	b[5] = 1 // ELFDATA2LSB
	b[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(b[16:], 3)    // e_type = ET_DYN
	binary.LittleEndian.PutUint16(b[18:], 0x3E) // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(b[20:], 1)    // e_version
	return b
}

func TestAnalyzeMinimalELF64SharedObject(t *testing.T) {
	src := bytesource.FromBytes(minimalELF64(t))
	img := Analyze(src, disasm.Null{})
	if img.Ident.Class != 64 {
		t.Fatalf("expected class 64, got %d", img.Ident.Class)
	}
	if !img.Ident.DataLE {
		t.Fatalf("expected little-endian")
	}
	want := "ELF 64-bit LSB shared object, x86-64"
	if img.Label != want {
		t.Errorf("label = %q, want %q", img.Label, want)
	}
}

func TestAnalyzeRejectsBadMagic(t *testing.T) {
	src := bytesource.FromBytes([]byte("not an elf file at all"))
	img := Analyze(src, disasm.Null{})
	if len(img.Issues) == 0 {
		t.Errorf("expected an issue for bad magic")
	}
	if img.Label != "" {
		t.Errorf("expected no label for a rejected input, got %q", img.Label)
	}
}

func TestAnalyzeTruncatedHeader(t *testing.T) {
	full := minimalELF64(t)
	src := bytesource.FromBytes(full[:20]) // past magic+ident, short of full header
	img := Analyze(src, disasm.Null{})
	if len(img.Issues) == 0 {
		t.Errorf("expected a truncation issue")
	}
}
