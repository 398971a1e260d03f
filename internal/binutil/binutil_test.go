package binutil

import (
	"testing"

	"github.com/cursorbyte/binfabric/internal/issuelog"
)

func TestU32Bounds(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	if v, ok := U32(b, 0, LE); !ok || v != 0x04030201 {
		t.Errorf("U32 LE: got %#x ok=%v", v, ok)
	}
	if v, ok := U32(b, 0, BE); !ok || v != 0x01020304 {
		t.Errorf("U32 BE: got %#x ok=%v", v, ok)
	}
	if _, ok := U32(b, 2, LE); ok {
		t.Errorf("U32 at offset 2 should fail (only 3 bytes remain)")
	}
	if _, ok := U32(b, -1, LE); ok {
		t.Errorf("U32 at negative offset should fail")
	}
}

func TestBothEndianU16(t *testing.T) {
	log := issuelog.New()
	// LE 0x0034 at o=0, BE 0x0034 at o=2: agree.
	b := []byte{0x34, 0x00, 0x00, 0x34}
	v, ok := BothEndianU16(b, 0, 0, "test field", log)
	if !ok || v != 0x34 {
		t.Fatalf("got %#x ok=%v", v, ok)
	}
	if log.Len() != 0 {
		t.Errorf("expected no issues on agreement, got %v", log.Snapshot())
	}

	log2 := issuelog.New()
	mismatch := []byte{0x34, 0x00, 0x00, 0x99}
	v, ok = BothEndianU16(mismatch, 0, 0x20, "test field", log2)
	if !ok || v != 0x34 {
		t.Fatalf("mismatch case: got %#x ok=%v, want LE value 0x34", v, ok)
	}
	if log2.Len() != 1 {
		t.Errorf("expected one mismatch issue, got %v", log2.Snapshot())
	}
}

func TestVInt7z(t *testing.T) {
	cases := []struct {
		name  string
		bytes []byte
		value uint64
		n     int
	}{
		{"single byte, high bit clear", []byte{0x7F}, 0x7F, 1},
		{"one extra byte", []byte{0x80 | 0x01, 0xAB}, 0x01AB, 2},
		{"zero", []byte{0x00}, 0, 1},
	}
	for _, c := range cases {
		v, n, ok := VInt7z(c.bytes, 0)
		if !ok || v != c.value || n != c.n {
			t.Errorf("%s: got value=%#x n=%d ok=%v, want value=%#x n=%d", c.name, v, n, ok, c.value, c.n)
		}
	}
	if _, _, ok := VInt7z([]byte{0x80}, 0); ok {
		t.Errorf("truncated VInt7z should fail")
	}
}

func TestVIntRAR5(t *testing.T) {
	// Single byte, top bit clear: value is the low 7 bits directly.
	v, n, ok := VIntRAR5([]byte{0x05}, 0)
	if !ok || v != 5 || n != 1 {
		t.Fatalf("single byte: got value=%d n=%d ok=%v", v, n, ok)
	}
	// Two bytes: 0x80|0x01 then 0x02 -> 0x01 | (0x02 << 7) = 257.
	v, n, ok = VIntRAR5([]byte{0x81, 0x02}, 0)
	if !ok || v != 257 || n != 2 {
		t.Fatalf("two bytes: got value=%d n=%d ok=%v", v, n, ok)
	}
	if _, _, ok := VIntRAR5([]byte{0x80}, 0); ok {
		t.Errorf("truncated VIntRAR5 should fail")
	}
}

func TestVIntEBML(t *testing.T) {
	// 0x81 = 1000 0001: 1-byte length, marker stripped leaves value 1.
	v, n, ok := VIntEBML([]byte{0x81}, 0, true)
	if !ok || v != 1 || n != 1 {
		t.Fatalf("1-byte stripped: got value=%d n=%d ok=%v", v, n, ok)
	}
	// Same byte with marker kept: value is 0x81 itself.
	v, n, ok = VIntEBML([]byte{0x81}, 0, false)
	if !ok || v != 0x81 || n != 1 {
		t.Fatalf("1-byte unstripped: got value=%#x n=%d ok=%v", v, n, ok)
	}
	// 0x40 0x01: 2-byte length (leading zero bit then marker), stripped value 1.
	v, n, ok = VIntEBML([]byte{0x40, 0x01}, 0, true)
	if !ok || v != 1 || n != 2 {
		t.Fatalf("2-byte stripped: got value=%d n=%d ok=%v", v, n, ok)
	}
	if _, _, ok := VIntEBML([]byte{0x00}, 0, true); ok {
		t.Errorf("all-zero first byte should fail (no marker bit found)")
	}
}

func TestEBMLUnknownSize(t *testing.T) {
	// 1-byte data size, all 7 data bits set: 0x7F once marker stripped.
	v, n, ok := VIntEBML([]byte{0xFF}, 0, true)
	if !ok {
		t.Fatal("decode failed")
	}
	if !EBMLUnknownSize(v, n) {
		t.Errorf("expected 0xFF (1-byte) to be the unknown-size sentinel")
	}
	if EBMLUnknownSize(0, 1) {
		t.Errorf("zero value must not be treated as unknown-size")
	}
}

func TestCRC32(t *testing.T) {
	// "Hi" -> 0x4D170E0E under CRC-32/IEEE.
	if got := CRC32([]byte("Hi")); got != 0x4D170E0E {
		t.Errorf("CRC32(\"Hi\") = %#x, want 0x4d170e0e", got)
	}
}
