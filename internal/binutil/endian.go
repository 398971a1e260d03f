// Package binutil implements the endian-explicit, total parsing primitives
// spec.md §4.2 specifies: every function here takes a byte window and an
// offset and returns a value-or-failure, never panicking and never
// returning a Go error — truncation and mismatch are reported by pushing a
// formatted notice onto the caller's issuelog.Log, exactly as spec.md §4.2
// and §7 (error taxonomy category 1/2) require.
//
// This mirrors the style the teacher's internal/zip/times.go and
// internal/tar/common.go use for their own endian/numeric decoding, just
// generalized across all eleven analyzers instead of being duplicated once
// per format.
package binutil

import (
	"encoding/binary"
	"fmt"

	"github.com/cursorbyte/binfabric/internal/issuelog"
)

// Endian selects byte order for a fixed-width integer read.
type Endian int

const (
	LE Endian = iota
	BE
)

// U8 reads a single byte at offset o.
func U8(b []byte, o int) (byte, bool) {
	if o < 0 || o >= len(b) {
		return 0, false
	}
	return b[o], true
}

// U16 reads a 16-bit integer at offset o in the given byte order.
func U16(b []byte, o int, e Endian) (uint16, bool) {
	if o < 0 || o+2 > len(b) {
		return 0, false
	}
	if e == LE {
		return binary.LittleEndian.Uint16(b[o:]), true
	}
	return binary.BigEndian.Uint16(b[o:]), true
}

// U32 reads a 32-bit integer at offset o in the given byte order.
func U32(b []byte, o int, e Endian) (uint32, bool) {
	if o < 0 || o+4 > len(b) {
		return 0, false
	}
	if e == LE {
		return binary.LittleEndian.Uint32(b[o:]), true
	}
	return binary.BigEndian.Uint32(b[o:]), true
}

// U64 reads a 64-bit integer at offset o in the given byte order.
func U64(b []byte, o int, e Endian) (uint64, bool) {
	if o < 0 || o+8 > len(b) {
		return 0, false
	}
	if e == LE {
		return binary.LittleEndian.Uint64(b[o:]), true
	}
	return binary.BigEndian.Uint64(b[o:]), true
}

// Width reads a w-byte (w ∈ {1,2,4,8}) unsigned integer at offset o,
// zero-extended to uint64. w values outside that set always fail.
func Width(b []byte, o int, w int, e Endian) (uint64, bool) {
	switch w {
	case 1:
		v, ok := U8(b, o)
		return uint64(v), ok
	case 2:
		v, ok := U16(b, o, e)
		return uint64(v), ok
	case 4:
		v, ok := U32(b, o, e)
		return uint64(v), ok
	case 8:
		v, ok := U64(b, o, e)
		return uint64(v), ok
	default:
		return 0, false
	}
}

// LoggedU16/U32 wrap U16/U32 with the truncation notice spec.md §4.2
// requires: "<label> is truncated" when o+w exceeds the window.
func LoggedU16(b []byte, o int, e Endian, label string, log *issuelog.Log) (uint16, bool) {
	v, ok := U16(b, o, e)
	if !ok {
		log.Appendf("%s is truncated", label)
	}
	return v, ok
}

func LoggedU32(b []byte, o int, e Endian, label string, log *issuelog.Log) (uint32, bool) {
	v, ok := U32(b, o, e)
	if !ok {
		log.Appendf("%s is truncated", label)
	}
	return v, ok
}

func LoggedU64(b []byte, o int, e Endian, label string, log *issuelog.Log) (uint64, bool) {
	v, ok := U64(b, o, e)
	if !ok {
		log.Appendf("%s is truncated", label)
	}
	return v, ok
}

// BothEndianU16 implements the ISO-9660 both-endian convention (spec.md
// §3 "Both-Endian Field", §4.2): a value stored as LE at o then BE at
// o+2. On mismatch the LE form wins and a notice naming both values and
// the absolute offset (in hex) is pushed.
func BothEndianU16(b []byte, o int, absOffset int64, label string, log *issuelog.Log) (uint16, bool) {
	le, ok1 := U16(b, o, LE)
	be, ok2 := U16(b, o+2, BE)
	if !ok1 || !ok2 {
		log.Appendf("%s is truncated", label)
		return 0, false
	}
	if le != be {
		log.Append(fmt.Sprintf("0x%08x: %s both-endian mismatch: LE=%#x BE=%#x (using LE)", absOffset, label, le, be))
	}
	return le, true
}

// BothEndianU32 is BothEndianU16 at 32-bit width (LE at o, BE at o+4).
func BothEndianU32(b []byte, o int, absOffset int64, label string, log *issuelog.Log) (uint32, bool) {
	le, ok1 := U32(b, o, LE)
	be, ok2 := U32(b, o+4, BE)
	if !ok1 || !ok2 {
		log.Appendf("%s is truncated", label)
		return 0, false
	}
	if le != be {
		log.Append(fmt.Sprintf("0x%08x: %s both-endian mismatch: LE=%#x BE=%#x (using LE)", absOffset, label, le, be))
	}
	return le, true
}
