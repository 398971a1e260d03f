package binutil

import (
	"bytes"
	"unicode/utf16"
)

// ASCII decodes up to maxLen bytes starting at o as 7-bit ASCII, stopping at
// the first NUL (if any) or at maxLen, whichever comes first. Bytes outside
// the printable range are kept verbatim — callers that need a cleaned
// display string should run the result through PrintableRuns.
func ASCII(b []byte, o, maxLen int) (string, bool) {
	if o < 0 || o > len(b) {
		return "", false
	}
	end := min(o+maxLen, len(b))
	raw := b[o:end]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), true
}

// UTF16LE decodes up to maxChars UTF-16LE code units starting at o, stopping
// at a NUL code unit or maxChars, whichever comes first. This is the LNK
// StringData and PE version-resource string encoding (spec.md §8.3, §8.1).
func UTF16LE(b []byte, o, maxChars int) (string, bool) {
	if o < 0 || o > len(b) {
		return "", false
	}
	units := make([]uint16, 0, maxChars)
	for i := 0; i < maxChars; i++ {
		v, ok := U16(b, o+i*2, LE)
		if !ok {
			break
		}
		if v == 0 {
			break
		}
		units = append(units, v)
	}
	return string(utf16.Decode(units)), true
}

// UCS2BE decodes up to maxChars big-endian UCS-2 code units starting at o,
// stopping at a NUL code unit. This is ISO-9660's Joliet-extension
// directory-name encoding (spec.md §8.9).
func UCS2BE(b []byte, o, maxChars int) (string, bool) {
	if o < 0 || o > len(b) {
		return "", false
	}
	units := make([]uint16, 0, maxChars)
	for i := 0; i < maxChars; i++ {
		v, ok := U16(b, o+i*2, BE)
		if !ok {
			break
		}
		if v == 0 {
			break
		}
		units = append(units, v)
	}
	return string(utf16.Decode(units)), true
}

// PrintableRuns scans b and returns every maximal run of bytes in the
// printable ASCII range 0x20-0x7E whose length is at least minLen. Used by
// analyzers (and the CLI's fallback "strings" view) to surface embedded
// text spec.md §6 calls out as a reporting aid, not a structural field.
func PrintableRuns(b []byte, minLen int) []string {
	var out []string
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minLen {
			out = append(out, string(b[start:end]))
		}
		start = -1
	}
	for i, c := range b {
		if c >= 0x20 && c <= 0x7E {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(len(b))
	return out
}
