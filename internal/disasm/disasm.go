// Package disasm defines the external-disassembler seam spec.md §6
// describes: analyzers that reach executable code (ELF, PE) hand a
// Disassembler their entry points, exported-symbol addresses, and the
// byte ranges of mapped executable sections; this module itself ships
// no disassembler, only the interface and a no-op implementation
// analyzers fall back to when the caller supplies none.
package disasm

// Region is one mapped executable byte range, addressed by its starting
// virtual address.
type Region struct {
	VAddrStart uint64
	Bytes      []byte
}

// Seeds is the disassembly-seed bundle spec.md §4.6/§4.5 describes:
// `{bitness, sections:[{vaddrStart, bytes}], entrypoints:[u64]}`.
type Seeds struct {
	Bitness     int
	Sections    []Region
	Entrypoints []uint64
}

// Disassembler consumes a Seeds bundle. Analyzers call Seed once, after
// every seed has been resolved against the mapped regions and
// out-of-range seeds have been dropped (with an issue) by the caller.
type Disassembler interface {
	Seed(s Seeds)
}

// Null is a Disassembler that discards every seed; analyzers use it (or
// a nil Disassembler, which Seed callers must also tolerate) when the
// caller has not wired in a real disassembly backend.
type Null struct{}

// Seed implements Disassembler by doing nothing.
func (Null) Seed(Seeds) {}
