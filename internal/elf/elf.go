// Package elf implements the ELF Analyzer (spec.md §4.6, C6):
// identification, the fixed header (32- or 64-bit, sharing one
// structural view per spec.md's tagged-variant guidance), program
// headers, section headers resolved through the section-header string
// table, dynamic symbols classified into import/export/internal, and
// disassembly-seed collection from the entry point and exported symbols.
//
// No ELF reference file survives in this module's retrieval pack;
// grounded directly on spec.md §4.6's wire description plus this
// fabric's established Cursor/issuelog.Log/binutil idiom (the
// both-endian-aware, width-tagged integer reads already built for PE and
// ISO-9660 generalize directly to ELF's own class/data identification
// bytes), noted in DESIGN.md as a spec-grounded rather than
// example-grounded component.
package elf

import (
	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/disasm"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

var magic = []byte{0x7F, 'E', 'L', 'F'}

// e_type values.
const (
	etNone = 0
	etRel  = 1
	etExec = 2
	etDyn  = 3
	etCore = 4
)

var typeLabel = map[uint16]string{
	etNone: "no file type",
	etRel:  "relocatable",
	etExec: "executable",
	etDyn:  "shared object",
	etCore: "core",
}

var machineLabel = map[uint16]string{
	0x03: "x86",
	0x08: "MIPS",
	0x14: "PowerPC",
	0x28: "ARM",
	0x3E: "x86-64",
	0xB7: "AArch64",
	0xF3: "RISC-V",
}

// Identification is the 16-byte e_ident block.
type Identification struct {
	Class     int // 32 or 64
	DataLE    bool
	Version   byte
	OSABI     byte
	ABIVersion byte
}

// ProgramHeader is one decoded program header table entry.
type ProgramHeader struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// SectionHeader is one decoded section header table entry.
type SectionHeader struct {
	Name       string
	Type       uint32
	Flags      uint64
	Addr       uint64
	Offset     uint64
	Size       uint64
	Link       uint32
	Info       uint32
	AddrAlign  uint64
	EntSize    uint64
	Executable bool
}

// DynamicSymbol is one decoded .dynsym entry, classified per spec.md §4.6.
type DynamicSymbol struct {
	Name       string
	Value      uint64
	Size       uint64
	Bind       string
	Type       string
	Visibility string
	SectionIdx uint16
	Class      string // "import", "export", or "internal"
}

// Header is the fixed ELF header (both widths folded into one view).
type Header struct {
	Type        uint16
	TypeLabel   string
	Machine     uint16
	MachineLabel string
	Version     uint32
	Entry       uint64
	PHOff       uint64
	SHOff       uint64
	Flags       uint32
	EHSize      uint16
	PHEntSize   uint16
	PHNum       uint16
	SHEntSize   uint16
	SHNum       uint16
	SHStrNdx    uint16
}

// Image is the elf analyzer's output.
type Image struct {
	Ident          Identification
	Header         Header
	ProgramHeaders []ProgramHeader
	SectionHeaders []SectionHeader
	DynamicSymbols []DynamicSymbol
	Label          string
	Issues         []string
}

// Analyze decodes an ELF object from src and seeds disasm with entry
// point and exported-symbol addresses mapped against executable
// sections.
func Analyze(src bytesource.Source, dis disasm.Disassembler) *Image {
	log := issuelog.New()
	img := &Image{}

	ident, err := src.Slice(0, min(16, src.Length()))
	if err != nil || len(ident) < 4 || !bytesEqual(ident[:4], magic) {
		log.Append("does not begin with the ELF magic")
		img.Issues = log.Snapshot()
		return img
	}
	if len(ident) < 16 {
		log.Append("ELF identification block is truncated")
		img.Issues = log.Snapshot()
		return img
	}

	switch ident[4] {
	case 1:
		img.Ident.Class = 32
	case 2:
		img.Ident.Class = 64
	default:
		log.Offsetf(4, "EI_CLASS byte %d is neither ELFCLASS32 nor ELFCLASS64", ident[4])
		img.Issues = log.Snapshot()
		return img
	}
	switch ident[5] {
	case 1:
		img.Ident.DataLE = true
	case 2:
		img.Ident.DataLE = false
	default:
		log.Offsetf(5, "EI_DATA byte %d is neither ELFDATA2LSB nor ELFDATA2MSB", ident[5])
		img.Issues = log.Snapshot()
		return img
	}
	img.Ident.Version = ident[6]
	img.Ident.OSABI = ident[7]
	img.Ident.ABIVersion = ident[8]

	endian := binutil.LE
	if !img.Ident.DataLE {
		endian = binutil.BE
	}

	var headerSize int64 = 52
	if img.Ident.Class == 64 {
		headerSize = 64
	}
	hb, err := src.Slice(0, min(headerSize, src.Length()))
	if err != nil || int64(len(hb)) < headerSize {
		log.Append("ELF header is truncated")
		img.Issues = log.Snapshot()
		return img
	}

	h := &img.Header
	h.Type, _ = binutil.U16(hb, 16, endian)
	h.Machine, _ = binutil.U16(hb, 18, endian)
	h.Version, _ = binutil.U32(hb, 20, endian)
	h.TypeLabel = typeLabel[h.Type]
	h.MachineLabel = machineLabel[h.Machine]

	if img.Ident.Class == 64 {
		h.Entry, _ = binutil.U64(hb, 24, endian)
		phoff, _ := binutil.U64(hb, 32, endian)
		shoff, _ := binutil.U64(hb, 40, endian)
		h.PHOff, h.SHOff = phoff, shoff
		h.Flags, _ = binutil.U32(hb, 48, endian)
		h.EHSize, _ = binutil.U16(hb, 52, endian)
		h.PHEntSize, _ = binutil.U16(hb, 54, endian)
		h.PHNum, _ = binutil.U16(hb, 56, endian)
		h.SHEntSize, _ = binutil.U16(hb, 58, endian)
		h.SHNum, _ = binutil.U16(hb, 60, endian)
		h.SHStrNdx, _ = binutil.U16(hb, 62, endian)
	} else {
		entry32, _ := binutil.U32(hb, 24, endian)
		phoff32, _ := binutil.U32(hb, 28, endian)
		shoff32, _ := binutil.U32(hb, 32, endian)
		h.Entry = uint64(entry32)
		h.PHOff = uint64(phoff32)
		h.SHOff = uint64(shoff32)
		h.Flags, _ = binutil.U32(hb, 36, endian)
		h.EHSize, _ = binutil.U16(hb, 40, endian)
		h.PHEntSize, _ = binutil.U16(hb, 42, endian)
		h.PHNum, _ = binutil.U16(hb, 44, endian)
		h.SHEntSize, _ = binutil.U16(hb, 46, endian)
		h.SHNum, _ = binutil.U16(hb, 48, endian)
		h.SHStrNdx, _ = binutil.U16(hb, 50, endian)
	}

	img.ProgramHeaders = parseProgramHeaders(src, img.Ident.Class, endian, h, log)
	img.SectionHeaders = parseSectionHeaders(src, img.Ident.Class, endian, h, log)
	img.DynamicSymbols = parseDynamicSymbols(src, img.Ident.Class, endian, img.SectionHeaders, log)

	img.Label = buildLabel(img)
	seedDisassembler(src, img, dis, log)

	img.Issues = log.Snapshot()
	return img
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func buildLabel(img *Image) string {
	bits := "32-bit"
	if img.Ident.Class == 64 {
		bits = "64-bit"
	}
	endianLabel := "LSB"
	if !img.Ident.DataLE {
		endianLabel = "MSB"
	}
	kind := img.Header.TypeLabel
	if kind == "" {
		kind = "unknown type"
	}
	machine := img.Header.MachineLabel
	if machine == "" {
		machine = "unknown architecture"
	}
	return "ELF " + bits + " " + endianLabel + " " + kind + ", " + machine
}

func parseProgramHeaders(src bytesource.Source, class int, endian binutil.Endian, h *Header, log *issuelog.Log) []ProgramHeader {
	if h.PHNum == 0 {
		return nil
	}
	entSize := int64(h.PHEntSize)
	if entSize <= 0 {
		log.Append("program header entry size is zero; skipping program header table")
		return nil
	}
	total := entSize * int64(h.PHNum)
	table, err := src.Slice(int64(h.PHOff), int64(h.PHOff)+total)
	if err != nil {
		log.Offsetf(int64(h.PHOff), "program header table runs past end of file")
		return nil
	}
	var out []ProgramHeader
	for i := 0; i < int(h.PHNum); i++ {
		off := int64(i) * entSize
		if off+entSize > int64(len(table)) {
			break
		}
		e := table[off : off+entSize]
		var ph ProgramHeader
		if class == 64 {
			pType, _ := binutil.U32(e, 0, endian)
			flags, _ := binutil.U32(e, 4, endian)
			offset, _ := binutil.U64(e, 8, endian)
			vaddr, _ := binutil.U64(e, 16, endian)
			paddr, _ := binutil.U64(e, 24, endian)
			filesz, _ := binutil.U64(e, 32, endian)
			memsz, _ := binutil.U64(e, 40, endian)
			align, _ := binutil.U64(e, 48, endian)
			ph = ProgramHeader{Type: pType, Flags: flags, Offset: offset, VAddr: vaddr, PAddr: paddr, FileSize: filesz, MemSize: memsz, Align: align}
		} else {
			pType, _ := binutil.U32(e, 0, endian)
			offset32, _ := binutil.U32(e, 4, endian)
			vaddr32, _ := binutil.U32(e, 8, endian)
			paddr32, _ := binutil.U32(e, 12, endian)
			filesz32, _ := binutil.U32(e, 16, endian)
			memsz32, _ := binutil.U32(e, 20, endian)
			flags, _ := binutil.U32(e, 24, endian)
			align32, _ := binutil.U32(e, 28, endian)
			ph = ProgramHeader{Type: pType, Flags: flags, Offset: uint64(offset32), VAddr: uint64(vaddr32), PAddr: uint64(paddr32), FileSize: uint64(filesz32), MemSize: uint64(memsz32), Align: uint64(align32)}
		}
		out = append(out, ph)
	}
	return out
}

func parseSectionHeaders(src bytesource.Source, class int, endian binutil.Endian, h *Header, log *issuelog.Log) []SectionHeader {
	if h.SHNum == 0 {
		return nil
	}
	entSize := int64(h.SHEntSize)
	if entSize <= 0 {
		log.Append("section header entry size is zero; skipping section header table")
		return nil
	}
	total := entSize * int64(h.SHNum)
	table, err := src.Slice(int64(h.SHOff), int64(h.SHOff)+total)
	if err != nil {
		log.Offsetf(int64(h.SHOff), "section header table runs past end of file")
		return nil
	}

	type raw struct {
		nameOff             uint32
		typ                 uint32
		flags, addr, offset, size uint64
		link, info          uint32
		addralign, entsize  uint64
	}
	var raws []raw
	for i := 0; i < int(h.SHNum); i++ {
		off := int64(i) * entSize
		if off+entSize > int64(len(table)) {
			break
		}
		e := table[off : off+entSize]
		var r raw
		r.nameOff, _ = binutil.U32(e, 0, endian)
		r.typ, _ = binutil.U32(e, 4, endian)
		if class == 64 {
			r.flags, _ = binutil.U64(e, 8, endian)
			r.addr, _ = binutil.U64(e, 16, endian)
			r.offset, _ = binutil.U64(e, 24, endian)
			r.size, _ = binutil.U64(e, 32, endian)
			r.link, _ = binutil.U32(e, 40, endian)
			r.info, _ = binutil.U32(e, 44, endian)
			r.addralign, _ = binutil.U64(e, 48, endian)
			r.entsize, _ = binutil.U64(e, 56, endian)
		} else {
			flags32, _ := binutil.U32(e, 8, endian)
			addr32, _ := binutil.U32(e, 12, endian)
			offset32, _ := binutil.U32(e, 16, endian)
			size32, _ := binutil.U32(e, 20, endian)
			r.flags, r.addr, r.offset, r.size = uint64(flags32), uint64(addr32), uint64(offset32), uint64(size32)
			r.link, _ = binutil.U32(e, 24, endian)
			r.info, _ = binutil.U32(e, 28, endian)
			align32, _ := binutil.U32(e, 32, endian)
			entsize32, _ := binutil.U32(e, 36, endian)
			r.addralign, r.entsize = uint64(align32), uint64(entsize32)
		}
		raws = append(raws, r)
	}

	var strtab []byte
	if int(h.SHStrNdx) < len(raws) {
		s := raws[h.SHStrNdx]
		if b, err := src.Slice(int64(s.offset), int64(s.offset+s.size)); err == nil {
			strtab = b
		}
	}

	const shfExecInstr = 0x4
	out := make([]SectionHeader, 0, len(raws))
	for _, r := range raws {
		name, _ := binutil.ASCII(strtab, int(r.nameOff), len(strtab)-int(r.nameOff))
		out = append(out, SectionHeader{
			Name: name, Type: r.typ, Flags: r.flags, Addr: r.addr, Offset: r.offset,
			Size: r.size, Link: r.link, Info: r.info, AddrAlign: r.addralign, EntSize: r.entsize,
			Executable: r.flags&shfExecInstr != 0,
		})
	}
	return out
}

var bindLabel = map[byte]string{0: "LOCAL", 1: "GLOBAL", 2: "WEAK"}
var symTypeLabel = map[byte]string{0: "NOTYPE", 1: "OBJECT", 2: "FUNC", 3: "SECTION", 4: "FILE"}
var visLabel = map[byte]string{0: "DEFAULT", 1: "INTERNAL", 2: "HIDDEN", 3: "PROTECTED"}

const (
	shtDynsym = 11
)

// parseDynamicSymbols locates the .dynsym section (SHT_DYNSYM) and its
// linked string table, decoding and classifying each entry per spec.md
// §4.6.
func parseDynamicSymbols(src bytesource.Source, class int, endian binutil.Endian, sections []SectionHeader, log *issuelog.Log) []DynamicSymbol {
	var dynsym *SectionHeader
	for i := range sections {
		if sections[i].Type == shtDynsym {
			dynsym = &sections[i]
			break
		}
	}
	if dynsym == nil {
		return nil
	}
	if int(dynsym.Link) >= len(sections) {
		log.Append(".dynsym sh_link does not reference a valid string table section")
		return nil
	}
	strtabSec := sections[dynsym.Link]
	strtab, err := src.Slice(int64(strtabSec.Offset), int64(strtabSec.Offset+strtabSec.Size))
	if err != nil {
		log.Append(".dynsym string table is out of range")
		return nil
	}
	entSize := int64(dynsym.EntSize)
	if entSize <= 0 {
		entSize = 24
		if class == 32 {
			entSize = 16
		}
	}
	table, err := src.Slice(int64(dynsym.Offset), int64(dynsym.Offset)+int64(dynsym.Size))
	if err != nil {
		log.Append(".dynsym section body is out of range")
		return nil
	}

	var out []DynamicSymbol
	for off := int64(0); off+entSize <= int64(len(table)); off += entSize {
		e := table[off : off+entSize]
		var sym DynamicSymbol
		var info byte
		if class == 64 {
			nameOff, _ := binutil.U32(e, 0, endian)
			info = e[4]
			other := e[5]
			shndx, _ := binutil.U16(e, 6, endian)
			value, _ := binutil.U64(e, 8, endian)
			size, _ := binutil.U64(e, 16, endian)
			sym.Name, _ = binutil.ASCII(strtab, int(nameOff), len(strtab)-int(nameOff))
			sym.Value, sym.Size, sym.SectionIdx = value, size, shndx
			sym.Visibility = visLabel[other&0x3]
		} else {
			nameOff, _ := binutil.U32(e, 0, endian)
			value32, _ := binutil.U32(e, 4, endian)
			size32, _ := binutil.U32(e, 8, endian)
			info = e[12]
			other := e[13]
			shndx, _ := binutil.U16(e, 14, endian)
			sym.Name, _ = binutil.ASCII(strtab, int(nameOff), len(strtab)-int(nameOff))
			sym.Value, sym.Size, sym.SectionIdx = uint64(value32), uint64(size32), shndx
			sym.Visibility = visLabel[other&0x3]
		}
		sym.Bind = bindLabel[info>>4]
		sym.Type = symTypeLabel[info&0xF]

		switch {
		case sym.SectionIdx == 0:
			sym.Class = "import"
		case sym.Bind != "LOCAL":
			sym.Class = "export"
		default:
			sym.Class = "internal"
		}
		out = append(out, sym)
	}
	return out
}

// seedDisassembler hands the external disassembler the entry point,
// exported-symbol addresses, and the bytes of every executable section,
// dropping any seed that doesn't map into a mapped executable region
// (spec.md §4.6).
func seedDisassembler(src bytesource.Source, img *Image, dis disasm.Disassembler, log *issuelog.Log) {
	if dis == nil {
		return
	}
	var regions []disasm.Region
	for _, s := range img.SectionHeaders {
		if !s.Executable || s.Size == 0 {
			continue
		}
		b, err := src.Slice(int64(s.Offset), int64(s.Offset+s.Size))
		if err != nil {
			continue
		}
		regions = append(regions, disasm.Region{VAddrStart: s.Addr, Bytes: b})
	}

	inRegion := func(addr uint64) bool {
		for _, r := range regions {
			if addr >= r.VAddrStart && addr < r.VAddrStart+uint64(len(r.Bytes)) {
				return true
			}
		}
		return false
	}

	var entrypoints []uint64
	dropped := 0
	if img.Header.Entry != 0 {
		if inRegion(img.Header.Entry) {
			entrypoints = append(entrypoints, img.Header.Entry)
		} else {
			dropped++
		}
	}
	for _, sym := range img.DynamicSymbols {
		if sym.Class != "export" || sym.Type != "FUNC" {
			continue
		}
		if inRegion(sym.Value) {
			entrypoints = append(entrypoints, sym.Value)
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		log.Appendf("dropped %d disassembly seed(s) that did not map into an executable region", dropped)
	}

	bitness := 32
	if img.Ident.Class == 64 {
		bitness = 64
	}
	dis.Seed(disasm.Seeds{Bitness: bitness, Sections: regions, Entrypoints: entrypoints})
}
