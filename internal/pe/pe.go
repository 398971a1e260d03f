// Package pe implements the Portable Executable Analyzer (spec.md §4.5,
// C5): MZ header → COFF + optional header (PE32/PE32+) → section table →
// an RVA→offset translator → data directories (imports, delay imports,
// bound imports, exports, resources, base relocations, debug, TLS,
// security), plus disassembly-seed collection.
//
// Grounded on this fabric's elliotnunn-BeHierarchic-derived MZ/PK
// detection in internal/dispatch (itself adapted from probe.go's `at()`
// magic-matching idiom) for recognizing the MZ signature that starts
// every PE image, and on spec.md §4.5's own algorithmic description for
// everything past the DOS header — no PE reference file survives in
// this module's retrieval pack, so the directory-walking logic is
// spec-grounded, following the same Cursor/issuelog.Log/binutil idiom
// every other analyzer in this fabric uses.
package pe

import (
	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/disasm"
	"github.com/cursorbyte/binfabric/internal/fabricconfig"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

const (
	peSignature   = "PE\x00\x00"
	optMagicPE32  = 0x10B
	optMagicPE32P = 0x20B
)

var dataDirNames = [16]string{
	"Export", "Import", "Resource", "Exception", "Security",
	"BaseReloc", "Debug", "Architecture", "GlobalPtr", "TLS",
	"LoadConfig", "BoundImport", "IAT", "DelayImport", "COMDescriptor", "Reserved",
}

var machineLabel = map[uint16]string{
	0x014c: "x86",
	0x8664: "x86-64",
	0x01c0: "ARM",
	0xAA64: "ARM64",
}

var subsystemLabel = map[uint16]string{
	1: "native",
	2: "Windows GUI",
	3: "Windows console",
	5: "OS/2 console",
	7: "POSIX console",
	9: "Windows CE GUI",
	10: "EFI application",
}

// DataDirectory is one of the optional header's 16 directory entries.
type DataDirectory struct {
	Name           string
	RVA            uint32
	Size           uint32
}

// Section is one decoded IMAGE_SECTION_HEADER.
type Section struct {
	Name           string
	VirtualSize    uint32
	VirtualAddress uint32
	RawSize        uint32
	RawPointer     uint32
	Characteristics uint32
	Executable     bool
}

// MZ is the decoded DOS header, kept only to the extent spec.md needs:
// the signature and e_lfanew.
type MZ struct {
	SignatureOK bool
	ELfanew     uint32
}

// COFF is the decoded IMAGE_FILE_HEADER.
type COFF struct {
	Machine              uint16
	MachineLabel         string
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	Characteristics      uint16
}

// OptionalHeader is the decoded IMAGE_OPTIONAL_HEADER, 32 and 64-bit
// forms folded into one view with IsPlus distinguishing them.
type OptionalHeader struct {
	IsPlus             bool
	MajorLinkerVersion byte
	MinorLinkerVersion byte
	SizeOfCode         uint32
	AddressOfEntryPoint uint32
	BaseOfCode         uint32
	ImageBase          uint64
	SectionAlignment   uint32
	FileAlignment      uint32
	SizeOfImage        uint32
	SizeOfHeaders      uint32
	Subsystem          uint16
	SubsystemLabel     string
	DllCharacteristics uint16
}

// ImportedFunction is one resolved entry from an import descriptor's
// ILT/IAT pair.
type ImportedFunction struct {
	Name    string
	Ordinal uint16
	ByOrdinal bool
	Hint    uint16
}

// ImportDescriptor is one decoded IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	DLLName   string
	Functions []ImportedFunction
}

// DelayImportDescriptor is one decoded delay-load import descriptor.
type DelayImportDescriptor struct {
	DLLName   string
	Functions []ImportedFunction
}

// BoundImport is one decoded IMAGE_BOUND_IMPORT_DESCRIPTOR.
type BoundImport struct {
	DLLName      string
	TimeDateStamp uint32
}

// ExportedFunction is one decoded export.
type ExportedFunction struct {
	Name    string
	Ordinal uint16
	RVA     uint32
	Forwarder string
}

// Exports is the decoded export directory.
type Exports struct {
	DLLName   string
	Functions []ExportedFunction
}

// ResourceEntry is one leaf of the three-level resource tree (type →
// name/id → language).
type ResourceEntry struct {
	Type     string
	Name     string
	Language uint16
	DataRVA  uint32
	Size     uint32
	CodePage uint32
}

// BaseRelocationBlock is one decoded .reloc page.
type BaseRelocationBlock struct {
	PageRVA uint32
	Count   int
}

// DebugEntry is one decoded IMAGE_DEBUG_DIRECTORY entry.
type DebugEntry struct {
	Type          uint32
	TimeDateStamp uint32
	SizeOfData    uint32
	AddressOfRawData uint32
}

// TLS is the decoded TLS directory, including resolved callback
// addresses.
type TLS struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	Callbacks             []uint64
}

// SecurityCertificate is one decoded WIN_CERTIFICATE block from the
// security directory.
type SecurityCertificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

// Image is the pe analyzer's output.
type Image struct {
	MZ              MZ
	COFF            COFF
	Opt             OptionalHeader
	Sections        []Section
	DataDirectories [16]DataDirectory
	Imports         []ImportDescriptor
	DelayImports    []DelayImportDescriptor
	BoundImports    []BoundImport
	Exports         *Exports
	Resources       []ResourceEntry
	BaseRelocations []BaseRelocationBlock
	Debug           []DebugEntry
	TLS             *TLS
	Security        []SecurityCertificate
	Label           string
	Issues          []string
}

// RVAToOffset performs the linear section scan spec.md §4.5 specifies,
// returning ok=false if rva does not fall inside any section's mapped
// range.
func (img *Image) RVAToOffset(rva uint32) (offset int64, ok bool) {
	for _, s := range img.Sections {
		span := s.VirtualSize
		if s.RawSize > span {
			span = s.RawSize
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+span {
			return int64(rva-s.VirtualAddress) + int64(s.RawPointer), true
		}
	}
	return 0, false
}

// Analyze decodes a PE image from src.
func Analyze(src bytesource.Source, dis disasm.Disassembler) *Image {
	log := issuelog.New()
	img := &Image{}

	dos, err := src.Slice(0, min(64, src.Length()))
	if err != nil || len(dos) < 64 || dos[0] != 'M' || dos[1] != 'Z' {
		log.Append("does not begin with the MZ signature")
		img.Issues = log.Snapshot()
		return img
	}
	img.MZ.SignatureOK = true
	img.MZ.ELfanew, _ = binutil.U32(dos, 0x3C, binutil.LE)

	peHdr, err := src.Slice(int64(img.MZ.ELfanew), int64(img.MZ.ELfanew)+24)
	if err != nil || len(peHdr) < 24 || string(peHdr[:4]) != peSignature {
		log.Offsetf(int64(img.MZ.ELfanew), "PE signature not found at e_lfanew")
		img.Issues = log.Snapshot()
		return img
	}

	c := &img.COFF
	c.Machine, _ = binutil.U16(peHdr, 4, binutil.LE)
	c.MachineLabel = machineLabel[c.Machine]
	c.NumberOfSections, _ = binutil.U16(peHdr, 6, binutil.LE)
	c.TimeDateStamp, _ = binutil.U32(peHdr, 8, binutil.LE)
	c.PointerToSymbolTable, _ = binutil.U32(peHdr, 12, binutil.LE)
	c.NumberOfSymbols, _ = binutil.U32(peHdr, 16, binutil.LE)
	sizeOfOptionalHeader, _ := binutil.U16(peHdr, 20, binutil.LE)
	c.Characteristics, _ = binutil.U16(peHdr, 22, binutil.LE)

	optStart := int64(img.MZ.ELfanew) + 24
	opt, err := src.Slice(optStart, optStart+int64(sizeOfOptionalHeader))
	if err != nil || len(opt) < 2 {
		log.Offsetf(optStart, "optional header is truncated")
		img.Issues = log.Snapshot()
		return img
	}
	magic, _ := binutil.U16(opt, 0, binutil.LE)
	o := &img.Opt
	o.IsPlus = magic == optMagicPE32P
	if magic != optMagicPE32 && magic != optMagicPE32P {
		log.Offsetf(optStart, "optional header magic %#04x is neither PE32 nor PE32+", magic)
	}
	o.MajorLinkerVersion, _ = binutil.U8(opt, 2)
	o.MinorLinkerVersion, _ = binutil.U8(opt, 3)
	o.SizeOfCode, _ = binutil.U32(opt, 4, binutil.LE)
	o.AddressOfEntryPoint, _ = binutil.U32(opt, 16, binutil.LE)
	o.BaseOfCode, _ = binutil.U32(opt, 20, binutil.LE)

	var ddirOffset int64
	if o.IsPlus {
		imageBase, _ := binutil.U64(opt, 24, binutil.LE)
		o.ImageBase = imageBase
		o.SectionAlignment, _ = binutil.U32(opt, 32, binutil.LE)
		o.FileAlignment, _ = binutil.U32(opt, 36, binutil.LE)
		o.SizeOfImage, _ = binutil.U32(opt, 56, binutil.LE)
		o.SizeOfHeaders, _ = binutil.U32(opt, 60, binutil.LE)
		o.Subsystem, _ = binutil.U16(opt, 68, binutil.LE)
		o.DllCharacteristics, _ = binutil.U16(opt, 70, binutil.LE)
		ddirOffset = 112
	} else {
		baseOfData, _ := binutil.U32(opt, 24, binutil.LE)
		_ = baseOfData
		imageBase32, _ := binutil.U32(opt, 28, binutil.LE)
		o.ImageBase = uint64(imageBase32)
		o.SectionAlignment, _ = binutil.U32(opt, 32, binutil.LE)
		o.FileAlignment, _ = binutil.U32(opt, 36, binutil.LE)
		o.SizeOfImage, _ = binutil.U32(opt, 56, binutil.LE)
		o.SizeOfHeaders, _ = binutil.U32(opt, 60, binutil.LE)
		o.Subsystem, _ = binutil.U16(opt, 68, binutil.LE)
		o.DllCharacteristics, _ = binutil.U16(opt, 70, binutil.LE)
		ddirOffset = 96
	}
	o.SubsystemLabel = subsystemLabel[o.Subsystem]

	for i := 0; i < 16; i++ {
		off := ddirOffset + int64(i)*8
		if off+8 > int64(len(opt)) {
			break
		}
		rva, _ := binutil.U32(opt, int(off), binutil.LE)
		size, _ := binutil.U32(opt, int(off)+4, binutil.LE)
		img.DataDirectories[i] = DataDirectory{Name: dataDirNames[i], RVA: rva, Size: size}
	}

	sectionTableStart := optStart + int64(sizeOfOptionalHeader)
	img.Sections = parseSections(src, sectionTableStart, int(c.NumberOfSections), log)

	dd := img.DataDirectories
	if dd[1].RVA != 0 {
		img.Imports = parseImports(src, img, log)
	}
	if dd[13].RVA != 0 {
		img.DelayImports = parseDelayImports(src, img, log)
	}
	if dd[11].RVA != 0 {
		img.BoundImports = parseBoundImports(src, img, log)
	}
	if dd[0].RVA != 0 {
		img.Exports = parseExports(src, img, log)
	}
	if dd[2].RVA != 0 {
		img.Resources = parseResources(src, img, log)
	}
	if dd[5].RVA != 0 {
		img.BaseRelocations = parseBaseRelocations(src, img, log)
	}
	if dd[6].RVA != 0 {
		img.Debug = parseDebug(src, img, log)
	}
	if dd[9].RVA != 0 {
		img.TLS = parseTLS(src, img, log)
	}
	if dd[4].Size != 0 {
		img.Security = parseSecurity(src, img.DataDirectories[4], log)
	}

	img.Label = buildLabel(img)
	seedDisassembler(src, img, dis, log)

	img.Issues = log.Snapshot()
	return img
}

func buildLabel(img *Image) string {
	bits := "PE32"
	if img.Opt.IsPlus {
		bits = "PE32+"
	}
	kind := "executable"
	if img.COFF.Characteristics&0x2000 != 0 {
		kind = "DLL"
	}
	machine := img.COFF.MachineLabel
	if machine == "" {
		machine = "unknown architecture"
	}
	return bits + " " + kind + " for " + machine
}

func parseSections(src bytesource.Source, start int64, n int, log *issuelog.Log) []Section {
	const entSize = 40
	table, err := src.Slice(start, start+int64(n)*entSize)
	if err != nil {
		log.Offsetf(start, "section table runs past end of file")
		return nil
	}
	out := make([]Section, 0, n)
	for i := 0; i < n; i++ {
		off := i * entSize
		if off+entSize > len(table) {
			break
		}
		e := table[off : off+entSize]
		name, _ := binutil.ASCII(e, 0, 8)
		vsize, _ := binutil.U32(e, 8, binutil.LE)
		vaddr, _ := binutil.U32(e, 12, binutil.LE)
		rawSize, _ := binutil.U32(e, 16, binutil.LE)
		rawPtr, _ := binutil.U32(e, 20, binutil.LE)
		chars, _ := binutil.U32(e, 36, binutil.LE)
		out = append(out, Section{
			Name: name, VirtualSize: vsize, VirtualAddress: vaddr,
			RawSize: rawSize, RawPointer: rawPtr, Characteristics: chars,
			Executable: chars&0x20000000 != 0,
		})
	}
	return out
}

// readCString reads a NUL-terminated ASCII string at a file offset.
func readCString(src bytesource.Source, offset int64, maxLen int) string {
	b, err := src.Slice(offset, offset+int64(maxLen))
	if err != nil {
		return ""
	}
	s, _ := binutil.ASCII(b, 0, len(b))
	return s
}

func parseImports(src bytesource.Source, img *Image, log *issuelog.Log) []ImportDescriptor {
	dir := img.DataDirectories[1]
	thunkCap := 32768
	thunkSize := int64(4)
	if img.Opt.IsPlus {
		thunkCap = 16384
		thunkSize = 8
	}
	var out []ImportDescriptor
	for i := 0; i < 4096; i++ { // descriptor-array cap; each descriptor is 20 bytes
		off, ok := img.RVAToOffset(dir.RVA + uint32(i*20))
		if !ok {
			log.Append("import descriptor array RVA does not map to any section")
			break
		}
		rec, err := src.Slice(off, off+20)
		if err != nil || len(rec) < 20 {
			break
		}
		originalFirstThunk, _ := binutil.U32(rec, 0, binutil.LE)
		nameRVA, _ := binutil.U32(rec, 12, binutil.LE)
		firstThunk, _ := binutil.U32(rec, 16, binutil.LE)
		if originalFirstThunk == 0 && nameRVA == 0 && firstThunk == 0 {
			break
		}
		nameOff, ok := img.RVAToOffset(nameRVA)
		if !ok {
			log.Append("import DLL name RVA does not map to any section")
			continue
		}
		desc := ImportDescriptor{DLLName: readCString(src, nameOff, 256)}

		iltRVA := originalFirstThunk
		if iltRVA == 0 {
			iltRVA = firstThunk
		}
		desc.Functions = walkThunkArray(src, img, iltRVA, thunkSize, thunkCap, log)
		out = append(out, desc)
	}
	return out
}

func walkThunkArray(src bytesource.Source, img *Image, rva uint32, thunkSize int64, thunkCap int, log *issuelog.Log) []ImportedFunction {
	var out []ImportedFunction
	for i := 0; i < thunkCap; i++ {
		off, ok := img.RVAToOffset(rva + uint32(int64(i)*thunkSize))
		if !ok {
			break
		}
		raw, err := src.Slice(off, off+thunkSize)
		if err != nil || int64(len(raw)) < thunkSize {
			break
		}
		var thunk uint64
		if thunkSize == 8 {
			thunk, _ = binutil.U64(raw, 0, binutil.LE)
		} else {
			v, _ := binutil.U32(raw, 0, binutil.LE)
			thunk = uint64(v)
		}
		if thunk == 0 {
			break
		}
		ordinalFlag := uint64(1) << 63
		if thunkSize == 4 {
			ordinalFlag = uint64(1) << 31
		}
		if thunk&ordinalFlag != 0 {
			out = append(out, ImportedFunction{ByOrdinal: true, Ordinal: uint16(thunk & 0xFFFF)})
			continue
		}
		hintNameOff, ok := img.RVAToOffset(uint32(thunk))
		if !ok {
			continue
		}
		hb, err := src.Slice(hintNameOff, hintNameOff+2)
		var hint uint16
		if err == nil && len(hb) == 2 {
			hint, _ = binutil.U16(hb, 0, binutil.LE)
		}
		name := readCString(src, hintNameOff+2, 256)
		out = append(out, ImportedFunction{Name: name, Hint: hint})
	}
	return out
}

func parseDelayImports(src bytesource.Source, img *Image, log *issuelog.Log) []DelayImportDescriptor {
	dir := img.DataDirectories[13]
	var out []DelayImportDescriptor
	thunkCap := 32768
	thunkSize := int64(4)
	if img.Opt.IsPlus {
		thunkCap = 16384
		thunkSize = 8
	}
	for i := 0; i < 4096; i++ { // descriptor is 32 bytes
		off, ok := img.RVAToOffset(dir.RVA + uint32(i*32))
		if !ok {
			break
		}
		rec, err := src.Slice(off, off+32)
		if err != nil || len(rec) < 32 {
			break
		}
		attrs, _ := binutil.U32(rec, 0, binutil.LE)
		dllNameRVA, _ := binutil.U32(rec, 4, binutil.LE)
		nameOrdinalTableRVA, _ := binutil.U32(rec, 16, binutil.LE)
		addressTableRVA, _ := binutil.U32(rec, 20, binutil.LE)
		if dllNameRVA == 0 && addressTableRVA == 0 {
			break
		}
		// attrs bit 0 clear means RVAs are stored as VAs; normalize to
		// RVA by subtracting the image base.
		toRVA := func(v uint32) uint32 {
			if attrs&1 != 0 {
				return v
			}
			return uint32(uint64(v) - img.Opt.ImageBase)
		}
		nameOff, ok := img.RVAToOffset(toRVA(dllNameRVA))
		if !ok {
			continue
		}
		desc := DelayImportDescriptor{DLLName: readCString(src, nameOff, 256)}
		ilt := toRVA(nameOrdinalTableRVA)
		if ilt == 0 {
			ilt = toRVA(addressTableRVA)
		}
		desc.Functions = walkThunkArray(src, img, ilt, thunkSize, thunkCap, log)
		out = append(out, desc)
	}
	return out
}

func parseBoundImports(src bytesource.Source, img *Image, log *issuelog.Log) []BoundImport {
	dir := img.DataDirectories[11]
	off, ok := img.RVAToOffset(dir.RVA)
	if !ok {
		off = int64(dir.RVA) // bound import directory is sometimes stored at a raw file offset equal to its RVA
	}
	var out []BoundImport
	for i := 0; i < 1024; i++ {
		rec, err := src.Slice(off+int64(i*8), off+int64(i*8)+8)
		if err != nil || len(rec) < 8 {
			break
		}
		ts, _ := binutil.U32(rec, 0, binutil.LE)
		nameOff16, _ := binutil.U16(rec, 4, binutil.LE)
		numRefs, _ := binutil.U16(rec, 6, binutil.LE)
		if ts == 0 && nameOff16 == 0 {
			break
		}
		name := readCString(src, off+int64(nameOff16), 256)
		out = append(out, BoundImport{DLLName: name, TimeDateStamp: ts})
		off += int64(numRefs) * 8 // skip forwarder-ref records
	}
	return out
}

func parseExports(src bytesource.Source, img *Image, log *issuelog.Log) *Exports {
	dir := img.DataDirectories[0]
	off, ok := img.RVAToOffset(dir.RVA)
	if !ok {
		log.Append("export directory RVA does not map to any section")
		return nil
	}
	hdr, err := src.Slice(off, off+40)
	if err != nil || len(hdr) < 40 {
		log.Append("export directory header is truncated")
		return nil
	}
	nameRVA, _ := binutil.U32(hdr, 12, binutil.LE)
	base, _ := binutil.U32(hdr, 16, binutil.LE)
	numFuncs, _ := binutil.U32(hdr, 20, binutil.LE)
	numNames, _ := binutil.U32(hdr, 24, binutil.LE)
	addressOfFunctions, _ := binutil.U32(hdr, 28, binutil.LE)
	addressOfNames, _ := binutil.U32(hdr, 32, binutil.LE)
	addressOfOrdinals, _ := binutil.U32(hdr, 36, binutil.LE)

	exp := &Exports{}
	if nameOff, ok := img.RVAToOffset(nameRVA); ok {
		exp.DLLName = readCString(src, nameOff, 256)
	}

	if numFuncs > 65536 {
		log.Append("export address table entry count exceeds the configured sanity cap")
		numFuncs = 65536
	}
	funcRVAs := make([]uint32, 0, numFuncs)
	for i := uint32(0); i < numFuncs; i++ {
		eOff, ok := img.RVAToOffset(addressOfFunctions + i*4)
		if !ok {
			break
		}
		b, err := src.Slice(eOff, eOff+4)
		if err != nil {
			break
		}
		v, _ := binutil.U32(b, 0, binutil.LE)
		funcRVAs = append(funcRVAs, v)
	}

	namesByOrdinalIdx := map[uint16]string{}
	for i := uint32(0); i < numNames; i++ {
		nOff, ok := img.RVAToOffset(addressOfNames + i*4)
		if !ok {
			break
		}
		nb, err := src.Slice(nOff, nOff+4)
		if err != nil {
			break
		}
		nameRVA, _ := binutil.U32(nb, 0, binutil.LE)
		oOff, ok := img.RVAToOffset(addressOfOrdinals + i*2)
		if !ok {
			break
		}
		ob, err := src.Slice(oOff, oOff+2)
		if err != nil {
			break
		}
		ordIdx, _ := binutil.U16(ob, 0, binutil.LE)
		if nOff, ok := img.RVAToOffset(nameRVA); ok {
			namesByOrdinalIdx[ordIdx] = readCString(src, nOff, 256)
		}
	}

	for i, rva := range funcRVAs {
		if rva == 0 {
			continue
		}
		fn := ExportedFunction{Ordinal: uint16(i) + uint16(base), RVA: rva}
		if name, ok := namesByOrdinalIdx[uint16(i)]; ok {
			fn.Name = name
		}
		// A forwarder is signalled by the RVA landing inside the export
		// directory's own declared range.
		if rva >= dir.RVA && rva < dir.RVA+dir.Size {
			if fOff, ok := img.RVAToOffset(rva); ok {
				fn.Forwarder = readCString(src, fOff, 512)
			}
		}
		exp.Functions = append(exp.Functions, fn)
	}
	return exp
}

const (
	resourceDirHeaderSize = 16
	resourceDataEntrySize = 16
	nameIsStringFlag      = uint32(1) << 31
	offsetIsSubdirFlag    = uint32(1) << 31
)

func parseResources(src bytesource.Source, img *Image, log *issuelog.Log) []ResourceEntry {
	dir := img.DataDirectories[2]
	base, ok := img.RVAToOffset(dir.RVA)
	if !ok {
		log.Append("resource directory RVA does not map to any section")
		return nil
	}
	var out []ResourceEntry
	walkResourceLevel(src, base, base, 0, &ResourceEntry{}, &out, log, 0)
	return out
}

// walkResourceLevel descends the three-level {type, name/id, language}
// resource tree (spec.md §4.5), bounded by fabricconfig's configured
// depth budget.
func walkResourceLevel(src bytesource.Source, sectionBase, dirOff int64, level int, partial *ResourceEntry, out *[]ResourceEntry, log *issuelog.Log, depth int) {
	if depth > fabricconfig.PEResourceDepth {
		log.Append("resource tree descent exceeded the configured depth budget")
		return
	}
	hdr, err := src.Slice(dirOff, dirOff+resourceDirHeaderSize)
	if err != nil || len(hdr) < resourceDirHeaderSize {
		log.Offsetf(dirOff, "resource directory header is truncated")
		return
	}
	namedCount, _ := binutil.U16(hdr, 12, binutil.LE)
	idCount, _ := binutil.U16(hdr, 14, binutil.LE)
	total := int(namedCount) + int(idCount)

	for i := 0; i < total; i++ {
		entOff := dirOff + resourceDirHeaderSize + int64(i)*8
		ent, err := src.Slice(entOff, entOff+8)
		if err != nil || len(ent) < 8 {
			break
		}
		nameField, _ := binutil.U32(ent, 0, binutil.LE)
		offsetField, _ := binutil.U32(ent, 4, binutil.LE)

		next := *partial
		label := ""
		if nameField&nameIsStringFlag != 0 {
			strOff := sectionBase + int64(nameField&^nameIsStringFlag)
			if lb, err := src.Slice(strOff, strOff+2); err == nil {
				charCount, _ := binutil.U16(lb, 0, binutil.LE)
				if s, ok := binutil.UTF16LE(mustSlice(src, strOff+2, strOff+2+int64(charCount)*2), 0, int(charCount)); ok {
					label = s
				}
			}
		} else {
			label = itoa(int(nameField))
		}
		switch level {
		case 0:
			next.Type = label
		case 1:
			next.Name = label
		case 2:
			next.Language = uint16(nameField)
		}

		if offsetField&offsetIsSubdirFlag != 0 {
			childOff := sectionBase + int64(offsetField&^offsetIsSubdirFlag)
			walkResourceLevel(src, sectionBase, childOff, level+1, &next, out, log, depth+1)
		} else {
			leafOff := sectionBase + int64(offsetField)
			leaf, err := src.Slice(leafOff, leafOff+resourceDataEntrySize)
			if err != nil || len(leaf) < 12 {
				log.Offsetf(leafOff, "resource data entry is truncated")
				continue
			}
			dataRVA, _ := binutil.U32(leaf, 0, binutil.LE)
			size, _ := binutil.U32(leaf, 4, binutil.LE)
			codePage, _ := binutil.U32(leaf, 8, binutil.LE)
			next.DataRVA, next.Size, next.CodePage = dataRVA, size, codePage
			*out = append(*out, next)
		}
	}
}

func mustSlice(src bytesource.Source, start, end int64) []byte {
	b, err := src.Slice(start, end)
	if err != nil {
		return nil
	}
	return b
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func parseBaseRelocations(src bytesource.Source, img *Image, log *issuelog.Log) []BaseRelocationBlock {
	dir := img.DataDirectories[5]
	off, ok := img.RVAToOffset(dir.RVA)
	if !ok {
		log.Append("base relocation directory RVA does not map to any section")
		return nil
	}
	end := off + int64(dir.Size)
	var out []BaseRelocationBlock
	for off < end {
		hdr, err := src.Slice(off, off+8)
		if err != nil || len(hdr) < 8 {
			break
		}
		pageRVA, _ := binutil.U32(hdr, 0, binutil.LE)
		blockSize, _ := binutil.U32(hdr, 4, binutil.LE)
		if blockSize < 8 {
			log.Offsetf(off, "base relocation block size %d is smaller than its own header", blockSize)
			break
		}
		count := (int(blockSize) - 8) / 2
		out = append(out, BaseRelocationBlock{PageRVA: pageRVA, Count: count})
		off += int64(blockSize)
	}
	return out
}

func parseDebug(src bytesource.Source, img *Image, log *issuelog.Log) []DebugEntry {
	dir := img.DataDirectories[6]
	off, ok := img.RVAToOffset(dir.RVA)
	if !ok {
		log.Append("debug directory RVA does not map to any section")
		return nil
	}
	n := int(dir.Size) / 28
	var out []DebugEntry
	for i := 0; i < n; i++ {
		e, err := src.Slice(off+int64(i*28), off+int64(i*28)+28)
		if err != nil || len(e) < 28 {
			break
		}
		typ, _ := binutil.U32(e, 12, binutil.LE)
		ts, _ := binutil.U32(e, 4, binutil.LE)
		sizeOfData, _ := binutil.U32(e, 16, binutil.LE)
		addrRawData, _ := binutil.U32(e, 20, binutil.LE)
		out = append(out, DebugEntry{Type: typ, TimeDateStamp: ts, SizeOfData: sizeOfData, AddressOfRawData: addrRawData})
	}
	return out
}

func parseTLS(src bytesource.Source, img *Image, log *issuelog.Log) *TLS {
	dir := img.DataDirectories[9]
	off, ok := img.RVAToOffset(dir.RVA)
	if !ok {
		log.Append("TLS directory RVA does not map to any section")
		return nil
	}
	ptrSize := int64(4)
	if img.Opt.IsPlus {
		ptrSize = 8
	}
	size := 2*ptrSize + 4 + 4 + 4 + 4
	if img.Opt.IsPlus {
		size = 2*ptrSize + 4 + ptrSize + 4 + 4
	}
	e, err := src.Slice(off, off+size)
	if err != nil || int64(len(e)) < size {
		log.Append("TLS directory is truncated")
		return nil
	}
	t := &TLS{}
	var callbacksVA uint64
	if img.Opt.IsPlus {
		t.StartAddressOfRawData, _ = binutil.U64(e, 0, binutil.LE)
		t.EndAddressOfRawData, _ = binutil.U64(e, 8, binutil.LE)
		callbacksVA, _ = binutil.U64(e, 24, binutil.LE)
	} else {
		s32, _ := binutil.U32(e, 0, binutil.LE)
		e32, _ := binutil.U32(e, 4, binutil.LE)
		c32, _ := binutil.U32(e, 12, binutil.LE)
		t.StartAddressOfRawData, t.EndAddressOfRawData, callbacksVA = uint64(s32), uint64(e32), uint64(c32)
	}
	if callbacksVA == 0 {
		return t
	}
	callbackRVA := uint32(callbacksVA - img.Opt.ImageBase)
	cbOff, ok := img.RVAToOffset(callbackRVA)
	if !ok {
		log.Append("TLS callback table VA does not map to any section")
		return t
	}
	for i := 0; i < 1024; i++ {
		b, err := src.Slice(cbOff+int64(i)*ptrSize, cbOff+int64(i+1)*ptrSize)
		if err != nil || int64(len(b)) < ptrSize {
			break
		}
		var va uint64
		if ptrSize == 8 {
			va, _ = binutil.U64(b, 0, binutil.LE)
		} else {
			v, _ := binutil.U32(b, 0, binutil.LE)
			va = uint64(v)
		}
		if va == 0 {
			break
		}
		t.Callbacks = append(t.Callbacks, va)
	}
	return t
}

func parseSecurity(src bytesource.Source, dir DataDirectory, log *issuelog.Log) []SecurityCertificate {
	// The security directory is one of the few RVA-shaped directories
	// whose "RVA" field is actually a raw file offset (spec.md §4.5).
	off := int64(dir.RVA)
	end := off + int64(dir.Size)
	var out []SecurityCertificate
	for i := 0; i < 8 && off < end; i++ {
		hdr, err := src.Slice(off, off+8)
		if err != nil || len(hdr) < 8 {
			break
		}
		length, _ := binutil.U32(hdr, 0, binutil.LE)
		revision, _ := binutil.U16(hdr, 4, binutil.LE)
		certType, _ := binutil.U16(hdr, 6, binutil.LE)
		if length < 8 {
			log.Offsetf(off, "WIN_CERTIFICATE length %d is smaller than its own header", length)
			break
		}
		out = append(out, SecurityCertificate{Length: length, Revision: revision, CertificateType: certType})
		// entries are 8-byte aligned
		advance := int64(length)
		if rem := advance % 8; rem != 0 {
			advance += 8 - rem
		}
		off += advance
	}
	return out
}

func seedDisassembler(src bytesource.Source, img *Image, dis disasm.Disassembler, log *issuelog.Log) {
	if dis == nil {
		return
	}
	var regions []disasm.Region
	for _, s := range img.Sections {
		if !s.Executable || s.RawSize == 0 {
			continue
		}
		b, err := src.Slice(int64(s.RawPointer), int64(s.RawPointer+s.RawSize))
		if err != nil {
			continue
		}
		regions = append(regions, disasm.Region{VAddrStart: uint64(s.VirtualAddress), Bytes: b})
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
	if img.Opt.AddressOfEntryPoint != 0 {
		if inRegion(uint64(img.Opt.AddressOfEntryPoint)) {
			entrypoints = append(entrypoints, uint64(img.Opt.AddressOfEntryPoint))
		} else {
			dropped++
		}
	}
	if img.Exports != nil {
		for _, fn := range img.Exports.Functions {
			if fn.Forwarder != "" {
				continue
			}
			if inRegion(uint64(fn.RVA)) {
				entrypoints = append(entrypoints, uint64(fn.RVA))
			} else {
				dropped++
			}
		}
	}
	if dropped > 0 {
		log.Appendf("dropped %d disassembly seed(s) that did not map into an executable region", dropped)
	}

	bitness := 32
	if img.Opt.IsPlus {
		bitness = 64
	}
	dis.Seed(disasm.Seeds{Bitness: bitness, Sections: regions, Entrypoints: entrypoints})
}
