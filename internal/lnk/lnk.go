// Package lnk implements the Windows Shell Link (LNK) Analyzer (spec.md
// §4.14, C7): the fixed 76-byte header, LinkTargetIDList PIDL chain,
// LinkInfo (volume + network), counted string data, and ExtraData blocks
// including the property-store "SPS1"/"SPS2" tagged-variant layout.
//
// No .lnk reference file survives in this module's retrieval pack;
// grounded directly on spec.md §4.14's wire description plus this
// fabric's established Cursor/issuelog.Log/binutil idiom, the same way
// the 7z and EBML analyzers are built — noted in DESIGN.md as a
// spec-grounded rather than example-grounded component. The tagged-union
// shape for PIDL items and property VARIANTs follows spec.md §9's
// "runtime-typed value" guidance: a discriminant plus an Other{} escape
// hatch for unrecognized tags.
package lnk

import (
	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

// Shell Link CLSID, little-endian encoded GUID
// {00021401-0000-0000-C000-000000000046}.
var shellLinkCLSID = []byte{
	0x01, 0x14, 0x02, 0x00,
	0x00, 0x00,
	0x00, 0x00,
	0xC0, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x46,
}

// linkFlags bits (spec.md §4.14).
const (
	flagHasLinkTargetIDList   = 1 << 0
	flagHasLinkInfo           = 1 << 1
	flagHasName               = 1 << 2
	flagHasRelativePath       = 1 << 3
	flagHasWorkingDir         = 1 << 4
	flagHasArguments          = 1 << 5
	flagHasIconLocation       = 1 << 6
	flagIsUnicode             = 1 << 7
	flagForceNoLinkInfo       = 1 << 8
)

// PIDLItem is one decoded LinkTargetIDList item.
type PIDLItem struct {
	Type      string // "root", "drive", "file", "folder", "extension", "other"
	TypeByte  byte
	Name      string // decoded long UTF-16 name, when an 0xBEEF0004 extension block supplies one
	Raw       []byte
}

// VolumeID is the LinkInfo VolumeID sub-structure.
type VolumeID struct {
	DriveType   uint32
	DriveSerial uint32
	Label       string
}

// NetworkShare is the LinkInfo CommonNetworkRelativeLink sub-structure.
type NetworkShare struct {
	NetName  string
	DeviceName string
	ProviderType uint32
}

// LinkInfo is the decoded LinkInfo section.
type LinkInfo struct {
	Present        bool
	HasVolumeID    bool
	HasNetworkShare bool
	Volume         VolumeID
	Network        NetworkShare
	LocalBasePath  string
	CommonPathSuffix string
}

// ExtraBlock is one decoded ExtraData block.
type ExtraBlock struct {
	Signature uint32
	Label     string
	Size      uint32
	Raw       []byte
	Properties []PropertyEntry // populated for the property-store block (0xA0000009)
}

// PropertyEntry is one decoded property-store entry.
type PropertyEntry struct {
	FMTID string
	PID   uint32
	VType uint16
	Label string // textual label for recognized VT_* types
	Text  string // decoded value for string-shaped VARIANTs
	UInt  uint64 // decoded value for integer-shaped VARIANTs
}

// Header is the fixed 76-byte Shell Link header.
type Header struct {
	SizeOK        bool
	CLSIDOK       bool
	LinkFlags     uint32
	FileAttributes uint32
	CreationTime  uint64
	AccessTime    uint64
	WriteTime     uint64
	TargetSize    uint32
	IconIndex     int32
	ShowCommand   uint32
	Hotkey        uint16
}

// Document is the lnk analyzer's output.
type Document struct {
	Header       Header
	IDList       []PIDLItem
	LinkInfo     LinkInfo
	Name         string
	RelativePath string
	WorkingDir   string
	Arguments    string
	IconLocation string
	ExtraData    []ExtraBlock
	Issues       []string
}

var extraDataLabels = map[uint32]string{
	0xA0000001: "environment variable",
	0xA0000003: "tracker data",
	0xA0000004: "console FE",
	0xA0000005: "special folder",
	0xA0000009: "property store",
	0xA000000B: "known folder",
	0xA000000C: "Vista+ IDList",
}

// Analyze decodes a Shell Link (.lnk) file from src.
func Analyze(src bytesource.Source) *Document {
	log := issuelog.New()
	doc := &Document{}

	head, err := src.Slice(0, min(76, src.Length()))
	if err != nil || len(head) < 76 {
		log.Append("file is too short to contain a Shell Link header")
		doc.Issues = log.Snapshot()
		return doc
	}

	size, _ := binutil.U32(head, 0, binutil.LE)
	doc.Header.SizeOK = size == 0x4C
	if !doc.Header.SizeOK {
		log.Offsetf(0, "Shell Link header size field is %#x, expected 0x4c", size)
	}
	doc.Header.CLSIDOK = bytesEqual(head[4:20], shellLinkCLSID)
	if !doc.Header.CLSIDOK {
		log.Offsetf(4, "Shell Link CLSID does not match the well-known value")
	}

	doc.Header.LinkFlags, _ = binutil.U32(head, 20, binutil.LE)
	doc.Header.FileAttributes, _ = binutil.U32(head, 24, binutil.LE)
	doc.Header.CreationTime, _ = binutil.U64(head, 28, binutil.LE)
	doc.Header.AccessTime, _ = binutil.U64(head, 36, binutil.LE)
	doc.Header.WriteTime, _ = binutil.U64(head, 44, binutil.LE)
	doc.Header.TargetSize, _ = binutil.U32(head, 52, binutil.LE)
	iconIndex, _ := binutil.U32(head, 56, binutil.LE)
	doc.Header.IconIndex = int32(iconIndex)
	doc.Header.ShowCommand, _ = binutil.U32(head, 60, binutil.LE)
	doc.Header.Hotkey, _ = binutil.U16(head, 64, binutil.LE)

	cur := bytesource.NewCursor(src, 76)
	flags := doc.Header.LinkFlags
	unicode := flags&flagIsUnicode != 0

	if flags&flagHasLinkTargetIDList != 0 {
		doc.IDList = parseIDList(cur, log)
	}
	if flags&flagHasLinkInfo != 0 && flags&flagForceNoLinkInfo == 0 {
		doc.LinkInfo = parseLinkInfo(cur, log)
	}
	if flags&flagHasName != 0 {
		doc.Name = parseCountedString(cur, unicode, log, "NAME_STRING")
	}
	if flags&flagHasRelativePath != 0 {
		doc.RelativePath = parseCountedString(cur, unicode, log, "RELATIVE_PATH")
	}
	if flags&flagHasWorkingDir != 0 {
		doc.WorkingDir = parseCountedString(cur, unicode, log, "WORKING_DIR")
	}
	if flags&flagHasArguments != 0 {
		doc.Arguments = parseCountedString(cur, unicode, log, "COMMAND_LINE_ARGUMENTS")
	}
	if flags&flagHasIconLocation != 0 {
		doc.IconLocation = parseCountedString(cur, unicode, log, "ICON_LOCATION")
	}

	doc.ExtraData = parseExtraData(cur, log)

	doc.Issues = log.Snapshot()
	return doc
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

func parseIDList(cur *bytesource.Cursor, log *issuelog.Log) []PIDLItem {
	sizeBuf, ok := cur.Take(2)
	if !ok {
		log.Offsetf(cur.Pos, "LinkTargetIDList size field is truncated")
		return nil
	}
	listSize, _ := binutil.U16(sizeBuf, 0, binutil.LE)
	listBody, ok := cur.Take(int64(listSize))
	if !ok {
		log.Offsetf(cur.Pos, "LinkTargetIDList body runs past end of file")
		return nil
	}

	var items []PIDLItem
	pos := 0
	for pos+2 <= len(listBody) {
		itemSize, _ := binutil.U16(listBody, pos, binutil.LE)
		if itemSize == 0 {
			break // terminator
		}
		if pos+int(itemSize) > len(listBody) {
			log.Append("PIDL item runs past end of LinkTargetIDList")
			break
		}
		itemBody := listBody[pos+2 : pos+int(itemSize)]
		items = append(items, classifyPIDL(itemBody))
		pos += int(itemSize)
	}
	return items
}

func classifyPIDL(body []byte) PIDLItem {
	item := PIDLItem{Raw: body}
	if len(body) == 0 {
		item.Type = "other"
		return item
	}
	typeByte := body[0]
	item.TypeByte = typeByte
	switch typeByte {
	case 0x1F:
		item.Type = "root"
	case 0x2F:
		item.Type = "drive"
	case 0x31, 0x32:
		if typeByte == 0x31 {
			item.Type = "folder"
		} else {
			item.Type = "file"
		}
		if name, ok := extensionBlockName(body); ok {
			item.Name = name
		}
	default:
		item.Type = "other"
	}
	return item
}

// extensionBlockName scans a file/folder PIDL item's trailing extension
// blocks for an 0xBEEF0004 block, which carries the item's long UTF-16
// name (spec.md §4.14).
func extensionBlockName(body []byte) (string, bool) {
	// Extension blocks are appended after the fixed file-entry fields;
	// scan for the 0xBEEF0004 signature at a 2-byte-size-prefixed offset
	// since the exact fixed-field length varies by sub-version.
	for i := 0; i+4 <= len(body); i++ {
		sig, ok := binutil.U16(body, i+2, binutil.LE)
		if !ok {
			continue
		}
		if sig != 0xBEEF {
			continue
		}
		blockSize, ok := binutil.U16(body, i, binutil.LE)
		if !ok || i+int(blockSize) > len(body) {
			continue
		}
		// Long name is a NUL-terminated UTF-16LE string a fixed distance
		// into the 0xBEEF0004 extension block.
		const nameOff = 0x0C
		if i+nameOff >= len(body) {
			continue
		}
		if name, ok := binutil.UTF16LE(body, i+nameOff, (len(body)-i-nameOff)/2); ok && name != "" {
			return name, true
		}
	}
	return "", false
}

func parseLinkInfo(cur *bytesource.Cursor, log *issuelog.Log) LinkInfo {
	var li LinkInfo
	start := cur.Pos
	sizeBuf, ok := cur.Take(4)
	if !ok {
		log.Offsetf(start, "LinkInfo size field is truncated")
		return li
	}
	totalSize, _ := binutil.U32(sizeBuf, 0, binutil.LE)
	if totalSize < 4 {
		log.Offsetf(start, "LinkInfo declared size %d is smaller than its own size field", totalSize)
		return li
	}
	rest, ok := cur.Take(int64(totalSize) - 4)
	if !ok {
		log.Offsetf(start, "LinkInfo body runs past end of file")
		return li
	}
	li.Present = true
	b := rest // offsets below are relative to the start of LinkInfo (b[-4:] is the size field we already consumed)

	headerSize, _ := binutil.U32(b, 0, binutil.LE)
	flags, _ := binutil.U32(b, 4, binutil.LE)
	volumeIDOffset, _ := binutil.U32(b, 8, binutil.LE)
	localBasePathOffset, _ := binutil.U32(b, 12, binutil.LE)
	networkShareOffset, _ := binutil.U32(b, 16, binutil.LE)
	commonPathSuffixOffset, _ := binutil.U32(b, 20, binutil.LE)
	var localBasePathOffsetUnicode, commonPathSuffixOffsetUnicode uint32
	if headerSize >= 0x24 {
		localBasePathOffsetUnicode, _ = binutil.U32(b, 24, binutil.LE)
		commonPathSuffixOffsetUnicode, _ = binutil.U32(b, 28, binutil.LE)
	}
	_ = headerSize

	li.HasVolumeID = flags&0x1 != 0
	li.HasNetworkShare = flags&0x2 != 0

	// all offsets in LinkInfo are relative to the start of the LinkInfo
	// structure, i.e. relative to the 4-byte size field we already
	// consumed; b[0] corresponds to that structure's offset 4.
	rel := func(off uint32) int { return int(off) - 4 }

	if li.HasVolumeID && volumeIDOffset > 0 {
		li.Volume = parseVolumeID(b, rel(volumeIDOffset), log)
	}
	if li.HasNetworkShare && networkShareOffset > 0 {
		li.Network = parseNetworkShare(b, rel(networkShareOffset), log)
	}
	if localBasePathOffset > 0 {
		li.LocalBasePath, _ = binutil.ASCII(b, rel(localBasePathOffset), len(b)-rel(localBasePathOffset))
	}
	if commonPathSuffixOffset > 0 {
		li.CommonPathSuffix, _ = binutil.ASCII(b, rel(commonPathSuffixOffset), len(b)-rel(commonPathSuffixOffset))
	}
	if localBasePathOffsetUnicode > 0 {
		if s, ok := binutil.UTF16LE(b, rel(localBasePathOffsetUnicode), (len(b)-rel(localBasePathOffsetUnicode))/2); ok {
			li.LocalBasePath = s
		}
	}
	if commonPathSuffixOffsetUnicode > 0 {
		if s, ok := binutil.UTF16LE(b, rel(commonPathSuffixOffsetUnicode), (len(b)-rel(commonPathSuffixOffsetUnicode))/2); ok {
			li.CommonPathSuffix = s
		}
	}
	return li
}

func parseVolumeID(b []byte, off int, log *issuelog.Log) VolumeID {
	var v VolumeID
	if off < 0 || off+16 > len(b) {
		log.Append("LinkInfo VolumeID offset is out of range")
		return v
	}
	volSize, _ := binutil.U32(b, off, binutil.LE)
	v.DriveType, _ = binutil.U32(b, off+4, binutil.LE)
	v.DriveSerial, _ = binutil.U32(b, off+8, binutil.LE)
	labelOffset, _ := binutil.U32(b, off+12, binutil.LE)
	labelPos := off + int(labelOffset)
	if labelOffset > 0 && labelPos < len(b) && off+int(volSize) <= len(b) {
		v.Label, _ = binutil.ASCII(b, labelPos, off+int(volSize)-labelPos)
	}
	return v
}

func parseNetworkShare(b []byte, off int, log *issuelog.Log) NetworkShare {
	var n NetworkShare
	if off < 0 || off+20 > len(b) {
		log.Append("LinkInfo CommonNetworkRelativeLink offset is out of range")
		return n
	}
	size, _ := binutil.U32(b, off, binutil.LE)
	flags, _ := binutil.U32(b, off+4, binutil.LE)
	netNameOffset, _ := binutil.U32(b, off+8, binutil.LE)
	deviceNameOffset, _ := binutil.U32(b, off+12, binutil.LE)
	n.ProviderType, _ = binutil.U32(b, off+16, binutil.LE)

	end := off + int(size)
	if end > len(b) {
		end = len(b)
	}
	if netNameOffset > 0 && off+int(netNameOffset) < end {
		n.NetName, _ = binutil.ASCII(b, off+int(netNameOffset), end-off-int(netNameOffset))
	}
	if flags&0x2 != 0 && deviceNameOffset > 0 && off+int(deviceNameOffset) < end {
		n.DeviceName, _ = binutil.ASCII(b, off+int(deviceNameOffset), end-off-int(deviceNameOffset))
	}
	return n
}

func parseCountedString(cur *bytesource.Cursor, unicode bool, log *issuelog.Log, field string) string {
	countBuf, ok := cur.Take(2)
	if !ok {
		log.Offsetf(cur.Pos, "%s count field is truncated", field)
		return ""
	}
	count, _ := binutil.U16(countBuf, 0, binutil.LE)
	byteLen := int64(count)
	if unicode {
		byteLen *= 2
	}
	body, ok := cur.Take(byteLen)
	if !ok {
		log.Offsetf(cur.Pos, "%s body runs past end of file", field)
		return ""
	}
	if unicode {
		s, _ := binutil.UTF16LE(body, 0, int(count))
		return s
	}
	s, _ := binutil.ASCII(body, 0, len(body))
	return s
}

func parseExtraData(cur *bytesource.Cursor, log *issuelog.Log) []ExtraBlock {
	var blocks []ExtraBlock
	for i := 0; i < 4096; i++ { // generous bound; terminator always expected well before this
		start := cur.Pos
		head, ok := cur.Peek(8)
		if !ok {
			break
		}
		size, _ := binutil.U32(head, 0, binutil.LE)
		if size == 0 {
			cur.Skip(4)
			break
		}
		if size < 8 {
			log.Offsetf(start, "ExtraData block size %d is smaller than its own header", size)
			break
		}
		body, ok := cur.Take(int64(size))
		if !ok {
			log.Offsetf(start, "ExtraData block (declared %d bytes) runs past end of file", size)
			break
		}
		sig, _ := binutil.U32(body, 4, binutil.LE)
		eb := ExtraBlock{Signature: sig, Size: size, Raw: body[8:]}
		eb.Label = extraDataLabels[sig]
		if eb.Label == "" {
			eb.Label = "unknown"
			log.Offsetf(start, "ExtraData block has unrecognized signature %#08x", sig)
		}
		if sig == 0xA0000009 {
			eb.Properties = parsePropertyStore(body[8:], log, start)
		}
		blocks = append(blocks, eb)
	}
	return blocks
}

// VARIANT type labels (a subset of VT_* the property store commonly uses).
var variantLabels = map[uint16]string{
	0x1F: "VT_LPWSTR",
	0x48: "VT_CLSID",
	0x13: "VT_UI4",
	0x15: "VT_UI8",
	0x14: "VT_I8",
	0x03: "VT_I4",
	0x0B: "VT_BOOL",
	0x40: "VT_FILETIME",
	0x1E: "VT_LPSTR",
}

// parsePropertyStore decodes the "SPS1"/"SPS2" storages a property-store
// ExtraData block contains, each keyed by an FMTID and a chain of
// PID-tagged entries whose values are VARIANT-style typed scalars
// (spec.md §4.14).
func parsePropertyStore(body []byte, log *issuelog.Log, blockStart int64) []PropertyEntry {
	var out []PropertyEntry
	pos := 0
	for pos+20 <= len(body) {
		storageSize, _ := binutil.U32(body, pos, binutil.LE)
		if storageSize == 0 {
			break
		}
		if pos+int(storageSize) > len(body) {
			log.Offsetf(blockStart, "property storage runs past end of its ExtraData block")
			break
		}
		storage := body[pos : pos+int(storageSize)]
		// storage[4:8] == "1SPS" or "2SPS" little-endian ("SPS1"/"SPS2"
		// read as bytes); storage[8:24] is the FMTID GUID.
		if len(storage) < 24 {
			pos += int(storageSize)
			continue
		}
		fmtid := guidString(storage[8:24])
		out = append(out, parsePropertyEntries(storage[24:], fmtid)...)
		pos += int(storageSize)
	}
	return out
}

func parsePropertyEntries(b []byte, fmtid string) []PropertyEntry {
	var out []PropertyEntry
	pos := 0
	for pos+8 <= len(b) {
		entrySize, _ := binutil.U32(b, pos, binutil.LE)
		if entrySize == 0 {
			break
		}
		if pos+int(entrySize) > len(b) {
			break
		}
		entry := b[pos : pos+int(entrySize)]
		pid, _ := binutil.U32(entry, 4, binutil.LE)
		if len(entry) >= 10 {
			vtype, _ := binutil.U16(entry, 8, binutil.LE)
			pe := PropertyEntry{FMTID: fmtid, PID: pid, VType: vtype, Label: variantLabels[vtype]}
			if pe.Label == "" {
				pe.Label = "VT_OTHER"
			}
			value := entry[10:]
			switch vtype {
			case 0x1F: // VT_LPWSTR
				pe.Text, _ = binutil.UTF16LE(value, 0, len(value)/2)
			case 0x1E: // VT_LPSTR
				pe.Text, _ = binutil.ASCII(value, 0, len(value))
			case 0x03: // VT_I4
				if u, ok := binutil.U32(value, 0, binutil.LE); ok {
					pe.UInt = uint64(u)
				}
			case 0x13, 0x40: // VT_UI4, VT_FILETIME (low 32 bits)
				if u, ok := binutil.U32(value, 0, binutil.LE); ok {
					pe.UInt = uint64(u)
				}
			case 0x15, 0x14: // VT_UI8, VT_I8
				if u, ok := binutil.U64(value, 0, binutil.LE); ok {
					pe.UInt = u
				}
			case 0x0B: // VT_BOOL
				if u, ok := binutil.U16(value, 0, binutil.LE); ok {
					pe.UInt = uint64(u)
				}
			}
			out = append(out, pe)
		}
		pos += int(entrySize)
	}
	return out
}

func guidString(b []byte) string {
	if len(b) < 16 {
		return ""
	}
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 36)
	emit := func(v []byte) {
		for _, c := range v {
			buf = append(buf, hex[c>>4], hex[c&0xF])
		}
	}
	emit([]byte{b[3], b[2], b[1], b[0]})
	buf = append(buf, '-')
	emit([]byte{b[5], b[4]})
	buf = append(buf, '-')
	emit([]byte{b[7], b[6]})
	buf = append(buf, '-')
	emit(b[8:10])
	buf = append(buf, '-')
	emit(b[10:16])
	return string(buf)
}
