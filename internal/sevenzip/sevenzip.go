// Package sevenzip implements the 7z Analyzer (spec.md §4.7, C8): the
// 32-byte signature header, the next-header TLV database (StreamsInfo,
// FilesInfo), the derived per-file summary (size, folder index), and the
// archive's solid/encrypted flags. SubStreamsInfo CRC digests are skipped,
// not decoded, so FileEntry.HasCRC and FileEntry.CRC are never set.
//
// There is no 7z reference file left in this module's retrieval pack, so
// this analyzer is grounded directly on spec.md §4.7's wire description
// and on this fabric's own established idiom (Cursor + issuelog.Log +
// binutil.VInt7z), the same discipline every other analyzer here follows;
// DESIGN.md records this as a spec-grounded rather than example-grounded
// component.
package sevenzip

import (
	"fmt"

	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/fabricconfig"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

var signature = [6]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// Property ids used at the top level of the header TLV stream and inside
// FilesInfo.
const (
	idEnd             = 0x00
	idHeader          = 0x01
	idArchiveProps    = 0x02
	idAdditionalStr   = 0x03
	idMainStreamsInfo = 0x04
	idFilesInfo       = 0x05
	idPackInfo        = 0x06
	idUnpackInfo      = 0x07
	idSubStreamsInfo  = 0x08
	idSize            = 0x09
	idCRC             = 0x0A
	idFolder          = 0x0B
	idCodersUnpSize   = 0x0C
	idNumUnpackStream = 0x0D
	idEmptyStream     = 0x0E
	idEmptyFile       = 0x0F
	idAnti            = 0x10
	idName            = 0x11
	idCTime           = 0x12
	idATime           = 0x13
	idMTime           = 0x14
	idWinAttributes   = 0x15
	idEncodedHeader   = 0x17
	idStartPos        = 0x18
	idDummy           = 0x19
)

var coderLabels = map[string]string{
	"00":       "Copy",
	"030101":   "LZMA",
	"21":       "LZMA2",
	"03030103": "BCJ x86",
	"0303011b": "BCJ2 x86",
	"03030106": "ARM",
	"04":       "BZip2",
	"040108":   "Deflate",
	"030401":   "PPMd",
	"06f10701": "AES-256",
}

// Coder is one stage in a folder's compression/filter graph.
type Coder struct {
	MethodID    string
	Label       string
	NumInStreams, NumOutStreams int
}

// Folder is a connected coder graph (spec.md GLOSSARY: "not a filesystem
// directory"). Its bind pairs and packed-stream indices are read past but
// not kept.
type Folder struct {
	Coders       []Coder
	UnpackSize   uint64
	HasCRC       bool
	CRC          uint32
	Encrypted    bool
}

// FileEntry is a derived per-file summary, folding folder/substream data.
type FileEntry struct {
	Name           string
	IsEmptyStream  bool
	IsEmptyFile    bool
	IsAnti         bool
	Size           uint64
	HasCRC         bool
	CRC            uint32
	FolderIndex    int
	MTimeISO       string
	Attributes     uint32
}

// ArchiveFlags are the derived solid/encrypted summary flags.
type ArchiveFlags struct {
	IsSolid            bool
	HeaderEncrypted    bool
	HasEncryptedContent bool
}

// Archive is the sevenzip analyzer's output.
type Archive struct {
	VersionMajor, VersionMinor int
	NextHeaderKind             string // "header", "encoded", "none" (zero-size next header), or "" if not reached
	Folders                    []Folder
	Files                      []FileEntry
	Flags                      ArchiveFlags
	Issues                     []string
}

// Analyze decodes a 7z archive from src.
func Analyze(src bytesource.Source) *Archive {
	log := issuelog.New()
	arc := &Archive{}

	sig, err := src.Slice(0, min(32, src.Length()))
	if err != nil || len(sig) < 32 {
		log.Appendf("file is shorter than the 32-byte 7z signature header (have %d bytes)", len(sig))
		arc.Issues = log.Snapshot()
		return arc
	}
	for i, c := range signature {
		if sig[i] != c {
			log.Append("does not begin with the 7z signature")
			arc.Issues = log.Snapshot()
			return arc
		}
	}
	arc.VersionMajor, arc.VersionMinor = int(sig[6]), int(sig[7])

	nextHeaderOffset, _ := binutil.U64(sig, 12, binutil.LE)
	nextHeaderSize, _ := binutil.U64(sig, 20, binutil.LE)
	if nextHeaderSize == 0 {
		arc.NextHeaderKind = "none"
		arc.Issues = log.Snapshot()
		return arc
	}

	headerStart := int64(32) + int64(nextHeaderOffset)
	headerBuf, err := src.Slice(headerStart, headerStart+int64(nextHeaderSize))
	if err != nil || int64(len(headerBuf)) != int64(nextHeaderSize) {
		log.Offsetf(headerStart, "next header (declared %d bytes) runs past end of archive", nextHeaderSize)
		arc.Issues = log.Snapshot()
		return arc
	}

	pos := 0
	id, ok := binutil.U8(headerBuf, pos)
	if !ok {
		arc.Issues = log.Snapshot()
		return arc
	}
	if id == idEncodedHeader {
		arc.NextHeaderKind = "encoded"
		log.Append("next header is encoded (compressed or encrypted); decoding it is out of scope")
		arc.Issues = log.Snapshot()
		return arc
	}
	if id != idHeader {
		log.Offsetf(headerStart, "unexpected top-level property id %#02x, expected Header (0x01)", id)
		arc.Issues = log.Snapshot()
		return arc
	}
	arc.NextHeaderKind = "header"
	pos++

	var mainStreams *streamsInfo
	var filesInfo []rawFileEntry

	for pos < len(headerBuf) {
		propID, ok := binutil.U8(headerBuf, pos)
		if !ok {
			break
		}
		if propID == idEnd {
			pos++
			break
		}
		pos++
		switch propID {
		case idArchiveProps:
			pos = skipArchiveProperties(headerBuf, pos, log)
		case idAdditionalStr:
			log.Append("AdditionalStreamsInfo is present but not decoded")
			pos = len(headerBuf) // bail out; rare and declared out of scope in depth
		case idMainStreamsInfo:
			si, next, ok := parseStreamsInfo(headerBuf, pos, log)
			if !ok {
				pos = len(headerBuf)
				break
			}
			mainStreams = si
			pos = next
		case idFilesInfo:
			fi, next, ok := parseFilesInfo(headerBuf, pos, log)
			if !ok {
				pos = len(headerBuf)
				break
			}
			filesInfo = fi
			pos = next
		default:
			log.Offsetf(headerStart+int64(pos), "unrecognized top-level header property id %#02x", propID)
			pos = len(headerBuf)
		}
	}

	if mainStreams != nil {
		for _, f := range mainStreams.folders {
			arc.Folders = append(arc.Folders, f)
		}
	}
	arc.Files = deriveFiles(mainStreams, filesInfo)
	arc.Flags = deriveFlags(mainStreams, arc)

	arc.Issues = log.Snapshot()
	return arc
}

func skipArchiveProperties(b []byte, pos int, log *issuelog.Log) int {
	for pos < len(b) {
		id, ok := binutil.U8(b, pos)
		if !ok || id == idEnd {
			return pos + 1
		}
		pos++
		size, n, ok := binutil.VInt7z(b, pos)
		if !ok {
			return len(b)
		}
		pos += n + int(size)
	}
	return pos
}

type streamsInfo struct {
	packPos     uint64
	packSizes   []uint64
	folders     []Folder
	numUnpackStreams []int // per folder
	subSizes    []uint64   // per substream, flattened across folders
	subCRCs     map[int]uint32
}

func parseStreamsInfo(b []byte, pos int, log *issuelog.Log) (*streamsInfo, int, bool) {
	si := &streamsInfo{}
	for pos < len(b) {
		id, ok := binutil.U8(b, pos)
		if !ok {
			return si, pos, false
		}
		if id == idEnd {
			return si, pos + 1, true
		}
		pos++
		switch id {
		case idPackInfo:
			var ok2 bool
			pos, ok2 = parsePackInfo(b, pos, si, log)
			if !ok2 {
				return si, pos, false
			}
		case idUnpackInfo:
			var ok2 bool
			pos, ok2 = parseUnpackInfo(b, pos, si, log)
			if !ok2 {
				return si, pos, false
			}
		case idSubStreamsInfo:
			var ok2 bool
			pos, ok2 = parseSubStreamsInfo(b, pos, si, log)
			if !ok2 {
				return si, pos, false
			}
		default:
			log.Offsetf(int64(pos), "unrecognized StreamsInfo property id %#02x", id)
			return si, pos, false
		}
	}
	return si, pos, false
}

func parsePackInfo(b []byte, pos int, si *streamsInfo, log *issuelog.Log) (int, bool) {
	packPos, n, ok := binutil.VInt7z(b, pos)
	if !ok {
		return pos, false
	}
	pos += n
	numPackStreams, n, ok := binutil.VInt7z(b, pos)
	if !ok {
		return pos, false
	}
	pos += n
	si.packPos = packPos

	for pos < len(b) {
		id, ok := binutil.U8(b, pos)
		if !ok {
			return pos, false
		}
		if id == idEnd {
			pos++
			break
		}
		pos++
		switch id {
		case idSize:
			for i := uint64(0); i < numPackStreams; i++ {
				sz, n2, ok := binutil.VInt7z(b, pos)
				if !ok {
					return pos, false
				}
				pos += n2
				si.packSizes = append(si.packSizes, sz)
			}
		case idCRC:
			pos = skipDigestVector(b, pos, numPackStreams, log)
		default:
			log.Offsetf(int64(pos), "unrecognized PackInfo property id %#02x", id)
			return pos, false
		}
	}
	return pos, true
}

// skipDigestVector consumes a "defined" bitmap followed by one CRC-32 per
// entry whose bit is set (7z's "Digests" structure), used by PackInfo and
// SubStreamsInfo; UnpackInfo decodes its folder CRCs inline instead.
func skipDigestVector(b []byte, pos int, count uint64, log *issuelog.Log) int {
	allDefined, ok := binutil.U8(b, pos)
	if !ok {
		return pos
	}
	pos++
	defined := make([]bool, count)
	if allDefined != 0 {
		for i := range defined {
			defined[i] = true
		}
	} else {
		bits, consumed := readBitVector(b, pos, int(count))
		pos += consumed
		defined = bits
	}
	for _, d := range defined {
		if d {
			pos += 4
		}
	}
	return pos
}

func readBitVector(b []byte, pos int, count int) ([]bool, int) {
	out := make([]bool, count)
	nBytes := (count + 7) / 8
	for i := 0; i < count; i++ {
		byteIdx := pos + i/8
		if byteIdx >= len(b) {
			break
		}
		out[i] = b[byteIdx]&(0x80>>uint(i%8)) != 0
	}
	return out, nBytes
}

func parseUnpackInfo(b []byte, pos int, si *streamsInfo, log *issuelog.Log) (int, bool) {
	id, ok := binutil.U8(b, pos)
	if !ok || id != idFolder {
		log.Offsetf(int64(pos), "UnpackInfo missing Folder property")
		return pos, false
	}
	pos++
	numFolders, n, ok := binutil.VInt7z(b, pos)
	if !ok {
		return pos, false
	}
	pos += n
	external, ok := binutil.U8(b, pos)
	if !ok {
		return pos, false
	}
	pos++
	if external != 0 {
		log.Append("external folder definitions are not supported")
		return pos, false
	}

	folders := make([]Folder, 0, numFolders)
	for f := uint64(0); f < numFolders; f++ {
		folder, next, ok := parseFolder(b, pos)
		if !ok {
			log.Offsetf(int64(pos), "folder %d is malformed", f)
			return pos, false
		}
		folders = append(folders, folder)
		pos = next
	}

	for pos < len(b) {
		propID, ok := binutil.U8(b, pos)
		if !ok {
			return pos, false
		}
		if propID == idEnd {
			pos++
			break
		}
		pos++
		switch propID {
		case idCodersUnpSize:
			for i := range folders {
				sz, n, ok := binutil.VInt7z(b, pos)
				if !ok {
					return pos, false
				}
				pos += n
				folders[i].UnpackSize = sz
			}
		case idCRC:
			allDefined, ok := binutil.U8(b, pos)
			if !ok {
				return pos, false
			}
			pos++
			defined := make([]bool, len(folders))
			if allDefined != 0 {
				for i := range defined {
					defined[i] = true
				}
			} else {
				bits, consumed := readBitVector(b, pos, len(folders))
				defined = bits
				pos += consumed
			}
			for i, d := range defined {
				if d {
					crc, _ := binutil.U32(b, pos, binutil.LE)
					folders[i].HasCRC = true
					folders[i].CRC = crc
					pos += 4
				}
			}
		default:
			log.Offsetf(int64(pos), "unrecognized UnpackInfo property id %#02x", propID)
			return pos, false
		}
	}
	si.folders = folders
	return pos, true
}

func parseFolder(b []byte, pos int) (Folder, int, bool) {
	var folder Folder
	numCoders, n, ok := binutil.VInt7z(b, pos)
	if !ok {
		return folder, pos, false
	}
	pos += n

	totalIn, totalOut := 0, 0
	for c := uint64(0); c < numCoders; c++ {
		flags, ok := binutil.U8(b, pos)
		if !ok {
			return folder, pos, false
		}
		pos++
		idSize := int(flags & 0x0F)
		isComplex := flags&0x10 != 0
		hasAttrs := flags&0x20 != 0

		if pos+idSize > len(b) {
			return folder, pos, false
		}
		methodID := fmt.Sprintf("%x", b[pos:pos+idSize])
		pos += idSize

		numIn, numOut := 1, 1
		if isComplex {
			var n1, n2 int
			var v1, v2 uint64
			v1, n1, ok = binutil.VInt7z(b, pos)
			if !ok {
				return folder, pos, false
			}
			pos += n1
			v2, n2, ok = binutil.VInt7z(b, pos)
			if !ok {
				return folder, pos, false
			}
			pos += n2
			numIn, numOut = int(v1), int(v2)
		}
		if hasAttrs {
			propSize, n, ok := binutil.VInt7z(b, pos)
			if !ok {
				return folder, pos, false
			}
			pos += n + int(propSize)
		}
		totalIn += numIn
		totalOut += numOut
		label, known := coderLabels[methodID]
		if !known {
			label = "unknown (" + methodID + ")"
		}
		folder.Coders = append(folder.Coders, Coder{MethodID: methodID, Label: label, NumInStreams: numIn, NumOutStreams: numOut})
		if methodID == "06f10701" {
			folder.Encrypted = true
		}
	}

	numBindPairs := totalOut - 1
	for i := 0; i < numBindPairs; i++ {
		_, n1, ok := binutil.VInt7z(b, pos)
		if !ok {
			return folder, pos, false
		}
		pos += n1
		_, n2, ok := binutil.VInt7z(b, pos)
		if !ok {
			return folder, pos, false
		}
		pos += n2
	}
	numPackedStreams := totalIn - numBindPairs
	if numPackedStreams > 1 {
		for i := 0; i < numPackedStreams; i++ {
			_, n, ok := binutil.VInt7z(b, pos)
			if !ok {
				return folder, pos, false
			}
			pos += n
		}
	}
	return folder, pos, true
}

func parseSubStreamsInfo(b []byte, pos int, si *streamsInfo, log *issuelog.Log) (int, bool) {
	numUnpackStreams := make([]int, len(si.folders))
	for i := range numUnpackStreams {
		numUnpackStreams[i] = 1
	}
	for pos < len(b) {
		id, ok := binutil.U8(b, pos)
		if !ok {
			return pos, false
		}
		if id == idEnd {
			pos++
			break
		}
		pos++
		switch id {
		case idNumUnpackStream:
			for i := range si.folders {
				n, nb, ok := binutil.VInt7z(b, pos)
				if !ok {
					return pos, false
				}
				pos += nb
				numUnpackStreams[i] = int(n)
			}
		case idSize:
			// sizes are given for all but the last substream of each
			// multi-stream folder; the last is derived from the folder's
			// total unpack size.
			for i, folder := range si.folders {
				count := numUnpackStreams[i]
				if count == 0 {
					continue
				}
				var sum uint64
				for s := 0; s < count-1; s++ {
					sz, nb, ok := binutil.VInt7z(b, pos)
					if !ok {
						return pos, false
					}
					pos += nb
					si.subSizes = append(si.subSizes, sz)
					sum += sz
				}
				si.subSizes = append(si.subSizes, folder.UnpackSize-sum)
			}
		case idCRC:
			// spec.md §9 open question: size the digest vector by total
			// substream count, matching the official reference.
			total := 0
			for _, n := range numUnpackStreams {
				total += n
			}
			pos = skipDigestVector(b, pos, uint64(total), log)
		default:
			log.Offsetf(int64(pos), "unrecognized SubStreamsInfo property id %#02x", id)
			return pos, false
		}
	}
	si.numUnpackStreams = numUnpackStreams
	return pos, true
}

type rawFileEntry struct {
	name          string
	isEmptyStream bool
	isEmptyFile   bool
	isAnti        bool
	mtimeISO      string
	attributes    uint32
}

func parseFilesInfo(b []byte, pos int, log *issuelog.Log) ([]rawFileEntry, int, bool) {
	numFiles, n, ok := binutil.VInt7z(b, pos)
	if !ok {
		return nil, pos, false
	}
	pos += n
	files := make([]rawFileEntry, numFiles)

	var emptyStream []bool
	var emptyFile []bool

	for pos < len(b) {
		propID, ok := binutil.U8(b, pos)
		if !ok {
			return files, pos, false
		}
		if propID == idEnd {
			pos++
			break
		}
		pos++
		size, n, ok := binutil.VInt7z(b, pos)
		if !ok {
			return files, pos, false
		}
		pos += n
		fieldEnd := pos + int(size)
		if fieldEnd > len(b) {
			log.Offsetf(int64(pos), "FilesInfo property %#02x declares %d bytes, past end of header", propID, size)
			return files, pos, false
		}

		switch propID {
		case idEmptyStream:
			bits, _ := readBitVector(b, pos, int(numFiles))
			emptyStream = bits
			for i, v := range bits {
				files[i].isEmptyStream = v
			}
		case idEmptyFile:
			count := 0
			for _, v := range emptyStream {
				if v {
					count++
				}
			}
			bits, _ := readBitVector(b, pos, count)
			emptyFile = bits
		case idAnti:
			count := 0
			for _, v := range emptyStream {
				if v {
					count++
				}
			}
			bits, _ := readBitVector(b, pos, count)
			j := 0
			for i, v := range emptyStream {
				if v {
					files[i].isAnti = j < len(bits) && bits[j]
					j++
				}
			}
		case idName:
			external, _ := binutil.U8(b, pos)
			namePos := pos + 1
			if external != 0 {
				log.Append("external file names are not supported")
				break
			}
			for i := 0; i < int(numFiles) && namePos < fieldEnd; i++ {
				name, _ := binutil.UTF16LE(b, namePos, (fieldEnd-namePos)/2)
				files[i].name = name
				namePos += (len(name) + 1) * 2
			}
		case idMTime:
			times, consumed := readFileTimeVector(b, pos, int(numFiles))
			_ = consumed
			for i, t := range times {
				files[i].mtimeISO = t
			}
		case idWinAttributes:
			allDefined, _ := binutil.U8(b, pos)
			p := pos + 1
			defined := make([]bool, numFiles)
			if allDefined != 0 {
				for i := range defined {
					defined[i] = true
				}
			} else {
				bits, consumed := readBitVector(b, p, int(numFiles))
				defined = bits
				p += consumed
			}
			external, _ := binutil.U8(b, p)
			p++
			if external == 0 {
				for i, d := range defined {
					if d {
						attr, _ := binutil.U32(b, p, binutil.LE)
						files[i].attributes = attr
						p += 4
					}
				}
			}
		}
		pos = fieldEnd
	}
	j := 0
	for i, v := range emptyStream {
		if v && j < len(emptyFile) {
			files[i].isEmptyFile = emptyFile[j]
			j++
		}
	}
	return files, pos, true
}

func readFileTimeVector(b []byte, pos int, count int) ([]string, int) {
	start := pos
	allDefined, _ := binutil.U8(b, pos)
	pos++
	defined := make([]bool, count)
	if allDefined != 0 {
		for i := range defined {
			defined[i] = true
		}
	} else {
		bits, consumed := readBitVector(b, pos, count)
		defined = bits
		pos += consumed
	}
	external, _ := binutil.U8(b, pos)
	pos++
	out := make([]string, count)
	if external != 0 {
		return out, pos - start
	}
	for i, d := range defined {
		if d {
			ft, _ := binutil.U64(b, pos, binutil.LE)
			if t, ok := binutil.FILETIME(ft); ok {
				out[i] = t.Format("2006-01-02T15:04:05Z")
			}
			pos += 8
		}
	}
	return out, pos - start
}

func deriveFiles(si *streamsInfo, raw []rawFileEntry) []FileEntry {
	out := make([]FileEntry, len(raw))
	substreamIdx := 0
	folderIdx := 0
	remainingInFolder := 0
	if si != nil && len(si.numUnpackStreams) > 0 {
		remainingInFolder = si.numUnpackStreams[0]
	}
	for i, r := range raw {
		out[i] = FileEntry{
			Name: r.name, IsEmptyStream: r.isEmptyStream, IsEmptyFile: r.isEmptyFile,
			IsAnti: r.isAnti, MTimeISO: r.mtimeISO, Attributes: r.attributes,
		}
		if r.isEmptyStream {
			continue
		}
		if si == nil || folderIdx >= len(si.folders) {
			continue
		}
		out[i].FolderIndex = folderIdx
		if substreamIdx < len(si.subSizes) {
			out[i].Size = si.subSizes[substreamIdx]
		} else {
			out[i].Size = si.folders[folderIdx].UnpackSize
		}
		substreamIdx++
		remainingInFolder--
		for remainingInFolder == 0 && folderIdx+1 < len(si.numUnpackStreams) {
			folderIdx++
			remainingInFolder = si.numUnpackStreams[folderIdx]
		}
	}
	return out
}

func deriveFlags(si *streamsInfo, arc *Archive) ArchiveFlags {
	var flags ArchiveFlags
	flags.HeaderEncrypted = arc.NextHeaderKind == "encoded"
	if si != nil {
		filesWithStreams := 0
		for _, f := range arc.Files {
			if !f.IsEmptyStream {
				filesWithStreams++
			}
		}
		for _, n := range si.numUnpackStreams {
			if n > 1 {
				flags.IsSolid = true
			}
		}
		if filesWithStreams > len(si.folders) {
			flags.IsSolid = true
		}
		for _, f := range si.folders {
			if f.Encrypted {
				flags.HasEncryptedContent = true
			}
		}
	}
	return flags
}
