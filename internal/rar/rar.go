// Package rar implements the RAR Analyzer (spec.md §4.8, C9): a v4
// block-based walk (MAIN/FILE/ENDARC) and a v5 VInt-driven walk with
// header CRC, both under a strict advancing-offset invariant and a hard
// iteration cap.
//
// Grounded on javi11-rarlist's rar_list.go, which scans the same v4/v5
// block chain to list archive members from a bufio.Reader; we keep its
// field names and header-type switch but read through a
// bytesource.Cursor instead of a buffered file reader, and push
// deviations onto an issuelog.Log instead of returning a Go error, per
// spec.md §7's "continue with issues" discipline.
package rar

import (
	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/fabricconfig"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

var sigV4 = []byte("Rar!\x1A\x07\x00")
var sigV5 = []byte("Rar!\x1A\x07\x01\x00")

// Method labels for RAR v4's single-byte compression method.
var v4MethodLabel = [...]string{"Store", "Fastest", "Fast", "Normal", "Good", "Best"}

// Entry is one decoded file entry, common across v4 and v5.
type Entry struct {
	Name       string
	PackSize   uint64
	UnpSize    uint64
	HostOS     uint64
	CRC32      uint32
	DosTime    uint32
	Method     string
	IsDir      bool
}

// EndArc describes the v4/v5 archive-end marker.
type EndArc struct {
	Present    bool
	NextVolume bool
}

// Archive is the rar analyzer's output.
type Archive struct {
	Version int // 4 or 5; 0 if unrecognized
	Entries []Entry
	EndArc  EndArc
	Issues  []string
}

// Analyze dispatches on signature and walks a RAR archive.
func Analyze(src bytesource.Source) *Archive {
	log := issuelog.New()
	arc := &Archive{}

	head, err := src.Slice(0, min(8, src.Length()))
	if err != nil {
		arc.Issues = log.Snapshot()
		return arc
	}
	switch {
	case hasPrefix(head, sigV5):
		arc.Version = 5
		walkV5(src, bytesource.NewCursor(src, int64(len(sigV5))), arc, log)
	case hasPrefix(head, sigV4):
		arc.Version = 4
		walkV4(src, bytesource.NewCursor(src, int64(len(sigV4))), arc, log)
	default:
		log.Append("does not begin with a recognized RAR signature")
	}

	arc.Issues = log.Snapshot()
	return arc
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i, c := range prefix {
		if b[i] != c {
			return false
		}
	}
	return true
}

// RAR v4 block-header flag bits.
const (
	lhdLarge     = 0x0100
	lhdUnicode   = 0x0200
	lhdSalt      = 0x0400
	lhdWindowMsk = 0x00E0
	lhdDirectory = 0x00E0
	longBlock    = 0x8000
	fileAttrDir  = 0x10
)

// headType values.
const (
	htMain   = 0x73
	htFile   = 0x74
	htEndArc = 0x7B
)

// v4 FILE_HEAD field offsets, relative to the start of the block (i.e.
// including the 7-byte CRC16/headType/flags/headSize fixed header that
// precedes every RAR4 block).
const (
	v4PackSizeOff  = 7
	v4UnpSizeOff   = 11
	v4HostOSOff    = 15
	v4FileCRCOff   = 16
	v4DosTimeOff   = 20
	v4UnpVerOff    = 24
	v4MethodOff    = 25
	v4NameSizeOff  = 26
	v4FileAttrOff  = 28
	v4NameBaseOff  = 32
)

func walkV4(src bytesource.Source, cur *bytesource.Cursor, arc *Archive, log *issuelog.Log) {
	for i := 0; i < fabricconfig.RARIterationCap; i++ {
		if cur.Remaining() < 7 {
			break
		}
		start := cur.Pos
		fixed, ok := cur.Peek(7)
		if !ok {
			break
		}
		headType := fixed[2]
		flags, _ := binutil.U16(fixed, 3, binutil.LE)
		headSize, _ := binutil.U16(fixed, 5, binutil.LE)

		if headSize < 7 {
			log.Offsetf(start, "v4 block header size %d is smaller than the fixed header", headSize)
			break
		}
		blockLen := int64(headSize)
		if flags&longBlock != 0 && cur.Remaining() >= 11 {
			extBuf, _ := cur.Peek(11)
			addSize, _ := binutil.U32(extBuf, 7, binutil.LE)
			blockLen += int64(addSize)
		}

		body, ok := cur.Take(blockLen)
		if !ok {
			log.Offsetf(start, "v4 block (type %#02x, size %d) runs past end of archive", headType, blockLen)
			break
		}

		switch headType {
		case htMain:
			// nothing further decoded; presence is enough to continue.
		case htEndArc:
			arc.EndArc.Present = true
			arc.EndArc.NextVolume = flags&0x0001 != 0
			return
		case htFile:
			if len(body) < v4NameBaseOff {
				log.Offsetf(start, "v4 file header is truncated")
				continue
			}
			packSize, _ := binutil.U32(body, v4PackSizeOff, binutil.LE)
			unpSize, _ := binutil.U32(body, v4UnpSizeOff, binutil.LE)
			fileCRC, _ := binutil.U32(body, v4FileCRCOff, binutil.LE)
			dosTime, _ := binutil.U32(body, v4DosTimeOff, binutil.LE)
			methodByte, _ := binutil.U8(body, v4MethodOff)
			nameSize, _ := binutil.U16(body, v4NameSizeOff, binutil.LE)
			fileAttr, _ := binutil.U32(body, v4FileAttrOff, binutil.LE)

			nameStart := v4NameBaseOff
			if flags&lhdLarge != 0 {
				nameStart += 8
			}
			if flags&lhdSalt != 0 {
				nameStart += 8
			}
			name := ""
			if nameStart+int(nameSize) <= len(body) {
				if flags&lhdUnicode != 0 {
					name, _ = binutil.UTF16LE(body, nameStart, int(nameSize)/2)
				} else {
					name, _ = binutil.ASCII(body, nameStart, int(nameSize))
				}
			} else {
				log.Offsetf(start, "v4 file header name field runs past the header")
			}

			method := "unknown"
			mi := int(methodByte) - 0x30
			if mi >= 0 && mi < len(v4MethodLabel) {
				method = v4MethodLabel[mi]
			}

			// spec.md §9 open question: OR both the window-mask and the
			// attribute-bit directory tests.
			isDir := flags&lhdWindowMsk == lhdDirectory || fileAttr&fileAttrDir != 0

			arc.Entries = append(arc.Entries, Entry{
				Name: name, PackSize: uint64(packSize), UnpSize: uint64(unpSize),
				CRC32: fileCRC, DosTime: dosTime, Method: method, IsDir: isDir,
			})
		default:
			// unrecognized block types are skipped: their declared size
			// has already advanced the cursor past them.
		}
	}
}

// RAR v5 header type values.
const (
	hdMain = 1
	hdFile = 2
	hdEnd  = 5
)

func walkV5(src bytesource.Source, cur *bytesource.Cursor, arc *Archive, log *issuelog.Log) {
	for i := 0; i < fabricconfig.RARIterationCap; i++ {
		if cur.Remaining() < 7 {
			break
		}
		start := cur.Pos
		window, ok := cur.Peek(min(cur.Remaining(), 4096))
		if !ok {
			break
		}

		headerCRC, crcOK := binutil.U32(window, 0, binutil.LE)
		headerSize, nSize, sizeOK := binutil.VIntRAR5(window, 4)
		if !crcOK || !sizeOK {
			log.Offsetf(start, "v5 block header fields are truncated")
			break
		}
		bodyStart := 4 + nSize
		if int64(bodyStart)+int64(headerSize) > int64(len(window)) {
			// re-peek with the exact size now that we know it
			need := int64(bodyStart) + int64(headerSize)
			window, ok = cur.Peek(need)
			if !ok {
				log.Offsetf(start, "v5 block header (declared %d bytes) runs past end of archive", headerSize)
				break
			}
		}
		crcBody := window[bodyStart : int64(bodyStart)+int64(headerSize)]
		if computed := binutil.CRC32(crcBody); computed != headerCRC {
			log.Offsetf(start, "v5 block header CRC mismatch: stored %#08x computed %#08x", headerCRC, computed)
		}

		headerType, nType, ok := binutil.VIntRAR5(crcBody, 0)
		if !ok {
			log.Offsetf(start, "v5 header type VInt is truncated")
			break
		}
		headerFlags, nFlags, ok := binutil.VIntRAR5(crcBody, nType)
		if !ok {
			log.Offsetf(start, "v5 header flags VInt is truncated")
			break
		}
		pos := nType + nFlags
		var extraSize uint64
		if headerFlags&0x0001 != 0 {
			var n int
			extraSize, n, ok = binutil.VIntRAR5(crcBody, pos)
			if !ok {
				break
			}
			pos += n
		}
		var dataSize uint64
		if headerFlags&0x0002 != 0 {
			var n int
			dataSize, n, ok = binutil.VIntRAR5(crcBody, pos)
			if !ok {
				break
			}
			pos += n
		}

		totalAdvance := int64(bodyStart) + int64(headerSize) + int64(dataSize)
		if !cur.SeekTo(start + totalAdvance) {
			log.Offsetf(start, "v5 block did not advance the cursor")
			break
		}

		switch headerType {
		case hdEnd:
			arc.EndArc.Present = true
			arc.EndArc.NextVolume = headerFlags&0x0001 != 0
			return
		case hdFile:
			entry, ok := decodeV5File(crcBody, pos, log, start)
			if ok {
				entry.PackSize = dataSize
				arc.Entries = append(arc.Entries, entry)
			}
		case hdMain:
			// nothing further required
		default:
			// skip unknown header type; size already consumed it
		}
		_ = extraSize
	}
}

func decodeV5File(b []byte, pos int, log *issuelog.Log, blockStart int64) (Entry, bool) {
	fileFlags, n, ok := binutil.VIntRAR5(b, pos)
	if !ok {
		return Entry{}, false
	}
	pos += n
	unpSize, n, ok := binutil.VIntRAR5(b, pos)
	if !ok {
		return Entry{}, false
	}
	pos += n
	attrs, n, ok := binutil.VIntRAR5(b, pos)
	if !ok {
		return Entry{}, false
	}
	pos += n
	var mtime uint32
	if fileFlags&0x0002 != 0 {
		mtime, _ = binutil.U32(b, pos, binutil.LE)
		pos += 4
	}
	var crc uint32
	if fileFlags&0x0004 != 0 {
		crc, _ = binutil.U32(b, pos, binutil.LE)
		pos += 4
	}
	_, n, ok = binutil.VIntRAR5(b, pos) // compInfo
	if !ok {
		return Entry{}, false
	}
	pos += n
	hostOS, n, ok := binutil.VIntRAR5(b, pos)
	if !ok {
		return Entry{}, false
	}
	pos += n
	nameLen, n, ok := binutil.VIntRAR5(b, pos)
	if !ok {
		return Entry{}, false
	}
	pos += n
	name := ""
	if pos+int(nameLen) <= len(b) {
		name, _ = binutil.ASCII(b, pos, int(nameLen))
	} else {
		log.Offsetf(blockStart, "v5 file name field runs past the header")
	}
	_ = attrs

	return Entry{
		Name: name, UnpSize: unpSize, CRC32: crc, DosTime: mtime, HostOS: hostOS,
	}, true
}
