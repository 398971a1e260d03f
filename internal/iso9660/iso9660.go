// Package iso9660 implements the ISO-9660 / Joliet Analyzer (spec.md
// §4.11, C12): volume descriptors starting at logical block 16, both-
// endian numeric fields, and a bounded breadth-first directory walk.
//
// Grounded on this module's own binutil.BothEndianU16/U32 (spec.md §3's
// "Both-Endian Field" primitive) and on the bounded-traversal discipline
// spec.md §9 requires for cyclic/forward-referenced structures — the same
// visited-offset-set-plus-depth-budget shape the teacher's internal/hfs
// catalog-tree walk used for its own (now-removed) domain, generalized
// here to ISO-9660 directory records via fabricconfig's traversal cap.
package iso9660

import (
	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/fabricconfig"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

const blockSize = 2048
const systemAreaBlocks = 16

// Descriptor types.
const (
	vdBoot       = 0
	vdPrimary    = 1
	vdSupplementary = 2
	vdPartition  = 3
	vdTerminator = 255
)

// DirEntry is one decoded directory record.
type DirEntry struct {
	Name       string
	ExtentLBA  uint32
	Size       uint32
	IsDir      bool
	DateISO    string
}

// Volume is one decoded volume descriptor (PVD or SVD).
type Volume struct {
	Type          int
	Joliet        bool
	JolietLevel   int
	SystemID      string
	VolumeID      string
	VolumeSpaceSize uint32
	RootExtentLBA uint32
	RootSize      uint32
	Entries       []DirEntry
}

// Image is the iso9660 analyzer's output.
type Image struct {
	Volumes []Volume
	Issues  []string
}

// Analyze walks the volume descriptor set and the directory tree of each
// primary and supplementary volume.
func Analyze(src bytesource.Source) *Image {
	log := issuelog.New()
	img := &Image{}

	size := src.Length()
	if size < int64(systemAreaBlocks+1)*blockSize {
		log.Append("file is too short to contain a volume descriptor set")
		img.Issues = log.Snapshot()
		return img
	}

	for i := 0; i < 64; i++ { // generous bound; terminator always expected well before this
		offset := int64(systemAreaBlocks+i) * blockSize
		b, err := src.Slice(offset, offset+blockSize)
		if err != nil || len(b) < 7 {
			log.Offsetf(offset, "volume descriptor %d is truncated", i)
			break
		}
		if string(b[1:6]) != "CD001" {
			log.Offsetf(offset, "volume descriptor %d has unrecognized standard identifier %q", i, string(b[1:6]))
			break
		}
		vdType := int(b[0])
		if vdType == vdTerminator {
			break
		}
		switch vdType {
		case vdPrimary, vdSupplementary:
			v := parseVolumeDescriptor(src, b, offset, vdType, log)
			img.Volumes = append(img.Volumes, v)
		case vdBoot, vdPartition:
			// recognized but not structurally decoded beyond the type id
		default:
			log.Offsetf(offset, "unrecognized volume descriptor type %d", vdType)
		}
	}

	img.Issues = log.Snapshot()
	return img
}

func parseVolumeDescriptor(src bytesource.Source, b []byte, absOffset int64, vdType int, log *issuelog.Log) Volume {
	v := Volume{Type: vdType}

	if vdType == vdSupplementary {
		esc := b[88:120]
		switch {
		case hasEscape(esc, "%/@"):
			v.Joliet, v.JolietLevel = true, 1
		case hasEscape(esc, "%/C"):
			v.Joliet, v.JolietLevel = true, 2
		case hasEscape(esc, "%/E"):
			v.Joliet, v.JolietLevel = true, 3
		}
	}

	if v.Joliet {
		v.SystemID, _ = binutil.UCS2BE(b, 8, 16)
		v.VolumeID, _ = binutil.UCS2BE(b, 40, 16)
	} else {
		v.SystemID, _ = binutil.ASCII(b, 8, 32)
		v.VolumeID, _ = binutil.ASCII(b, 40, 32)
	}

	v.VolumeSpaceSize, _ = binutil.BothEndianU32(b, 80, absOffset+80, "volume space size", log)

	rootRecord := b[156:190]
	extentLBA, _ := binutil.BothEndianU32(rootRecord, 2, absOffset+156+2, "root directory extent LBA", log)
	rootSize, _ := binutil.BothEndianU32(rootRecord, 10, absOffset+156+10, "root directory data length", log)
	v.RootExtentLBA = extentLBA
	v.RootSize = rootSize

	v.Entries = walkDirectoryTree(src, extentLBA, v.Joliet, log)
	return v
}

func hasEscape(esc []byte, seq string) bool {
	s := []byte(seq)
	for i := 0; i+len(s) <= len(esc); i++ {
		match := true
		for j := range s {
			if esc[i+j] != s[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// walkDirectoryTree performs a bounded breadth-first traversal from the
// root extent, guarding against directory-record cycles with a
// visited-LBA set and a hard traversal cap (spec.md §9).
func walkDirectoryTree(src bytesource.Source, rootLBA uint32, joliet bool, log *issuelog.Log) []DirEntry {
	var out []DirEntry
	visited := map[uint32]bool{}
	queue := []uint32{rootLBA}
	visitedCount := 0

	for len(queue) > 0 {
		lba := queue[0]
		queue = queue[1:]
		if visited[lba] {
			continue
		}
		visited[lba] = true

		entries, subdirs := readDirectoryBlock(src, lba, joliet, log)
		out = append(out, entries...)
		visitedCount += len(entries)
		if visitedCount > fabricconfig.ISO9660TraversalCap {
			log.Append("ISO-9660 directory traversal exceeded the configured entry cap; truncating walk")
			break
		}
		for _, s := range subdirs {
			if !visited[s] {
				queue = append(queue, s)
			}
		}
	}
	return out
}

func readDirectoryBlock(src bytesource.Source, lba uint32, joliet bool, log *issuelog.Log) (entries []DirEntry, subdirLBAs []uint32) {
	offset := int64(lba) * blockSize
	b, err := src.Slice(offset, offset+blockSize)
	if err != nil {
		log.Offsetf(offset, "directory extent at LBA %d is out of range", lba)
		return nil, nil
	}

	pos := 0
	for pos < len(b) {
		recLen := int(b[pos])
		if recLen == 0 {
			// a zero-length record means "skip to next logical block"
			// within a multi-block extent; single-block directories end
			// scanning here.
			break
		}
		if pos+recLen > len(b) {
			log.Offsetf(offset+int64(pos), "directory record runs past the end of its block")
			break
		}
		rec := b[pos : pos+recLen]
		extentLBA, _ := binutil.BothEndianU32(rec, 2, offset+int64(pos)+2, "directory record extent LBA", log)
		dataLen, _ := binutil.BothEndianU32(rec, 10, offset+int64(pos)+10, "directory record data length", log)
		flags, _ := binutil.U8(rec, 25)
		nameLen, _ := binutil.U8(rec, 32)
		isDir := flags&0x02 != 0

		var name string
		if int(nameLen) > 0 && 33+int(nameLen) <= len(rec) {
			if joliet {
				name, _ = binutil.UCS2BE(rec, 33, int(nameLen)/2)
			} else {
				name, _ = binutil.ASCII(rec, 33, int(nameLen))
			}
		}
		if name == "\x00" {
			name = "."
		} else if name == "\x01" {
			name = ".."
		}

		var dateISO string
		if 18+7 <= len(rec) {
			var ts [7]byte
			copy(ts[:], rec[18:25])
			if t, ok := binutil.ISO9660DateTime(ts); ok {
				dateISO = t.Format("2006-01-02T15:04:05Z")
			}
		}

		if name != "." && name != ".." {
			entries = append(entries, DirEntry{
				Name: name, ExtentLBA: extentLBA, Size: dataLen, IsDir: isDir, DateISO: dateISO,
			})
			if isDir {
				subdirLBAs = append(subdirLBAs, extentLBA)
			}
		}

		pos += recLen
	}
	return entries, subdirLBAs
}
