// Package sqliteheader implements the SQLite Header Analyzer (spec.md
// §4.15, C15): a fixed 100-byte layout with a handful of special-cased
// fields, no recursion and no VInts — the simplest analyzer in the fabric,
// grounded on the same offset-table-plus-issue-log shape every other
// analyzer here uses, scaled down.
package sqliteheader

import (
	"fmt"

	"github.com/cursorbyte/binfabric/internal/binutil"
	"github.com/cursorbyte/binfabric/internal/bytesource"
	"github.com/cursorbyte/binfabric/internal/issuelog"
)

const headerSize = 100

const magic = "SQLite format 3\x00"

// Header is the decoded 100-byte SQLite database header.
type Header struct {
	Magic              string
	PageSize           uint32
	WriteVersion       int
	ReadVersion        int
	ReservedSpace      int
	MaxEmbeddedPayload int
	MinEmbeddedPayload int
	LeafPayloadFrac    int
	FileChangeCounter  uint32
	DatabaseSizePages  uint32
	FirstFreelistPage  uint32
	FreelistPageCount  uint32
	SchemaCookie       uint32
	SchemaFormat       uint32
	SchemaFormatLabel  string
	DefaultCacheSize   uint32
	LargestRootPage    uint32
	TextEncoding       uint32
	TextEncodingLabel  string
	UserVersion        uint32
	IncrementalVacuum  bool
	ApplicationID      uint32
	VersionValidFor    uint32
	SQLiteVersion      uint32
	SQLiteVersionLabel string

	Issues []string
}

// Analyze decodes the fixed 100-byte SQLite header from the start of src.
func Analyze(src bytesource.Source) *Header {
	log := issuelog.New()
	h := &Header{}

	b, err := src.Slice(0, min(headerSize, src.Length()))
	if err != nil || len(b) < headerSize {
		log.Appendf("file is shorter than the 100-byte SQLite header (have %d bytes)", len(b))
		h.Issues = log.Snapshot()
		return h
	}

	h.Magic = string(b[0:16])
	if h.Magic != magic {
		log.Append("magic string does not match \"SQLite format 3\\x00\"")
	}

	rawPageSize, _ := binutil.LoggedU16(b, 16, binutil.BE, "page size", log)
	if rawPageSize == 1 {
		h.PageSize = 65536
	} else {
		h.PageSize = uint32(rawPageSize)
	}
	if h.PageSize < 512 || h.PageSize > 65536 || h.PageSize&(h.PageSize-1) != 0 {
		log.Appendf("page size %d is not a power of two between 512 and 65536", h.PageSize)
	}

	wv, _ := binutil.U8(b, 18)
	rv, _ := binutil.U8(b, 19)
	h.WriteVersion, h.ReadVersion = int(wv), int(rv)

	resv, _ := binutil.U8(b, 20)
	h.ReservedSpace = int(resv)
	maxf, _ := binutil.U8(b, 21)
	minf, _ := binutil.U8(b, 22)
	leaf, _ := binutil.U8(b, 23)
	h.MaxEmbeddedPayload, h.MinEmbeddedPayload, h.LeafPayloadFrac = int(maxf), int(minf), int(leaf)
	if h.MaxEmbeddedPayload != 64 {
		log.Appendf("maximum embedded payload fraction %d is not the canonical value 64", h.MaxEmbeddedPayload)
	}
	if h.MinEmbeddedPayload != 32 {
		log.Appendf("minimum embedded payload fraction %d is not the canonical value 32", h.MinEmbeddedPayload)
	}
	if h.LeafPayloadFrac != 32 {
		log.Appendf("leaf payload fraction %d is not the canonical value 32", h.LeafPayloadFrac)
	}

	h.FileChangeCounter, _ = binutil.LoggedU32(b, 24, binutil.BE, "file change counter", log)
	h.DatabaseSizePages, _ = binutil.LoggedU32(b, 28, binutil.BE, "database size in pages", log)
	h.FirstFreelistPage, _ = binutil.LoggedU32(b, 32, binutil.BE, "first freelist trunk page", log)
	h.FreelistPageCount, _ = binutil.LoggedU32(b, 36, binutil.BE, "freelist page count", log)
	h.SchemaCookie, _ = binutil.LoggedU32(b, 40, binutil.BE, "schema cookie", log)
	h.SchemaFormat, _ = binutil.LoggedU32(b, 44, binutil.BE, "schema format number", log)
	h.SchemaFormatLabel = schemaFormatLabel(h.SchemaFormat, log)
	h.DefaultCacheSize, _ = binutil.LoggedU32(b, 48, binutil.BE, "default page cache size", log)
	h.LargestRootPage, _ = binutil.LoggedU32(b, 52, binutil.BE, "largest root b-tree page", log)
	h.TextEncoding, _ = binutil.LoggedU32(b, 56, binutil.BE, "text encoding", log)
	h.TextEncodingLabel = textEncodingLabel(h.TextEncoding, log)
	h.UserVersion, _ = binutil.LoggedU32(b, 60, binutil.BE, "user version", log)
	vac, _ := binutil.LoggedU32(b, 64, binutil.BE, "incremental-vacuum mode", log)
	h.IncrementalVacuum = vac != 0
	h.ApplicationID, _ = binutil.LoggedU32(b, 68, binutil.BE, "application ID", log)
	h.VersionValidFor, _ = binutil.LoggedU32(b, 92, binutil.BE, "version-valid-for number", log)
	h.SQLiteVersion, _ = binutil.LoggedU32(b, 96, binutil.BE, "SQLite version number", log)
	h.SQLiteVersionLabel = sqliteVersionLabel(h.SQLiteVersion)

	h.Issues = log.Snapshot()
	return h
}

func schemaFormatLabel(v uint32, log *issuelog.Log) string {
	switch v {
	case 1:
		return "format 1 (original)"
	case 2:
		return "format 2 (adds DESC indexes)"
	case 3:
		return "format 3 (adds non-NULL, non-terse column types)"
	case 4:
		return "format 4 (adds DESC, boolean, NOT NULL enforcement)"
	default:
		log.Appendf("unrecognized schema format number %d", v)
		return fmt.Sprintf("unknown (%d)", v)
	}
}

func textEncodingLabel(v uint32, log *issuelog.Log) string {
	switch v {
	case 1:
		return "UTF-8"
	case 2:
		return "UTF-16LE"
	case 3:
		return "UTF-16BE"
	case 0:
		return "unset"
	default:
		log.Appendf("unrecognized text encoding code %d", v)
		return fmt.Sprintf("unknown (%d)", v)
	}
}

func sqliteVersionLabel(v uint32) string {
	if v == 0 {
		return ""
	}
	major := v / 1000000
	minor := (v / 1000) % 1000
	patch := v % 1000
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}
