// Package dispatch implements the magic-based router (spec.md §4.4, C4)
// that looks at an input's leading bytes (and sometimes its tail) and picks
// exactly one analyzer to hand it to, returning a tagged Result (C16).
//
// Grounded on the teacher's root probeArchive (probe.go): a prefix-window
// read followed by a priority-ordered chain of magic-byte switches, each
// arm returning a constructor for the matched format. We keep that same
// "read a small header once, switch on byte patterns in priority order"
// shape; we generalize the payload from an fs.FS-constructing closure to a
// structural analyzer invocation, since this fabric reports structure
// instead of mounting a filesystem.
package dispatch

// AnalyzerID names the format an input dispatched to. "macho" and "unknown"
// extend spec.md §6's output enum pragmatically: Mach-O is named in the
// §4.4 detector priority list but has no analyzer of its own (out of
// scope, like the image codecs), and "unknown" is this module's spelling
// of the documented `null` ("no recognized format") case.
type AnalyzerID string

const (
	Elf      AnalyzerID = "elf"
	MachO    AnalyzerID = "macho"
	Pe       AnalyzerID = "pe"
	Lnk      AnalyzerID = "lnk"
	SevenZip AnalyzerID = "sevenZip"
	Rar      AnalyzerID = "rar"
	Tar      AnalyzerID = "tar"
	Zip      AnalyzerID = "zip"
	Iso9660  AnalyzerID = "iso9660"
	Webm     AnalyzerID = "webm"
	Pcap     AnalyzerID = "pcap"
	Sqlite   AnalyzerID = "sqlite"
	Png      AnalyzerID = "png"
	Gif      AnalyzerID = "gif"
	Jpeg     AnalyzerID = "jpeg"
	Webp     AnalyzerID = "webp"
	Pdf      AnalyzerID = "pdf"
	Fb2      AnalyzerID = "fb2"
	Mp3      AnalyzerID = "mp3"
	Mz       AnalyzerID = "mz"
	Unknown  AnalyzerID = "null"
)

// Result is the dispatcher's tagged union output (C16): exactly one
// analyzer id, an optional human label, the analyzer's own parse tree
// (nil for formats this fabric only classifies, never structurally
// parses), and the issue log produced along the way.
type Result struct {
	Analyzer AnalyzerID
	Label    string
	Parsed   any
	Issues   []string
}
