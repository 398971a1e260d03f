// Package issuelog implements the append-only notice list every analyzer
// attaches to its parse (spec.md §3/§4.3): a record of deviations from a
// format's specification that does not abort the parse.
package issuelog

import "fmt"

// Log is an ordered, append-only sequence of human-readable notices.
// A Log is not safe for concurrent use; each parse owns exactly one.
type Log struct {
	entries []string
	cap     int // 0 means uncapped
	dropped int
}

// New returns an uncapped Log. Analyzers that need a cap (PCAP at 200
// entries per spec.md §4.3) should call NewCapped instead and must document
// why, per the same section.
func New() *Log { return &Log{} }

// NewCapped returns a Log that silently stops recording new entries once it
// reaches max, instead counting them via Dropped.
func NewCapped(max int) *Log { return &Log{cap: max} }

// Append records a notice. Offsets bound to a file position must already be
// formatted by the caller in 0x%08x form, per spec.md §4.2/§8.
func (l *Log) Append(message string) {
	if l.cap > 0 && len(l.entries) >= l.cap {
		l.dropped++
		return
	}
	l.entries = append(l.entries, message)
}

// Appendf is Append with fmt.Sprintf formatting.
func (l *Log) Appendf(format string, args ...any) {
	l.Append(fmt.Sprintf(format, args...))
}

// Offsetf appends a notice naming an absolute byte offset in the canonical
// 0x%08x form required by spec.md §4.2/§8.
func (l *Log) Offsetf(offset int64, format string, args ...any) {
	l.Append(fmt.Sprintf("0x%08x: %s", offset, fmt.Sprintf(format, args...)))
}

// Snapshot returns the entries recorded so far. The returned slice must not
// be mutated by the caller.
func (l *Log) Snapshot() []string {
	if l == nil {
		return nil
	}
	return l.entries
}

// Dropped reports how many notices were discarded because the log's cap was
// reached.
func (l *Log) Dropped() int {
	if l == nil {
		return 0
	}
	return l.dropped
}

// Len reports how many notices are currently recorded.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}
