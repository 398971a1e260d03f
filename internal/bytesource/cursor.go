package bytesource

// Cursor is the per-analyzer parse-context cursor spec.md §3 describes:
// "every successful structural step strictly advances the cursor;
// non-advancement is a structural error and terminates the walk with an
// issue." Analyzers embed a Cursor (or several, for nested containers) next
// to their issuelog.Log and walk a Source strictly forward.
type Cursor struct {
	Src Source
	Pos int64
}

// NewCursor starts a cursor at the given absolute offset into src.
func NewCursor(src Source, start int64) *Cursor {
	return &Cursor{Src: src, Pos: start}
}

// Remaining reports how many bytes lie between the cursor and the end of
// the source.
func (c *Cursor) Remaining() int64 {
	r := c.Src.Length() - c.Pos
	if r < 0 {
		return 0
	}
	return r
}

// Take reads n bytes starting at the cursor and advances it by n. ok is
// false (and the cursor does not move) if the read would run past the end
// of the source; callers push a truncation issue in that case (spec.md
// §4.2, §7).
func (c *Cursor) Take(n int64) (data []byte, ok bool) {
	if n < 0 {
		return nil, false
	}
	b, err := c.Src.Slice(c.Pos, c.Pos+n)
	if err != nil || int64(len(b)) != n {
		return nil, false
	}
	c.Pos += n
	return b, true
}

// Peek reads n bytes starting at the cursor without advancing it.
func (c *Cursor) Peek(n int64) (data []byte, ok bool) {
	b, err := c.Src.Slice(c.Pos, c.Pos+n)
	if err != nil || int64(len(b)) != n {
		return nil, false
	}
	return b, true
}

// Skip advances the cursor by n bytes without returning the data,
// reporting ok=false (and leaving the cursor unmoved) if that would run
// past the end of the source.
func (c *Cursor) Skip(n int64) (ok bool) {
	_, ok = c.Take(n)
	return ok
}

// SeekTo moves the cursor to an absolute offset. advanced reports whether
// pos is strictly greater than the current position, matching the
// monotonicity invariant (spec.md §3); callers that require forward-only
// motion should check advanced and raise a "non-advancing cursor" sanity
// issue (spec.md §7 category 3) when it is false.
func (c *Cursor) SeekTo(pos int64) (advanced bool) {
	advanced = pos > c.Pos
	c.Pos = pos
	return advanced
}
