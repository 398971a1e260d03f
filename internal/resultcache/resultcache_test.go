package resultcache

import (
	"testing"

	"github.com/cursorbyte/binfabric/internal/dispatch"
)

func TestKeyIsStableAndDistinguishesHeadFromTail(t *testing.T) {
	k1 := Key([]byte("head-bytes"), []byte("tail-bytes"), 1000)
	k2 := Key([]byte("head-bytes"), []byte("tail-bytes"), 1000)
	if string(k1) != string(k2) {
		t.Errorf("Key is not deterministic for identical inputs")
	}

	k3 := Key([]byte("tail-bytes"), []byte("head-bytes"), 1000)
	if string(k1) == string(k3) {
		t.Errorf("swapping head and tail must change the key")
	}

	k4 := Key([]byte("head-bytes"), []byte("tail-bytes"), 2000)
	if string(k1) == string(k4) {
		t.Errorf("different total length must change the key")
	}
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	key := Key([]byte("abc"), nil, 3)
	want := Summary{Analyzer: dispatch.Zip, Label: "ZIP archive", IssueCount: 2}
	if err := c.Store(key, want); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := c.Lookup(key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if got != want {
		t.Errorf("Lookup = %+v, want %+v", got, want)
	}
}

func TestLookupMiss(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	_, ok, err := c.Lookup(Key([]byte("nope"), nil, 4))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Errorf("expected a miss on an unstored key")
	}
}

func TestResultToSummary(t *testing.T) {
	r := dispatch.Result{Analyzer: dispatch.Pe, Label: "PE32+ executable", Issues: []string{"a", "b", "c"}}
	s := ResultToSummary(r)
	if s.Analyzer != dispatch.Pe || s.Label != "PE32+ executable" || s.IssueCount != 3 {
		t.Errorf("ResultToSummary = %+v, unexpected", s)
	}
}
