// Package fabricconfig holds the compiled-in budgets spec.md §9 requires
// for bounded recursive descent (PE resource trees, ISO-9660 directory
// walks, EBML nesting, RAR/7z header iteration, PCAP issue-log capacity),
// each overridable by an environment variable at process start.
//
// Grounded on the teacher's root-level calcMemLimit (memlimit.go): a
// package-level var initialized once from os.Getenv, parsed with
// strconv, falling back to a compiled-in default and panicking on a
// malformed override rather than silently ignoring it.
package fabricconfig

import (
	"os"
	"strconv"
)

// Budgets are read once at process start from the environment, mirroring
// the teacher's single package-level calcMemLimit() call.
var (
	// PEResourceDepth bounds PE resource-directory-tree recursion.
	PEResourceDepth = intEnv("BF_PE_RESOURCE_DEPTH", 8)

	// ISO9660TraversalCap bounds the number of directory records visited
	// during an ISO-9660 tree walk, guarding against a directory record
	// cycle (spec.md §8.9 edge cases).
	ISO9660TraversalCap = intEnv("BF_ISO9660_TRAVERSAL_CAP", 1_000_000)

	// EBMLRecursionDepth bounds Matroska/WebM Master-element nesting.
	EBMLRecursionDepth = intEnv("BF_EBML_RECURSION_DEPTH", 64)

	// RARIterationCap bounds the number of headers walked in a RAR volume.
	RARIterationCap = intEnv("BF_RAR_ITERATION_CAP", 1_000_000)

	// SevenZipIterationCap bounds 7z header-stream element iteration.
	SevenZipIterationCap = intEnv("BF_7Z_ITERATION_CAP", 1_000_000)

	// PCAPIssueCap bounds the PCAP analyzer's issue log (spec.md §8.10:
	// "stop appending packet-level issues after 200 entries").
	PCAPIssueCap = intEnv("BF_PCAP_ISSUE_CAP", 200)
)

func intEnv(name string, fallback int) int {
	e := os.Getenv(name)
	if e == "" {
		return fallback
	}
	v, err := strconv.Atoi(e)
	if err != nil || v < 0 {
		panic("malformed " + name + " environment variable, should be a non-negative integer: " + e)
	}
	return v
}
