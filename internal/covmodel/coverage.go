// Package covmodel implements the additive branch/line hit-count Coverage
// value used throughout defuzz-harness: the union of a target library's
// coverage across accepted harnesses, a harness's self-coverage, and the
// running set of prompted/executed APIs.
package covmodel

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Coverage is an additive hit-count container over two tables: per-function
// branch counts, and per-file line counts. It never shrinks: Merge and the
// AddBranchHit/AddLineHit helpers only add to existing counts.
type Coverage struct {
	// Functions maps a function name to its branch-id -> hit-count table.
	Functions map[string]map[string]int64 `json:"functions"`
	// Lines maps a file path to its line-number -> hit-count table.
	Lines map[string]map[int]int64 `json:"lines"`
}

// New returns an empty Coverage value.
func New() *Coverage {
	return &Coverage{
		Functions: make(map[string]map[string]int64),
		Lines:     make(map[string]map[int]int64),
	}
}

// BranchID renders the opaque branch identity used as a map key: the
// spec's suggested "L{line}#({block},{branch})" form.
func BranchID(line, block, branch int) string {
	return fmt.Sprintf("L%d#(%d,%d)", line, block, branch)
}

// Merge performs a pointwise additive union of other into c. Missing keys on
// either side default to zero. Merge is commutative and associative, and
// merge(c, empty) == c.
func (c *Coverage) Merge(other *Coverage) {
	if other == nil {
		return
	}
	for fn, branches := range other.Functions {
		dst, ok := c.Functions[fn]
		if !ok {
			dst = make(map[string]int64, len(branches))
			c.Functions[fn] = dst
		}
		for branchID, count := range branches {
			if count < 0 {
				count = 0
			}
			dst[branchID] += count
		}
	}
	for file, lines := range other.Lines {
		dst, ok := c.Lines[file]
		if !ok {
			dst = make(map[int]int64, len(lines))
			c.Lines[file] = dst
		}
		for lineno, count := range lines {
			if count < 0 {
				count = 0
			}
			dst[lineno] += count
		}
	}
}

// AddBranchHit adds count hits to a branch within fn. Used by drivers
// and fakes to build up a Coverage value incrementally.
func (c *Coverage) AddBranchHit(fn, branchID string, count int64) {
	if c.Functions == nil {
		c.Functions = make(map[string]map[string]int64)
	}
	if _, ok := c.Functions[fn]; !ok {
		c.Functions[fn] = make(map[string]int64)
	}
	c.Functions[fn][branchID] += count
}

// AddLineHit adds count hits to a (file, line). Used by drivers and
// fakes to build up a Coverage value incrementally.
func (c *Coverage) AddLineHit(file string, lineno int, count int64) {
	if c.Lines == nil {
		c.Lines = make(map[string]map[int]int64)
	}
	if _, ok := c.Lines[file]; !ok {
		c.Lines[file] = make(map[int]int64)
	}
	c.Lines[file][lineno] += count
}

// CoverBranch returns the fraction of nonzero branches within fn. Returns
// (0, false) if fn is untracked or has no recorded branches ("unknown").
func (c *Coverage) CoverBranch(fn string) (float64, bool) {
	branches, ok := c.Functions[fn]
	if !ok || len(branches) == 0 {
		return 0, false
	}
	nonzero := 0
	for _, count := range branches {
		if count > 0 {
			nonzero++
		}
	}
	return float64(nonzero) / float64(len(branches)), true
}

// CoverLines reports whether (file, lineno) has recorded hits. Returns
// (false, false) if file is untracked ("unknown").
func (c *Coverage) CoverLines(file string, lineno int) (bool, bool) {
	lines, ok := c.Lines[file]
	if !ok {
		return false, false
	}
	count, ok := lines[lineno]
	if !ok {
		return false, true
	}
	return count > 0, true
}

// NonzeroBranches returns the set of "fn\x00branchID" keys with count > 0,
// used by the Validator's coverage-growth stage (a set-difference check).
func (c *Coverage) NonzeroBranches() map[string]struct{} {
	out := make(map[string]struct{})
	for fn, branches := range c.Functions {
		for branchID, count := range branches {
			if count > 0 {
				out[fn+"\x00"+branchID] = struct{}{}
			}
		}
	}
	return out
}

// CoverageBranch returns the overall fraction of nonzero branches across all
// tracked functions. The denominator is clamped to at least 1, so an empty
// Coverage yields 0 rather than NaN.
func (c *Coverage) CoverageBranch() float64 {
	total := 0
	nonzero := 0
	for _, branches := range c.Functions {
		for _, count := range branches {
			total++
			if count > 0 {
				nonzero++
			}
		}
	}
	if total < 1 {
		total = 1
	}
	return float64(nonzero) / float64(total)
}

// FlatEntry is one row of Flat's rendering.
type FlatEntry struct {
	Key   string
	Count int64
}

// Flat renders the Coverage into a sorted flat-key -> count list, suitable
// for diffing or logging. If nonzero is true, zero-count entries are
// omitted.
func (c *Coverage) Flat(nonzero bool) []FlatEntry {
	var out []FlatEntry
	for fn, branches := range c.Functions {
		for branchID, count := range branches {
			if nonzero && count <= 0 {
				continue
			}
			out = append(out, FlatEntry{Key: "fn:" + fn + "#" + branchID, Count: count})
		}
	}
	for file, lines := range c.Lines {
		for lineno, count := range lines {
			if nonzero && count <= 0 {
				continue
			}
			out = append(out, FlatEntry{Key: fmt.Sprintf("line:%s:%d", file, lineno), Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Dump serializes the Coverage to stable (sorted-key) JSON.
func (c *Coverage) Dump() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Load deserializes JSON produced by Dump into c.
func (c *Coverage) Load(data []byte) error {
	if c.Functions == nil {
		c.Functions = make(map[string]map[string]int64)
	}
	if c.Lines == nil {
		c.Lines = make(map[string]map[int]int64)
	}
	return json.Unmarshal(data, c)
}
