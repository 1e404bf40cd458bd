// Package witness implements execution witnesses: compact proofs that let a
// stateless verifier re-execute a block without holding the full state
// trie. A witness records, for every account field and storage slot touched
// during block execution, the value observed before execution (for proving
// inclusion) and, where the slot was written, the value after.
package witness

import (
	"github.com/ethcore/execution/core/types"
)

// SuffixStateDiff records the pre- and post-execution value for a single
// 32-byte cell addressed by a one-byte suffix within a stem. A nil
// CurrentValue means the cell did not exist before execution; a nil
// NewValue means the cell was only read, never written.
type SuffixStateDiff struct {
	Suffix       byte
	CurrentValue *[32]byte
	NewValue     *[32]byte
}

// IsRead reports whether the suffix was observed to have a pre-execution
// value.
func (d SuffixStateDiff) IsRead() bool {
	return d.CurrentValue != nil
}

// IsWrite reports whether the suffix was assigned a new value during
// execution.
func (d SuffixStateDiff) IsWrite() bool {
	return d.NewValue != nil
}

// IsModified reports whether the suffix's value actually changed, i.e. both
// a current and a new value are present and they differ.
func (d SuffixStateDiff) IsModified() bool {
	if d.CurrentValue == nil || d.NewValue == nil {
		return false
	}
	return *d.CurrentValue != *d.NewValue
}

// StemStateDiff groups all SuffixStateDiffs sharing a 31-byte stem -- the
// portion of a tree key that addresses an account's 256-cell neighborhood.
type StemStateDiff struct {
	Stem     [31]byte
	Suffixes []SuffixStateDiff
}

// ExecutionWitness is the full set of state accesses made while executing a
// block, keyed against the parent block's state root.
type ExecutionWitness struct {
	ParentRoot types.Hash
	State      []StemStateDiff
}

// NewExecutionWitness returns an empty witness rooted at parentRoot.
func NewExecutionWitness(parentRoot types.Hash) *ExecutionWitness {
	return &ExecutionWitness{ParentRoot: parentRoot}
}

// NumStems returns the number of distinct stems touched.
func (w *ExecutionWitness) NumStems() int {
	return len(w.State)
}

// NumSuffixes returns the total number of suffix diffs across all stems.
func (w *ExecutionWitness) NumSuffixes() int {
	n := 0
	for _, s := range w.State {
		n += len(s.Suffixes)
	}
	return n
}
