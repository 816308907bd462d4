// Package verify compares the halves of a copy buffer after a dispatch.
package verify

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned when the compared sequences differ in length.
var ErrLengthMismatch = errors.New("verify: sequences differ in length")

// NoMismatch marks an absent mismatch index.
const NoMismatch = -1

// Cause classifies a failed verification.
type Cause int

const (
	// CauseNone means the copy is correct.
	CauseNone Cause = iota
	// CauseNotCopied means the input still matches the snapshot but the
	// output does not.
	CauseNotCopied
	// CauseInputMutated means the input no longer matches the snapshot.
	CauseInputMutated
	// CauseUnknown means the halves differ but no snapshot was available.
	CauseUnknown
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseNotCopied:
		return "output not copied"
	case CauseInputMutated:
		return "input mutated"
	case CauseUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Cause(%d)", int(c))
}

// Options configures Compare.
type Options struct {
	// QuickCheck, when positive, compares only the first and last QuickCheck
	// elements of the halves and skips the full scan if they agree. Interior
	// corruption is then not detected by the half comparison.
	QuickCheck int
}

// Result is the outcome of Compare.
type Result struct {
	// Equal is true when the halves agree and the output matches the
	// snapshot.
	Equal bool

	// FullScan reports whether the two-cursor scan ran.
	FullScan bool

	// FirstFront is the lowest index where input and output differ, found
	// by a cursor moving from the front. NoMismatch if none.
	FirstFront int

	// FirstBack is the highest such index, found by a cursor moving from the
	// back. NoMismatch if none.
	FirstBack int

	// OutputVsSnapshot is the first index where output differs from the
	// snapshot. NoMismatch if none or no snapshot was given.
	OutputVsSnapshot int

	// InputVsSnapshot is the first index where input differs from the
	// snapshot. NoMismatch if none or no snapshot was given.
	InputVsSnapshot int

	// Cause classifies the failure.
	Cause Cause
}

func (r Result) String() string {
	if r.Equal {
		return "equal"
	}
	return fmt.Sprintf("mismatch (front %d, back %d, output/snapshot %d, input/snapshot %d): %v",
		r.FirstFront, r.FirstBack, r.OutputVsSnapshot, r.InputVsSnapshot, r.Cause)
}

// Compare checks that output is a copy of input. When snapshot is non-nil it
// must hold the input as it was before the dispatch; both halves are then
// cross-checked against it.
func Compare(input, output, snapshot []int32, opts Options) (Result, error) {
	if len(input) != len(output) {
		return Result{}, fmt.Errorf("%w: input %d, output %d", ErrLengthMismatch, len(input), len(output))
	}
	if snapshot != nil && len(snapshot) != len(input) {
		return Result{}, fmt.Errorf("%w: input %d, snapshot %d", ErrLengthMismatch, len(input), len(snapshot))
	}

	r := Result{
		FirstFront:       NoMismatch,
		FirstBack:        NoMismatch,
		OutputVsSnapshot: NoMismatch,
		InputVsSnapshot:  NoMismatch,
	}

	if opts.QuickCheck <= 0 || !edgesEqual(input, output, opts.QuickCheck) {
		r.FullScan = true
		r.FirstFront = mismatchFront(input, output)
		if r.FirstFront != NoMismatch {
			r.FirstBack = mismatchBack(input, output)
		}
	}

	if snapshot != nil {
		r.OutputVsSnapshot = mismatchFront(snapshot, output)
		r.InputVsSnapshot = mismatchFront(snapshot, input)
	}

	switch {
	case r.FirstFront == NoMismatch && r.OutputVsSnapshot == NoMismatch && r.InputVsSnapshot == NoMismatch:
		r.Equal = true
	case r.InputVsSnapshot != NoMismatch:
		r.Cause = CauseInputMutated
	case r.OutputVsSnapshot != NoMismatch:
		r.Cause = CauseNotCopied
	default:
		r.Cause = CauseUnknown
	}
	return r, nil
}

// edgesEqual compares the first and last n elements of a and b.
func edgesEqual(a, b []int32, n int) bool {
	n = min(n, len(a))
	for i := range n {
		if a[i] != b[i] {
			return false
		}
	}
	for i := len(a) - n; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mismatchFront(a, b []int32) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return NoMismatch
}

func mismatchBack(a, b []int32) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return i
		}
	}
	return NoMismatch
}
