package verify

import (
	"errors"
	"slices"
	"testing"
)

func seq(n int) []int32 {
	s := make([]int32, n)
	for i := range s {
		s[i] = int32(i*7919 - 3) //nolint:gosec // test data
	}
	return s
}

func TestCompareEqual(t *testing.T) {
	in := seq(16384)
	out := slices.Clone(in)
	snap := slices.Clone(in)

	for _, quick := range []int{0, 100} {
		r, err := Compare(in, out, snap, Options{QuickCheck: quick})
		if err != nil {
			t.Fatal(err)
		}
		if !r.Equal || r.Cause != CauseNone {
			t.Errorf("quick=%d: Compare() = %v, want equal", quick, r)
		}
		if r.FullScan != (quick == 0) {
			t.Errorf("quick=%d: FullScan = %v", quick, r.FullScan)
		}
	}
}

func TestCompareInteriorCorruption(t *testing.T) {
	in := seq(16384)
	out := slices.Clone(in)
	snap := slices.Clone(in)
	out[8192]++

	r, err := Compare(in, out, snap, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Equal {
		t.Fatal("Compare() reported equal for corrupted output")
	}
	if r.FirstFront != 8192 || r.FirstBack != 8192 {
		t.Errorf("FirstFront, FirstBack = %d, %d, want 8192, 8192", r.FirstFront, r.FirstBack)
	}
	if r.OutputVsSnapshot != 8192 || r.InputVsSnapshot != NoMismatch {
		t.Errorf("snapshot cross-check = %d, %d, want 8192, none", r.OutputVsSnapshot, r.InputVsSnapshot)
	}
	if r.Cause != CauseNotCopied {
		t.Errorf("Cause = %v, want %v", r.Cause, CauseNotCopied)
	}
}

func TestCompareQuickCheckMissesInterior(t *testing.T) {
	in := seq(1000)
	out := slices.Clone(in)
	out[500] = -1

	r, err := Compare(in, out, nil, Options{QuickCheck: 100})
	if err != nil {
		t.Fatal(err)
	}
	if r.FullScan || !r.Equal {
		t.Errorf("quick check without snapshot = %v (full scan %v), want a missed mismatch", r, r.FullScan)
	}

	r, err = Compare(in, out, slices.Clone(in), Options{QuickCheck: 100})
	if err != nil {
		t.Fatal(err)
	}
	if r.Equal || r.FullScan || r.OutputVsSnapshot != 500 {
		t.Errorf("quick check with snapshot = %v, want snapshot mismatch at 500 without full scan", r)
	}
}

func TestCompareQuickCheckFallsThrough(t *testing.T) {
	in := seq(1000)
	out := slices.Clone(in)
	out[3] = 0
	out[997] = 0
	out[400] = 0

	r, err := Compare(in, out, nil, Options{QuickCheck: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !r.FullScan {
		t.Fatal("edge mismatch did not trigger the full scan")
	}
	if r.FirstFront != 3 || r.FirstBack != 997 {
		t.Errorf("FirstFront, FirstBack = %d, %d, want 3, 997", r.FirstFront, r.FirstBack)
	}
	if r.Cause != CauseUnknown {
		t.Errorf("Cause = %v, want %v", r.Cause, CauseUnknown)
	}
}

func TestCompareInputMutated(t *testing.T) {
	snap := seq(64)
	in := slices.Clone(snap)
	in[10] = 42
	out := slices.Clone(in)

	r, err := Compare(in, out, snap, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Equal || r.Cause != CauseInputMutated || r.InputVsSnapshot != 10 {
		t.Errorf("Compare() = %v, want input mutated at 10", r)
	}
	if r.FirstFront != NoMismatch {
		t.Errorf("FirstFront = %d, halves agree", r.FirstFront)
	}
}

func TestCompareShortSequences(t *testing.T) {
	in := []int32{1, 2, 3}
	r, err := Compare(in, []int32{1, 2, 3}, nil, Options{QuickCheck: 100})
	if err != nil || !r.Equal {
		t.Errorf("Compare(3 elements, quick 100) = %v, %v", r, err)
	}
}

func TestCompareLengthMismatch(t *testing.T) {
	if _, err := Compare(seq(4), seq(5), nil, Options{}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("error = %v, want ErrLengthMismatch", err)
	}
	if _, err := Compare(seq(4), seq(4), seq(3), Options{}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("error = %v, want ErrLengthMismatch", err)
	}
}
