package ert

import (
	"math"
	"testing"

	"github.com/geotomo-data/ertinv/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// reciprocalPairDataset returns an 8-electrode dataset holding one forward
// measurement and its exact reciprocal (current and potential roles
// swapped), with the given resistances and currents.
func reciprocalPairDataset(t *testing.T, rF, rB, iF, iB float64) *Dataset {
	t.Helper()
	ds := NewDataset(NewLineLayout(8, 1))
	if err := ds.Add(Measurement{A: 1, B: 2, M: 7, N: 6, R: rF, I: iF}); err != nil {
		t.Fatal(err)
	}
	if err := ds.Add(Measurement{A: 7, B: 6, M: 1, N: 2, R: rB, I: iB}); err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestMatchReciprocals_EqualResistances(t *testing.T) {
	ds := reciprocalPairDataset(t, 10, 10, 1, 1)
	out, report, err := MatchReciprocals(ds, ReciprocityOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Pairs != 1 {
		t.Fatalf("matched %d pairs, want 1", report.Pairs)
	}
	if report.Reciprocity[1] != 0 {
		t.Errorf("reciprocity = %v, want 0 for equal resistances", report.Reciprocity[1])
	}
	if out.Row(0).Rec != 0 {
		t.Errorf("forward row Rec = %v, want 0", out.Row(0).Rec)
	}
}

func TestMatchReciprocals_ReciprocityValue(t *testing.T) {
	ds := reciprocalPairDataset(t, 12, 8, 1, 1)
	_, report, err := MatchReciprocals(ds, ReciprocityOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := 2.0 * (12 - 8) / (12 + 8)
	if math.Abs(report.Reciprocity[1]-want) > 1e-15 {
		t.Errorf("reciprocity = %v, want %v", report.Reciprocity[1], want)
	}
}

func TestMatchReciprocals_CurrentWeightedMerge(t *testing.T) {
	const rF, rB, iF, iB = 10.0, 8.0, 2.0, 1.0
	ds := reciprocalPairDataset(t, rF, rB, iF, iB)
	out, _, err := MatchReciprocals(ds, ReciprocityOptions{Merge: true})
	if err != nil {
		t.Fatal(err)
	}
	wantR := (rF*iF + rB*iB) / (iF + iB)
	wantI := (iF*iF + iB*iB) / (iF + iB)
	fw := out.Row(0)
	if math.Abs(fw.R-wantR) > 1e-15 {
		t.Errorf("merged R = %v, want %v", fw.R, wantR)
	}
	if math.Abs(fw.I-wantI) > 1e-15 {
		t.Errorf("merged I = %v, want %v", fw.I, wantI)
	}
	if math.Abs(fw.U-wantR*wantI) > 1e-15 {
		t.Errorf("merged U = %v, want %v", fw.U, wantR*wantI)
	}
}

func TestMatchReciprocals_RemoveCompacts(t *testing.T) {
	ds := reciprocalPairDataset(t, 10, 8, 1, 1)
	out, _, err := MatchReciprocals(ds, ReciprocityOptions{Merge: true, Remove: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Size() != 1 {
		t.Errorf("size after remove = %d, want 1", out.Size())
	}
	if ds.Size() != 2 {
		t.Errorf("input dataset mutated: size %d, want 2", ds.Size())
	}
}

func TestMatchReciprocals_PairHandledOnce(t *testing.T) {
	const rF, rB, iF, iB = 10.0, 8.0, 2.0, 1.0
	ds := reciprocalPairDataset(t, rF, rB, iF, iB)
	out, report, err := MatchReciprocals(ds, ReciprocityOptions{Merge: true, Remove: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Pairs != 1 {
		t.Fatalf("matched %d pairs, want 1", report.Pairs)
	}
	// A second pass over the same pair would re-merge the overwritten
	// forward row and invalidate it too.
	if out.Size() != 1 {
		t.Fatalf("size after remove = %d, want 1", out.Size())
	}
	wantR := (rF*iF + rB*iB) / (iF + iB)
	if math.Abs(out.Row(0).R-wantR) > 1e-15 {
		t.Errorf("merged R = %v, want %v", out.Row(0).R, wantR)
	}
}

func TestMatchReciprocals_BackwardRowFirst(t *testing.T) {
	ds := NewDataset(NewLineLayout(8, 1))
	ds.Add(Measurement{A: 7, B: 6, M: 1, N: 2, R: 8, I: 1})
	ds.Add(Measurement{A: 1, B: 2, M: 7, N: 6, R: 10, I: 1})
	out, report, err := MatchReciprocals(ds, ReciprocityOptions{Remove: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Pairs != 1 {
		t.Fatalf("matched %d pairs, want 1", report.Pairs)
	}
	// The earlier row takes the forward role regardless of orientation.
	if out.Size() != 1 || out.Row(0).R != 8 {
		t.Errorf("surviving row R = %v (size %d), want 8 (size 1)", out.Row(0).R, out.Size())
	}
	want := 2.0 * (8 - 10) / (8 + 10)
	if math.Abs(report.Reciprocity[1]-want) > 1e-15 {
		t.Errorf("reciprocity = %v, want %v", report.Reciprocity[1], want)
	}
}

func TestMatchReciprocals_CopyOnMerge(t *testing.T) {
	ds := reciprocalPairDataset(t, 10, 8, 2, 1)
	out, _, err := MatchReciprocals(ds, ReciprocityOptions{Merge: true})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Row(0).R != 10 {
		t.Errorf("input forward R mutated to %v, want 10", ds.Row(0).R)
	}
	if out.Row(0).R == 10 {
		t.Error("output forward R not merged")
	}
}

func TestMatchReciprocals_InPlace(t *testing.T) {
	ds := reciprocalPairDataset(t, 10, 8, 2, 1)
	out, _, err := MatchReciprocals(ds, ReciprocityOptions{Merge: true, InPlace: true})
	if err != nil {
		t.Fatal(err)
	}
	if out != ds {
		t.Error("in-place matching should return the input dataset")
	}
	if ds.Row(0).R == 10 {
		t.Error("in-place matching did not mutate the input")
	}
}

func TestMatchReciprocals_DerivesResistance(t *testing.T) {
	ds := NewDataset(NewLineLayout(8, 1))
	ds.Add(Measurement{A: 1, B: 2, M: 7, N: 6, U: 20, I: 2}) // r = 10
	ds.Add(Measurement{A: 7, B: 6, M: 1, N: 2, U: 8, I: 1})  // r = 8
	_, report, err := MatchReciprocals(ds, ReciprocityOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := 2.0 * (10 - 8) / (10 + 8)
	if math.Abs(report.Reciprocity[1]-want) > 1e-15 {
		t.Errorf("reciprocity = %v, want %v", report.Reciprocity[1], want)
	}
}

func TestMatchReciprocals_NoMatchesLeftAlone(t *testing.T) {
	ds := NewDataset(NewLineLayout(8, 1))
	ds.Add(Measurement{A: 0, B: 1, M: 2, N: 3, R: 5, I: 1})
	ds.Add(Measurement{A: 4, B: 5, M: 6, N: 7, R: 6, I: 1})
	out, report, err := MatchReciprocals(ds, ReciprocityOptions{Merge: true, Remove: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Pairs != 0 {
		t.Errorf("matched %d pairs, want 0", report.Pairs)
	}
	if out.Size() != 2 || out.Row(0).R != 5 || out.Row(1).R != 6 {
		t.Error("unmatched measurements were modified")
	}
}

func TestExtractReciprocals(t *testing.T) {
	fwd := NewDataset(NewLineLayout(8, 1))
	fwd.Add(Measurement{A: 1, B: 2, M: 7, N: 6, R: 10, I: 2})
	fwd.Add(Measurement{A: 0, B: 1, M: 2, N: 3, R: 5, I: 1}) // no reciprocal

	bwd := NewDataset(NewLineLayout(8, 1))
	bwd.Add(Measurement{A: 7, B: 6, M: 1, N: 2, R: 8, I: 1}) // reciprocal of fwd row 0
	bwd.Add(Measurement{A: 4, B: 5, M: 6, N: 7, R: 3, I: 1}) // unmatched, appended

	rec, both, err := ExtractReciprocals(fwd, bwd)
	if err != nil {
		t.Fatal(err)
	}
	if both.Size() != 3 {
		t.Fatalf("combined size = %d, want 3 (2 forward + 1 unmatched backward)", both.Size())
	}
	want := 2.0 * (10 - 8) / (10 + 8)
	if math.Abs(rec[0]-want) > 1e-15 {
		t.Errorf("rec[0] = %v, want %v", rec[0], want)
	}
	wantR := (10.0*2 + 8.0*1) / 3.0
	if math.Abs(both.Row(0).R-wantR) > 1e-15 {
		t.Errorf("combined forward R = %v, want %v", both.Row(0).R, wantR)
	}
	if both.Row(2).R != 3 {
		t.Errorf("appended backward row R = %v, want 3", both.Row(2).R)
	}
	if fwd.Size() != 2 || bwd.Size() != 2 {
		t.Error("input datasets mutated")
	}
}
