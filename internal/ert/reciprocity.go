package ert

import (
	"fmt"

	"github.com/geotomo-data/ertinv/internal/monitoring"
)

// ReciprocityOptions controls what MatchReciprocals does with matched
// pairs beyond computing the reciprocity value.
type ReciprocityOptions struct {
	// Merge overwrites the forward reading with the current-weighted
	// combination of forward and backward values.
	Merge bool
	// Remove marks the backward reading invalid and compacts the result.
	Remove bool
	// InPlace mutates the input dataset instead of returning a copy.
	// Callers keeping references to the input should leave this unset.
	InPlace bool
}

// ReciprocityReport carries matching diagnostics.
type ReciprocityReport struct {
	// Pairs is the number of forward/backward pairs found.
	Pairs int
	// Reciprocity holds 2(rF-rB)/(rF+rB) at each backward row index,
	// zero where no match exists.
	Reciprocity []float64
}

// MatchReciprocals pairs forward and reversed measurements within one
// dataset. A backward row j matches a forward row i when j's key under the
// reversed orientation equals i's forward key; the first forward row in
// dataset order wins ties. Each pair is handled exactly once, with the
// earlier of the two rows taking the forward role. Resistances are derived
// from U/I first when not already populated.
//
// With Merge set, each matched forward row is overwritten with
// r' = (rF*IF + rB*IB)/(IF+IB) and i' = (IF²+IB²)/(IF+IB), weighting by
// the contributing currents, and u' = r'*i'. With Remove set, matched
// backward rows are invalidated and compacted away. The reciprocity value
// of each pair is stored on the forward row's Rec field.
func MatchReciprocals(d *Dataset, opts ReciprocityOptions) (*Dataset, ReciprocityReport, error) {
	out := d
	if !opts.InPlace {
		out = d.Copy()
	}
	report := ReciprocityReport{Reciprocity: make([]float64, out.Size())}

	if !out.AllResistancesKnown() {
		if _, err := out.DeriveResistances(); err != nil {
			return nil, report, fmt.Errorf("ert: reciprocity matching: %w", err)
		}
	}

	unF, err := UniqueKeys(out, 0, false)
	if err != nil {
		return nil, report, err
	}
	unB, err := UniqueKeys(out, 0, true)
	if err != nil {
		return nil, report, err
	}

	forward := make(map[int64]int, len(unF))
	for i := len(unF) - 1; i >= 0; i-- {
		forward[unF[i]] = i // descending so the first occurrence wins
	}

	for iB := 0; iB < out.Size(); iB++ {
		iF, ok := forward[unB[iB]]
		if !ok || iF >= iB {
			// A pair matches in both loop directions; keeping only
			// iF < iB handles it once, earlier row as forward.
			continue
		}
		fw, bw := out.Row(iF), out.Row(iB)
		rF, rB := fw.R, bw.R
		rec := 2 * (rF - rB) / (rF + rB)
		report.Reciprocity[iB] = rec
		fw.Rec = rec
		report.Pairs++

		if opts.Merge && fw.Valid {
			iFcur, iBcur := fw.I, bw.I
			fw.R = (rF*iFcur + rB*iBcur) / (iFcur + iBcur)
			fw.I = (iFcur*iFcur + iBcur*iBcur) / (iFcur + iBcur)
			fw.U = fw.R * fw.I
		}
		if opts.Remove {
			bw.Valid = false
		}
	}

	monitoring.Logf("ert: %d reciprocal pairs", report.Pairs)
	if opts.Remove {
		out.Compact()
	}
	return out, report, nil
}

// ExtractReciprocals matches a forward dataset against a separate backward
// (role-swapped) dataset and combines them: matched forward rows receive
// the current-weighted merge, unmatched backward rows are appended, and
// matched backward rows are dropped. The key base is the larger of the two
// sensor counts plus one so both datasets share a key space. The returned
// reciprocity vector is indexed by backward row.
func ExtractReciprocals(fwd, bwd *Dataset) ([]float64, *Dataset, error) {
	base := int64(max(fwd.SensorCount(), bwd.SensorCount())) + 1
	unF, err := UniqueKeys(fwd, base, false)
	if err != nil {
		return nil, nil, err
	}
	unB, err := UniqueKeys(bwd, base, true)
	if err != nil {
		return nil, nil, err
	}

	forward := make(map[int64]int, len(unF))
	for i := len(unF) - 1; i >= 0; i-- {
		forward[unF[i]] = i
	}

	both := fwd.Copy()
	back := bwd.Copy()
	rec := make([]float64, back.Size())
	pairs := 0
	for iB := 0; iB < back.Size(); iB++ {
		iF, ok := forward[unB[iB]]
		if !ok {
			continue
		}
		fw, bw := both.Row(iF), back.Row(iB)
		rF, rB := fw.R, bw.R
		rec[iB] = 2 * (rF - rB) / (rF + rB)
		fw.Rec = rec[iB]
		iFcur, iBcur := fw.I, bw.I
		fw.R = (rF*iFcur + rB*iBcur) / (iFcur + iBcur)
		fw.I = (iFcur*iFcur + iBcur*iBcur) / (iFcur + iBcur)
		fw.U = fw.R * fw.I
		bw.Valid = false
		pairs++
	}

	monitoring.Logf("ert: %d reciprocal pairs", pairs)
	back.Compact()
	if err := both.Append(back); err != nil {
		return nil, nil, err
	}
	return rec, both, nil
}
