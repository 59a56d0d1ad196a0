package ert

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/geotomo-data/ertinv/internal/monitoring"
)

// MergeResult is the outcome of aligning several datasets onto one
// canonical scheme. The matrices are sized [scheme rows x datasets]; NaN
// marks a configuration absent from that dataset.
type MergeResult struct {
	// Scheme holds one measurement per distinct configuration, geometry
	// decoded from the key union, geometric factors cached on its rows.
	Scheme *Dataset
	// R is the resistance matrix.
	R *mat.Dense
	// Rhoa is the apparent-resistivity matrix, K broadcast over R.
	Rhoa *mat.Dense
	// Err is the relative-error matrix.
	Err *mat.Dense
	// Keys is the ascending unique-key list backing the scheme rows.
	Keys []int64
}

// MergeDatasets aligns datasets sharing an electrode layout onto one
// canonical measurement scheme. All datasets must agree on sensor count.
// Geometric factors for the canonical scheme are computed once through gf
// and cached on the scheme; datasets that carry apparent resistivity but
// no resistance have resistance derived as rhoa/K at their matched rows.
func MergeDatasets(datasets []*Dataset, gf GeometricFactorer) (*MergeResult, error) {
	if len(datasets) == 0 {
		return nil, ErrEmptyDataset
	}
	nSensors := datasets[0].SensorCount()
	for i, d := range datasets[1:] {
		if d.SensorCount() != nSensors {
			return nil, fmt.Errorf("%w: dataset 0 has %d sensors, dataset %d has %d",
				ErrLayoutMismatch, nSensors, i+1, d.SensorCount())
		}
	}

	base := int64(nSensors) + 1
	keySets := make([][]int64, len(datasets))
	for i, d := range datasets {
		keys, err := UniqueKeys(d, base, false)
		if err != nil {
			return nil, fmt.Errorf("dataset %d: %w", i, err)
		}
		keySets[i] = keys
	}
	union := sortedUnique(keySets...)

	scheme, err := SchemeFromKeys(union, LayoutFrom(datasets[0]), base)
	if err != nil {
		return nil, err
	}
	k, err := gf.GeometricFactors(scheme)
	if err != nil {
		return nil, fmt.Errorf("ert: geometric factors: %w", err)
	}
	if err := scheme.SetGeometricFactors(k); err != nil {
		return nil, err
	}

	nRows := scheme.Size()
	r := mat.NewDense(nRows, len(datasets), nil)
	errM := mat.NewDense(nRows, len(datasets), nil)
	for i := 0; i < nRows; i++ {
		for j := range datasets {
			r.Set(i, j, math.NaN())
			errM.Set(i, j, math.NaN())
		}
	}

	dropped := 0
	for j, d := range datasets {
		for i := 0; i < d.Size(); i++ {
			pos := searchKey(union, keySets[j][i])
			if pos < 0 {
				continue // cannot happen: union contains every key
			}
			row := d.Row(i)
			res, ok := row.Resistance()
			if !ok && row.Rhoa != 0 && k[pos] != 0 {
				res, ok = row.Rhoa/k[pos], true
			}
			if !ok {
				dropped++
				continue
			}
			r.Set(pos, j, res)
			errM.Set(pos, j, row.Err)
		}
	}
	if dropped > 0 {
		monitoring.Logf("ert: merge dropped %d rows with no derivable resistance", dropped)
	}

	rhoa := mat.NewDense(nRows, len(datasets), nil)
	for i := 0; i < nRows; i++ {
		for j := range datasets {
			rhoa.Set(i, j, k[i]*r.At(i, j))
		}
	}

	return &MergeResult{Scheme: scheme, R: r, Rhoa: rhoa, Err: errM, Keys: union}, nil
}
