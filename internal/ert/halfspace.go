package ert

import (
	"fmt"
	"math"
)

// HalfSpaceGeometry computes analytic geometric factors for electrodes on
// the surface of a homogeneous half-space:
//
//	k = 2π / (1/AM − 1/AN − 1/BM + 1/BN)
//
// It serves flat surface layouts; topography or buried electrodes need a
// numerical forward-geometry routine instead.
type HalfSpaceGeometry struct{}

var _ GeometricFactorer = HalfSpaceGeometry{}

// GeometricFactors implements GeometricFactorer.
func (HalfSpaceGeometry) GeometricFactors(scheme *Dataset) ([]float64, error) {
	layout := scheme.Layout()
	out := make([]float64, scheme.Size())
	for i := range out {
		row := scheme.Row(i)
		sum := 1/dist(layout, row.A, row.M) - 1/dist(layout, row.A, row.N) -
			1/dist(layout, row.B, row.M) + 1/dist(layout, row.B, row.N)
		if sum == 0 {
			return nil, fmt.Errorf("%w: degenerate geometry at row %d", ErrInvalidLayout, i)
		}
		out[i] = 2 * math.Pi / sum
	}
	return out, nil
}

func dist(l *ElectrodeLayout, i, j int) float64 {
	a, b := l.Position(i), l.Position(j)
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
