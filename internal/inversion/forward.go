package inversion

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInversionDivergence reports a non-recoverable numerical failure
	// in the forward operator or the Gauss-Newton update.
	ErrInversionDivergence = errors.New("inversion: forward model diverged")
	// ErrNotImplemented marks intentionally absent functionality, such as
	// the frequency-domain IP branch.
	ErrNotImplemented = errors.New("inversion: not implemented")
	// ErrBadConfig reports configuration that cannot start a run.
	ErrBadConfig = errors.New("inversion: invalid configuration")
)

// Mesh is the opaque handle onto the externally generated parameter
// domain. Cell ordering is stable for the lifetime of the mesh.
type Mesh interface {
	CellCount() int
	// SetCellMarkers assigns region markers; len(ids) must equal
	// CellCount.
	SetCellMarkers(ids []int) error
	// Clone returns an independent copy so one stage can freeze its
	// geometry without aliasing a later stage's mutations.
	Clone() Mesh
}

// ForwardOperator evaluates the physics response for a model vector and
// exposes the sensitivity used by Gauss-Newton updates. Implementations
// wrap external FE/FV solvers; LinearOperator provides a reference for
// tests and synthetic studies.
type ForwardOperator interface {
	Response(model []float64) ([]float64, error)
	Jacobian(model []float64) (*mat.Dense, error)
}

// IPOperatorFactory builds the induced-polarization forward operator for
// the second inversion stage from the frozen first-stage results.
type IPOperatorFactory interface {
	NewIPOperator(mesh Mesh, dcModel, dcResponse []float64) (ForwardOperator, error)
}

// FixedMesh is a trivial mesh with a fixed cell count, suitable for
// operators whose geometry is baked in (such as LinearOperator).
type FixedMesh struct {
	cells   int
	markers []int
}

// NewFixedMesh returns a mesh handle over n cells, markers all zero.
func NewFixedMesh(n int) *FixedMesh {
	return &FixedMesh{cells: n, markers: make([]int, n)}
}

func (m *FixedMesh) CellCount() int { return m.cells }

func (m *FixedMesh) SetCellMarkers(ids []int) error {
	if len(ids) != m.cells {
		return fmt.Errorf("%w: %d markers for %d cells", ErrBadConfig, len(ids), m.cells)
	}
	m.markers = append([]int(nil), ids...)
	return nil
}

// CellMarkers returns the current marker assignment.
func (m *FixedMesh) CellMarkers() []int { return append([]int(nil), m.markers...) }

func (m *FixedMesh) Clone() Mesh {
	return &FixedMesh{cells: m.cells, markers: append([]int(nil), m.markers...)}
}

// LinearOperator is the reference forward operator d = G·m. Its Jacobian
// is G itself, so a noise-free unregularized inversion recovers the true
// model in one Gauss-Newton step.
type LinearOperator struct {
	G *mat.Dense
}

var _ ForwardOperator = (*LinearOperator)(nil)

func (l *LinearOperator) Response(model []float64) ([]float64, error) {
	rows, cols := l.G.Dims()
	if len(model) != cols {
		return nil, fmt.Errorf("%w: model length %d, operator expects %d", ErrBadConfig, len(model), cols)
	}
	out := make([]float64, rows)
	v := mat.NewVecDense(len(model), model)
	res := mat.NewVecDense(rows, out)
	res.MulVec(l.G, v)
	return out, nil
}

func (l *LinearOperator) Jacobian(model []float64) (*mat.Dense, error) {
	return l.G, nil
}
