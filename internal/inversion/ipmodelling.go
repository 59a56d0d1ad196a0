package inversion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SeigelIPFactory builds the time-domain IP forward operator from a frozen
// DC stage. Chargeability enters as a resistivity perturbation (Seigel's
// linearization): the apparent chargeability is the DC operator's response
// to the cell-wise product of chargeability and frozen resistivity,
// normalized by the frozen DC response.
type SeigelIPFactory struct {
	dc ForwardOperator
}

// NewSeigelIPFactory wraps the DC-stage forward operator.
func NewSeigelIPFactory(dc ForwardOperator) *SeigelIPFactory {
	return &SeigelIPFactory{dc: dc}
}

// NewIPOperator implements IPOperatorFactory. The returned operator holds
// the frozen DC model and response; resistivity stays fixed and
// chargeability is the only unknown.
func (f *SeigelIPFactory) NewIPOperator(mesh Mesh, dcModel, dcResponse []float64) (ForwardOperator, error) {
	if len(dcModel) != mesh.CellCount() {
		return nil, fmt.Errorf("%w: dc model length %d for %d cells", ErrBadConfig, len(dcModel), mesh.CellCount())
	}
	for i, r := range dcResponse {
		if r == 0 {
			return nil, fmt.Errorf("%w: zero dc response at row %d", ErrBadConfig, i)
		}
	}
	return &seigelIPOperator{dc: f.dc, dcModel: dcModel, dcResponse: dcResponse}, nil
}

type seigelIPOperator struct {
	dc         ForwardOperator
	dcModel    []float64
	dcResponse []float64
}

func (op *seigelIPOperator) Response(m []float64) ([]float64, error) {
	if len(m) != len(op.dcModel) {
		return nil, fmt.Errorf("%w: chargeability length %d, want %d", ErrBadConfig, len(m), len(op.dcModel))
	}
	pert := make([]float64, len(m))
	for j := range m {
		pert[j] = op.dcModel[j] * m[j]
	}
	resp, err := op.dc.Response(pert)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(resp))
	for i := range resp {
		out[i] = resp[i] / op.dcResponse[i]
	}
	return out, nil
}

func (op *seigelIPOperator) Jacobian(m []float64) (*mat.Dense, error) {
	jac, err := op.dc.Jacobian(op.dcModel)
	if err != nil {
		return nil, err
	}
	rows, cols := jac.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, jac.At(i, j)*op.dcModel[j]/op.dcResponse[i])
		}
	}
	return out, nil
}
