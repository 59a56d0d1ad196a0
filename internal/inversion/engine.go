package inversion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/geotomo-data/ertinv/internal/monitoring"
)

// State is the engine life-cycle state.
type State int

const (
	Initialized State = iota
	Running
	Converged
	Failed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config is the per-run regularization state. It is constructed per stage
// and discarded after convergence.
type Config struct {
	// Transform maps between physical and unconstrained parameter space.
	// Nil means identity.
	Transform Transform
	// Lambda is the regularization weight trading data fit against model
	// smoothness. Zero disables regularization entirely.
	Lambda float64
	// ZWeight scales the regularization weight of shallow cells; 1 keeps
	// uniform smoothness, values below 1 down-weight near-surface terms.
	ZWeight float64
	// StartModel is either a single value (broadcast over all cells) or a
	// full cell-count-length vector.
	StartModel []float64
	// MaxIterations bounds the Gauss-Newton loop; 0 selects the default.
	MaxIterations int
	// Chi2Tolerance is the relative chi² change below which the run is
	// declared converged; 0 selects the default.
	Chi2Tolerance float64
	// Stopwatch, when set, receives per-run timing under "inversion".
	Stopwatch *monitoring.Stopwatch
}

const (
	defaultMaxIterations = 20
	defaultChi2Tolerance = 0.01
	lineSearchSteps      = 4
)

// Result carries the converged model and fit diagnostics.
type Result struct {
	// Model is the physical-space model vector, owned by the caller.
	Model []float64
	// Response is the forward response at Model.
	Response []float64
	// Iterations is the number of Gauss-Newton updates taken.
	Iterations int
	// Chi2 is the final mean weighted squared misfit.
	Chi2 float64
}

// Engine drives one regularized Gauss-Newton fit of a forward operator to
// observed data. It never mutates caller-owned datasets; the only outputs
// are the Result and its own terminal state.
type Engine struct {
	fop   ForwardOperator
	mesh  Mesh
	state State
}

// NewEngine creates an engine over a forward operator and its mesh.
func NewEngine(fop ForwardOperator, mesh Mesh) *Engine {
	return &Engine{fop: fop, mesh: mesh, state: Initialized}
}

// State returns the engine state.
func (e *Engine) State() State { return e.state }

// Run fits the model to observedData under the given per-datum relative
// errors. It transitions Initialized→Running, then to Converged or
// Failed; forward-operator faults surface as ErrInversionDivergence and
// no model is returned for a failed run. A failed engine may be re-run
// with adjusted configuration (lower lambda, different start model).
func (e *Engine) Run(observedData, dataError []float64, cfg Config) (*Result, error) {
	if cfg.Stopwatch != nil {
		cfg.Stopwatch.Start("inversion")
		defer cfg.Stopwatch.Stop("inversion")
	}
	model, err := e.validate(observedData, dataError, &cfg)
	if err != nil {
		return nil, err
	}
	e.state = Running

	res, err := e.iterate(observedData, dataError, cfg, model)
	if err != nil {
		e.state = Failed
		return nil, err
	}
	e.state = Converged
	return res, nil
}

// validate checks data and config shapes and expands the start model.
func (e *Engine) validate(observedData, dataError []float64, cfg *Config) ([]float64, error) {
	if e.state == Running {
		return nil, fmt.Errorf("%w: engine already running", ErrBadConfig)
	}
	if len(observedData) == 0 {
		return nil, fmt.Errorf("%w: no observed data", ErrBadConfig)
	}
	if len(dataError) != len(observedData) {
		return nil, fmt.Errorf("%w: %d errors for %d data", ErrBadConfig, len(dataError), len(observedData))
	}
	nc := e.mesh.CellCount()
	var model []float64
	switch len(cfg.StartModel) {
	case 1:
		model = make([]float64, nc)
		for i := range model {
			model[i] = cfg.StartModel[0]
		}
	case nc:
		model = append([]float64(nil), cfg.StartModel...)
	default:
		return nil, fmt.Errorf("%w: start model length %d, want 1 or %d", ErrBadConfig, len(cfg.StartModel), nc)
	}
	if cfg.Transform == nil {
		cfg.Transform = IdentityTransform{}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Chi2Tolerance <= 0 {
		cfg.Chi2Tolerance = defaultChi2Tolerance
	}
	if cfg.ZWeight <= 0 {
		cfg.ZWeight = 1
	}
	return model, nil
}

// iterate runs the Gauss-Newton loop in transformed parameter space.
// Each step solves the stacked least-squares system
//
//	[ W·J·T' ] Δτ = [ W·(d_obs − d)   ]
//	[ √λ·C   ]      [ −√λ·C·τ        ]
//
// where W weights by inverse data error, T' is the transform chain rule
// and C the first-difference smoothness operator with depth weighting.
func (e *Engine) iterate(obs, errRel []float64, cfg Config, model []float64) (*Result, error) {
	nd := len(obs)
	nc := len(model)
	tr := cfg.Transform

	weights := dataWeights(obs, errRel)
	tau := applyFwd(tr, model)

	resp, err := e.fop.Response(model)
	if err != nil {
		return nil, fmt.Errorf("%w: initial response: %v", ErrInversionDivergence, err)
	}
	chi2 := chiSquared(obs, resp, weights)
	monitoring.Logf("inversion: start chi2=%.3g lambda=%.3g cells=%d data=%d", chi2, cfg.Lambda, nc, nd)

	cw := constraintWeights(nc, cfg.Lambda, cfg.ZWeight)

	iterations := 0
	for it := 1; it <= cfg.MaxIterations; it++ {
		jac, err := e.fop.Jacobian(model)
		if err != nil {
			return nil, fmt.Errorf("%w: jacobian at iteration %d: %v", ErrInversionDivergence, it, err)
		}
		step, err := solveStep(jac, obs, resp, weights, tau, model, tr, cw)
		if err != nil {
			return nil, fmt.Errorf("%w: iteration %d: %v", ErrInversionDivergence, it, err)
		}

		// Backtracking line search on the data misfit.
		alpha := 1.0
		var nextTau, nextModel, nextResp []float64
		var nextChi2 float64
		accepted := false
		for ls := 0; ls < lineSearchSteps; ls++ {
			nextTau = make([]float64, nc)
			for i := range nextTau {
				nextTau[i] = tau[i] + alpha*step[i]
			}
			nextModel = applyInv(tr, nextTau)
			nextResp, err = e.fop.Response(nextModel)
			if err != nil {
				return nil, fmt.Errorf("%w: response at iteration %d: %v", ErrInversionDivergence, it, err)
			}
			nextChi2 = chiSquared(obs, nextResp, weights)
			if !math.IsNaN(nextChi2) && !math.IsInf(nextChi2, 0) && (nextChi2 <= chi2 || ls == lineSearchSteps-1) {
				accepted = nextChi2 <= chi2
				break
			}
			alpha /= 2
		}
		if math.IsNaN(nextChi2) || math.IsInf(nextChi2, 0) {
			return nil, fmt.Errorf("%w: non-finite misfit at iteration %d", ErrInversionDivergence, it)
		}
		if !accepted {
			// No step length improved the fit; keep the current model.
			monitoring.Logf("inversion: iteration %d step rejected (chi2 %.3g -> %.3g)", it, chi2, nextChi2)
			break
		}

		relChange := math.Abs(chi2-nextChi2) / math.Max(chi2, 1e-30)
		tau, model, resp = nextTau, nextModel, nextResp
		prev := chi2
		chi2 = nextChi2
		iterations = it
		monitoring.Logf("inversion: iteration %d chi2 %.3g -> %.3g (alpha=%.3g)", it, prev, chi2, alpha)

		if chi2 <= 1 || relChange < cfg.Chi2Tolerance {
			break
		}
	}

	return &Result{
		Model:      append([]float64(nil), model...),
		Response:   append([]float64(nil), resp...),
		Iterations: iterations,
		Chi2:       chi2,
	}, nil
}

// dataWeights converts relative errors into inverse absolute standard
// deviations. Rows with non-finite or zero deviation get weight 0, which
// removes them from the fit instead of ill-conditioning the system.
func dataWeights(obs, errRel []float64) []float64 {
	w := make([]float64, len(obs))
	for i := range obs {
		sigma := errRel[i] * math.Abs(obs[i])
		if sigma > 0 && !math.IsInf(sigma, 0) && !math.IsNaN(sigma) {
			w[i] = 1 / sigma
		}
	}
	return w
}

// constraintWeights builds the per-difference smoothness weights √λ·wz.
// Depth weighting ramps from zWeight at the surface end of the cell
// ordering to 1 at depth.
func constraintWeights(nc int, lambda, zWeight float64) []float64 {
	if nc < 2 || lambda <= 0 {
		return nil
	}
	sqrtLam := math.Sqrt(lambda)
	w := make([]float64, nc-1)
	for k := range w {
		depth := float64(k) / float64(nc-1)
		w[k] = sqrtLam * (zWeight + (1-zWeight)*depth)
	}
	return w
}

// chiSquared is the mean weighted squared misfit; rows with zero weight do
// not contribute.
func chiSquared(obs, resp, weights []float64) float64 {
	var sum float64
	n := 0
	for i := range obs {
		if weights[i] == 0 {
			continue
		}
		r := (obs[i] - resp[i]) * weights[i]
		sum += r * r
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// solveStep assembles and solves the stacked Gauss-Newton least-squares
// system for Δτ via QR.
func solveStep(jac *mat.Dense, obs, resp, weights, tau, model []float64, tr Transform, cw []float64) ([]float64, error) {
	nd := len(obs)
	nc := len(model)
	jr, jc := jac.Dims()
	if jr != nd || jc != nc {
		return nil, fmt.Errorf("jacobian is %dx%d, want %dx%d", jr, jc, nd, nc)
	}

	nCon := len(cw)
	lhs := mat.NewDense(nd+nCon, nc, nil)
	rhs := mat.NewVecDense(nd+nCon, nil)

	// Chain rule dm/dτ per cell.
	dmdt := make([]float64, nc)
	for j := range dmdt {
		d := tr.Deriv(model[j])
		if d != 0 {
			dmdt[j] = 1 / d
		}
	}

	for i := 0; i < nd; i++ {
		for j := 0; j < nc; j++ {
			lhs.Set(i, j, weights[i]*jac.At(i, j)*dmdt[j])
		}
		rhs.SetVec(i, weights[i]*(obs[i]-resp[i]))
	}
	for k := 0; k < nCon; k++ {
		lhs.Set(nd+k, k, -cw[k])
		lhs.Set(nd+k, k+1, cw[k])
		rhs.SetVec(nd+k, -cw[k]*(tau[k+1]-tau[k]))
	}

	var step mat.VecDense
	if err := step.SolveVec(lhs, rhs); err != nil {
		return nil, fmt.Errorf("least-squares solve: %v", err)
	}
	out := make([]float64, nc)
	for j := range out {
		out[j] = step.AtVec(j)
	}
	return out, nil
}
