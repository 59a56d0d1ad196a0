package inversion

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/geotomo-data/ertinv/internal/ert"
	"github.com/geotomo-data/ertinv/internal/monitoring"
	"github.com/geotomo-data/ertinv/internal/units"
)

// WorkflowState tracks the DC→IP workflow through its stages.
type WorkflowState int

const (
	Idle WorkflowState = iota
	DCRunning
	DCDone
	IPRunning
	Done
	WorkflowFailed
)

func (s WorkflowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case DCRunning:
		return "dc-running"
	case DCDone:
		return "dc-done"
	case IPRunning:
		return "ip-running"
	case Done:
		return "done"
	case WorkflowFailed:
		return "failed"
	}
	return fmt.Sprintf("workflow-state(%d)", int(s))
}

// IP error-model and inversion defaults, per the time-domain convention:
// a 3% relative floor plus a 1 mV/V absolute floor scaled inversely by
// magnitude so near-zero chargeability rows get a large tolerance.
const (
	ipRelErrorFloor = 0.03
	ipAbsErrorFloor = 0.001
	ipDefaultLambda = 100
	ipLowerBound    = 0
	ipUpperBound    = 1
)

// DCIPConfig configures a full two-stage run.
type DCIPConfig struct {
	// Lambda and ZWeight drive the DC (resistivity) stage.
	Lambda  float64
	ZWeight float64
	// StartModel optionally overrides the DC start model; empty selects
	// the median apparent resistivity.
	StartModel []float64
	// IPLambda overrides the IP-stage regularization weight; 0 selects
	// the default of 100.
	IPLambda float64
	// IPStartModel optionally overrides the IP start model; empty selects
	// the median chargeability.
	IPStartModel []float64
	// FrequencyDomain selects the FD branch instead of time-domain
	// chargeability. The FD inversion is a documented no-op.
	FrequencyDomain bool
	// MaxIterations bounds both stages; 0 selects the engine default.
	MaxIterations int
	// Stopwatch, when set, receives stage timings.
	Stopwatch *monitoring.Stopwatch
}

// DCIPManager orchestrates a DC resistivity inversion followed by an IP
// chargeability inversion on the frozen DC geometry. The IP stage is hard
// sequenced after DC convergence and is never attempted when the DC stage
// fails; a converged DC model survives a later IP failure.
type DCIPManager struct {
	fop       ForwardOperator
	mesh      Mesh
	ipFactory IPOperatorFactory
	data      *ert.Dataset

	state      WorkflowState
	dcResult   *Result
	ipResult   *Result
	ipData     []float64
	frozenMesh Mesh
}

// NewDCIPManager creates a workflow over the DC forward operator, its
// parameter mesh, the factory for the IP-stage operator and the cleaned
// survey dataset (resistance plus chargeability columns).
func NewDCIPManager(fop ForwardOperator, mesh Mesh, ipFactory IPOperatorFactory, data *ert.Dataset) *DCIPManager {
	return &DCIPManager{fop: fop, mesh: mesh, ipFactory: ipFactory, data: data, state: Idle}
}

// State returns the workflow state.
func (w *DCIPManager) State() WorkflowState { return w.state }

// DCModel returns the converged resistivity model, nil before DCDone.
func (w *DCIPManager) DCModel() []float64 {
	if w.dcResult == nil {
		return nil
	}
	return append([]float64(nil), w.dcResult.Model...)
}

// IPData returns the normalized (fractional) chargeability data the IP
// stage inverted, nil before the IP stage ran.
func (w *DCIPManager) IPData() []float64 {
	return append([]float64(nil), w.ipData...)
}

// FrozenMesh returns the per-cell-marker frozen copy of the DC mesh used
// by the IP stage, nil before the IP stage ran.
func (w *DCIPManager) FrozenMesh() Mesh { return w.frozenMesh }

// IPModel returns the converged chargeability model, nil unless the
// time-domain IP stage completed.
func (w *DCIPManager) IPModel() []float64 {
	if w.ipResult == nil {
		return nil
	}
	return append([]float64(nil), w.ipResult.Model...)
}

// Invert runs the DC stage and then the IP stage of the matching domain.
// The frequency-domain branch completes the workflow without producing an
// IP model and reports ErrNotImplemented through the log, not as a
// failure (the DC result stands).
func (w *DCIPManager) Invert(cfg DCIPConfig) error {
	if err := w.invertDC(cfg); err != nil {
		w.state = WorkflowFailed
		return fmt.Errorf("dc stage: %w", err)
	}
	if cfg.FrequencyDomain {
		if err := w.invertFDIP(); err != nil {
			monitoring.Logf("inversion: fd-ip stage skipped: %v", err)
		}
		w.state = Done
		return nil
	}
	if err := w.invertTDIP(cfg); err != nil {
		w.state = WorkflowFailed
		return fmt.Errorf("ip stage: %w", err)
	}
	w.state = Done
	return nil
}

// invertDC fits the resistivity model to the dataset's resistance data
// under a log transform.
func (w *DCIPManager) invertDC(cfg DCIPConfig) error {
	w.state = DCRunning
	obs := w.data.Resistances()
	for i, v := range obs {
		if math.IsNaN(v) || v <= 0 {
			return fmt.Errorf("%w: row %d has no positive resistance", ErrBadConfig, i)
		}
	}
	errs := w.data.Errors()

	start := cfg.StartModel
	if len(start) == 0 {
		start = []float64{median(obs)}
	}
	engine := NewEngine(w.fop, w.mesh)
	res, err := engine.Run(obs, errs, Config{
		Transform:     LogTransform{},
		Lambda:        cfg.Lambda,
		ZWeight:       cfg.ZWeight,
		StartModel:    start,
		MaxIterations: cfg.MaxIterations,
		Stopwatch:     cfg.Stopwatch,
	})
	if err != nil {
		return err
	}
	w.dcResult = res
	w.state = DCDone
	monitoring.Logf("inversion: dc stage converged in %d iterations, chi2=%.3g", res.Iterations, res.Chi2)
	return nil
}

// invertTDIP runs the time-domain chargeability inversion on the frozen
// DC geometry.
func (w *DCIPManager) invertTDIP(cfg DCIPConfig) error {
	if w.state != DCDone {
		return fmt.Errorf("%w: ip stage requires a converged dc stage (state %s)", ErrBadConfig, w.state)
	}
	w.state = IPRunning

	// Unit ingestion: values above 1 are mV/V and rescale exactly once.
	ipdata, rescaled := units.NormalizeChargeability(w.data.Chargeabilities())
	if rescaled {
		monitoring.Logf("inversion: chargeability rescaled from mV/V to V/V")
	}
	w.ipData = ipdata

	// Freeze the DC mesh with one distinct marker per cell so the IP
	// regularization cannot couple cells merged during DC meshing.
	frozen := w.mesh.Clone()
	markers := make([]int, frozen.CellCount())
	for i := range markers {
		markers[i] = i
	}
	if err := frozen.SetCellMarkers(markers); err != nil {
		return err
	}
	w.frozenMesh = frozen

	fopIP, err := w.ipFactory.NewIPOperator(frozen, w.DCModel(), append([]float64(nil), w.dcResult.Response...))
	if err != nil {
		return fmt.Errorf("ip operator: %w", err)
	}

	errIP := make([]float64, len(ipdata))
	for i, m := range ipdata {
		errIP[i] = ipRelErrorFloor + ipAbsErrorFloor/m
	}

	lambda := cfg.IPLambda
	if lambda == 0 {
		lambda = ipDefaultLambda
	}
	start := cfg.IPStartModel
	if len(start) == 0 {
		start = []float64{median(ipdata)}
	}

	engine := NewEngine(fopIP, frozen)
	res, err := engine.Run(ipdata, errIP, Config{
		Transform:     LogLUTransform{Lower: ipLowerBound, Upper: ipUpperBound},
		Lambda:        lambda,
		ZWeight:       cfg.ZWeight,
		StartModel:    start,
		MaxIterations: cfg.MaxIterations,
		Stopwatch:     cfg.Stopwatch,
	})
	if err != nil {
		return err
	}
	w.ipResult = res
	monitoring.Logf("inversion: ip stage converged in %d iterations, chi2=%.3g", res.Iterations, res.Chi2)
	return nil
}

// invertFDIP is the frequency-domain branch. The phase inversion has no
// implemented numerical method; it intentionally produces no IP model and
// reports ErrNotImplemented rather than a silent success.
func (w *DCIPManager) invertFDIP() error {
	w.ipResult = nil
	return fmt.Errorf("frequency-domain ip inversion: %w", ErrNotImplemented)
}

// median returns the middle value of xs without mutating it.
func median(xs []float64) float64 {
	tmp := append([]float64(nil), xs...)
	sort.Float64s(tmp)
	return stat.Quantile(0.5, stat.Empirical, tmp, nil)
}
