// Package ert implements the measurement-processing core for electrical
// resistivity / induced-polarization (ERT-IP) surveys: the electrode-index
// codec used to identify configurations, reciprocity matching across
// forward and reversed arrays, and multi-dataset merging onto a canonical
// measurement scheme.
package ert

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidLayout reports an electrode index outside the sensor range.
	ErrInvalidLayout = errors.New("ert: electrode index out of layout range")
	// ErrLayoutMismatch reports datasets with disagreeing sensor counts.
	ErrLayoutMismatch = errors.New("ert: sensor counts differ between datasets")
	// ErrMissingData reports a dataset with no derivable resistance at all.
	ErrMissingData = errors.New("ert: no resistance derivable from any field")
	// ErrEmptyDataset reports an operation on a dataset without measurements.
	ErrEmptyDataset = errors.New("ert: dataset is empty")
)

// Position is a sensor location in metres.
type Position struct {
	X, Y, Z float64
}

// ElectrodeLayout is an ordered sequence of distinct sensor positions.
// Its length parameterizes the index base used by the configuration codec.
type ElectrodeLayout struct {
	positions []Position
}

// NewElectrodeLayout builds a layout from explicit positions. Duplicate
// positions are rejected because electrode indices must identify sensors
// uniquely.
func NewElectrodeLayout(positions []Position) (*ElectrodeLayout, error) {
	seen := make(map[Position]int, len(positions))
	for i, p := range positions {
		if j, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: duplicate sensor position %v at %d and %d", ErrInvalidLayout, p, j, i)
		}
		seen[p] = i
	}
	return &ElectrodeLayout{positions: append([]Position(nil), positions...)}, nil
}

// NewLineLayout builds a surface profile of n electrodes at the given
// spacing along x, all at z = 0.
func NewLineLayout(n int, spacing float64) *ElectrodeLayout {
	positions := make([]Position, n)
	for i := range positions {
		positions[i] = Position{X: float64(i) * spacing}
	}
	return &ElectrodeLayout{positions: positions}
}

// SensorCount returns the number of electrodes in the layout.
func (l *ElectrodeLayout) SensorCount() int { return len(l.positions) }

// Position returns the i-th sensor position.
func (l *ElectrodeLayout) Position(i int) Position { return l.positions[i] }

// Measurement is one four-electrode reading. A/B are the current
// electrodes, M/N the potential electrodes, all 0-based layout indices.
// Float fields follow the conventional survey tokens: U voltage (V),
// I current (A), R resistance (ohm), Rhoa apparent resistivity (ohm m),
// K geometric factor (m), Err relative error, IP chargeability, Rec
// reciprocity. Unknown float fields are zero.
type Measurement struct {
	A, B, M, N int

	U    float64
	I    float64
	R    float64
	Rhoa float64
	K    float64
	Err  float64
	IP   float64
	Rec  float64

	Valid bool
}

// Resistance returns the measurement resistance, deriving it from
// voltage/current or apparent resistivity/geometric factor when it is not
// populated directly. The boolean reports whether any value was available.
func (m *Measurement) Resistance() (float64, bool) {
	switch {
	case m.R != 0:
		return m.R, true
	case m.U != 0 && m.I != 0:
		return m.U / m.I, true
	case m.Rhoa != 0 && m.K != 0:
		return m.Rhoa / m.K, true
	}
	return 0, false
}

// Dataset is an ordered sequence of measurements sharing one electrode
// layout. Invalidated measurements are retained until Compact is called.
type Dataset struct {
	layout *ElectrodeLayout
	rows   []Measurement
}

// NewDataset creates an empty dataset over the given layout.
func NewDataset(layout *ElectrodeLayout) *Dataset {
	return &Dataset{layout: layout}
}

// Layout returns the dataset's electrode layout.
func (d *Dataset) Layout() *ElectrodeLayout { return d.layout }

// SensorCount returns the number of electrodes in the dataset's layout.
func (d *Dataset) SensorCount() int { return d.layout.SensorCount() }

// Size returns the number of measurements, valid or not.
func (d *Dataset) Size() int { return len(d.rows) }

// Row returns a pointer to the i-th measurement for in-place field access.
func (d *Dataset) Row(i int) *Measurement { return &d.rows[i] }

// Add appends a measurement. Electrode indices are validated against the
// layout; the measurement is marked valid.
func (d *Dataset) Add(m Measurement) error {
	n := d.layout.SensorCount()
	for _, idx := range []int{m.A, m.B, m.M, m.N} {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: index %d with %d sensors", ErrInvalidLayout, idx, n)
		}
	}
	m.Valid = true
	d.rows = append(d.rows, m)
	return nil
}

// Append copies all valid rows of other onto d. Layouts must agree on
// sensor count.
func (d *Dataset) Append(other *Dataset) error {
	if other.SensorCount() != d.SensorCount() {
		return fmt.Errorf("%w: %d vs %d", ErrLayoutMismatch, d.SensorCount(), other.SensorCount())
	}
	for _, row := range other.rows {
		if row.Valid {
			d.rows = append(d.rows, row)
		}
	}
	return nil
}

// Copy returns a deep copy sharing the (immutable) layout.
func (d *Dataset) Copy() *Dataset {
	return &Dataset{layout: d.layout, rows: append([]Measurement(nil), d.rows...)}
}

// Compact drops rows previously marked invalid. It returns the number of
// rows removed.
func (d *Dataset) Compact() int {
	kept := d.rows[:0]
	for _, row := range d.rows {
		if row.Valid {
			kept = append(kept, row)
		}
	}
	removed := len(d.rows) - len(kept)
	d.rows = kept
	return removed
}

// AllResistancesKnown reports whether every row carries a nonzero
// resistance field.
func (d *Dataset) AllResistancesKnown() bool {
	for i := range d.rows {
		if d.rows[i].R == 0 {
			return false
		}
	}
	return len(d.rows) > 0
}

// DeriveResistances fills the resistance field from U/I (preferred) or
// Rhoa/K wherever it is unpopulated. Rows with no derivable value keep
// R = 0; the returned count is how many such rows remain. If every row is
// underivable the dataset is unusable and ErrMissingData is returned.
func (d *Dataset) DeriveResistances() (missing int, err error) {
	if len(d.rows) == 0 {
		return 0, ErrEmptyDataset
	}
	for i := range d.rows {
		row := &d.rows[i]
		if row.R != 0 {
			continue
		}
		if r, ok := row.Resistance(); ok {
			row.R = r
		} else {
			missing++
		}
	}
	if missing == len(d.rows) {
		return missing, ErrMissingData
	}
	return missing, nil
}

// Resistances returns the resistance column, NaN where no value is known.
func (d *Dataset) Resistances() []float64 {
	out := make([]float64, len(d.rows))
	for i := range d.rows {
		if r, ok := d.rows[i].Resistance(); ok {
			out[i] = r
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Chargeabilities returns the IP column.
func (d *Dataset) Chargeabilities() []float64 {
	out := make([]float64, len(d.rows))
	for i := range d.rows {
		out[i] = d.rows[i].IP
	}
	return out
}

// Errors returns the relative-error column.
func (d *Dataset) Errors() []float64 {
	out := make([]float64, len(d.rows))
	for i := range d.rows {
		out[i] = d.rows[i].Err
	}
	return out
}

// GeometricFactors returns the cached K column and whether every entry is
// populated.
func (d *Dataset) GeometricFactors() ([]float64, bool) {
	out := make([]float64, len(d.rows))
	all := len(d.rows) > 0
	for i := range d.rows {
		out[i] = d.rows[i].K
		if d.rows[i].K == 0 {
			all = false
		}
	}
	return out, all
}

// SetGeometricFactors caches externally computed geometric factors on the
// scheme rows.
func (d *Dataset) SetGeometricFactors(k []float64) error {
	if len(k) != len(d.rows) {
		return fmt.Errorf("ert: %d geometric factors for %d rows", len(k), len(d.rows))
	}
	for i := range d.rows {
		d.rows[i].K = k[i]
	}
	return nil
}

// GeometricFactorer computes array geometric factors for a measurement
// scheme. Implementations are external forward-geometry routines; the
// analytic half-space variant in this package serves flat surface layouts.
type GeometricFactorer interface {
	GeometricFactors(scheme *Dataset) ([]float64, error)
}

// LayoutSpec selects the electrode layout for a scheme rebuilt from unique
// keys. Exactly one source is carried; it is resolved once at the call
// boundary.
type LayoutSpec struct {
	layout  *ElectrodeLayout
	dataset *Dataset
	count   int
}

// ExplicitLayout selects an explicit layout.
func ExplicitLayout(l *ElectrodeLayout) LayoutSpec { return LayoutSpec{layout: l} }

// LayoutFrom selects the layout of an existing dataset.
func LayoutFrom(d *Dataset) LayoutSpec { return LayoutSpec{dataset: d} }

// SensorCountLayout selects a synthetic unit-spaced line of n electrodes.
func SensorCountLayout(n int) LayoutSpec { return LayoutSpec{count: n} }

func (s LayoutSpec) resolve() (*ElectrodeLayout, error) {
	switch {
	case s.layout != nil:
		return s.layout, nil
	case s.dataset != nil:
		return s.dataset.layout, nil
	case s.count > 0:
		return NewLineLayout(s.count, 1), nil
	}
	return nil, fmt.Errorf("%w: empty layout spec", ErrInvalidLayout)
}
