// Package inversion implements the regularized Gauss-Newton engine and the
// two-stage DC→IP workflow driving it. Mesh handling, forward physics and
// geometric factors are consumed through the interfaces in forward.go.
package inversion

import "math"

// Transform reparameterizes the model so unconstrained optimization
// respects physical bounds. Fwd maps physical to transformed space, Inv
// maps back, Deriv is dτ/dm evaluated at a physical value.
type Transform interface {
	Fwd(m float64) float64
	Inv(t float64) float64
	Deriv(m float64) float64
}

// IdentityTransform leaves the model unconstrained.
type IdentityTransform struct{}

func (IdentityTransform) Fwd(m float64) float64   { return m }
func (IdentityTransform) Inv(t float64) float64   { return t }
func (IdentityTransform) Deriv(m float64) float64 { return 1 }

// LogTransform guarantees positivity via τ = ln(m).
type LogTransform struct{}

func (LogTransform) Fwd(m float64) float64   { return math.Log(m) }
func (LogTransform) Inv(t float64) float64   { return math.Exp(t) }
func (LogTransform) Deriv(m float64) float64 { return 1 / m }

// LogLUTransform constrains the model to (Lower, Upper) via the bounded
// logarithmic map τ = ln((m−l)/(u−m)).
type LogLUTransform struct {
	Lower, Upper float64
}

const logLUMargin = 1e-12

// clamp keeps m strictly inside the open interval so the map stays finite.
func (tr LogLUTransform) clamp(m float64) float64 {
	span := tr.Upper - tr.Lower
	lo := tr.Lower + logLUMargin*span
	hi := tr.Upper - logLUMargin*span
	return math.Min(math.Max(m, lo), hi)
}

func (tr LogLUTransform) Fwd(m float64) float64 {
	m = tr.clamp(m)
	return math.Log((m - tr.Lower) / (tr.Upper - m))
}

func (tr LogLUTransform) Inv(t float64) float64 {
	e := math.Exp(t)
	if math.IsInf(e, 1) {
		return tr.Upper
	}
	return (tr.Lower + tr.Upper*e) / (1 + e)
}

func (tr LogLUTransform) Deriv(m float64) float64 {
	m = tr.clamp(m)
	return (tr.Upper - tr.Lower) / ((m - tr.Lower) * (tr.Upper - m))
}

// applyFwd maps a physical model vector into transformed space.
func applyFwd(tr Transform, m []float64) []float64 {
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = tr.Fwd(v)
	}
	return out
}

// applyInv maps a transformed vector back to physical space.
func applyInv(tr Transform, t []float64) []float64 {
	out := make([]float64, len(t))
	for i, v := range t {
		out[i] = tr.Inv(v)
	}
	return out
}
