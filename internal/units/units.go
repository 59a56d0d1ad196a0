// Package units provides shared constants and conversions for geophysical
// quantities handled by the inversion pipeline.
package units

// Unit name constants
const (
	OhmMeter          = "ohmm" // resistivity / apparent resistivity
	Ohm               = "ohm"  // resistance
	VoltPerVolt       = "V/V"  // fractional chargeability
	MilliVoltPerVolt  = "mV/V" // field-unit chargeability
	MilliVoltsPerVolt = 1000.0 // mV/V per V/V
)

// ValidChargeabilityUnits contains all valid chargeability unit values.
var ValidChargeabilityUnits = []string{VoltPerVolt, MilliVoltPerVolt}

// IsValidChargeabilityUnit checks if the given unit is a known
// chargeability unit.
func IsValidChargeabilityUnit(unit string) bool {
	for _, valid := range ValidChargeabilityUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// NormalizeChargeability converts chargeability values to fractional V/V.
// Values whose maximum exceeds 1 are taken to be in mV/V and divided by
// 1000; values already fractional are returned unchanged. The conversion
// is applied at most once per call, and the boolean reports whether a
// rescale happened so callers can guarantee exactly-once ingestion.
func NormalizeChargeability(vals []float64) ([]float64, bool) {
	rescale := false
	for _, v := range vals {
		if v > 1 {
			rescale = true
			break
		}
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		if rescale {
			out[i] = v / MilliVoltsPerVolt
		} else {
			out[i] = v
		}
	}
	return out, rescale
}

// ChargeabilityToFieldUnits converts fractional chargeability back to mV/V
// for reporting.
func ChargeabilityToFieldUnits(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v * MilliVoltsPerVolt
	}
	return out
}
