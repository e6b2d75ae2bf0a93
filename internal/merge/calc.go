package merge

import (
	"math"
	"strings"
)

// Gravity in cm/s², used for the %g → cm/s² conversion and the g export.
const gravityCmS2 = 980.665

// Acceptance window for peak ground acceleration, in m/s². Values exactly
// on a bound are accepted.
const (
	PGAMinMS2 = 1e-5
	PGAMaxMS2 = 4 * 9.806
)

// PercentGToCmS2 converts an acceleration in percent of g to cm/s².
// ESM shakemap amplitudes arrive in %g; RRSM peak motions are already
// cm/s².
func PercentGToCmS2(percentG float64) float64 {
	return percentG * 0.01 * gravityCmS2
}

// CmS2ToMS2 converts cm/s² to m/s² for the acceptance-window check.
func CmS2ToMS2(cmS2 float64) float64 {
	return cmS2 / 100.0
}

// PGAInRange reports whether a PGA in cm/s² lies inside the inclusive
// acceptance window.
func PGAInRange(pgaCmS2 float64) bool {
	ms2 := CmS2ToMS2(math.Abs(pgaCmS2))
	return ms2 >= PGAMinMS2 && ms2 <= PGAMaxMS2
}

// SplitChannelCode strips a leading '.' and splits a dotted channel code
// into (location, channel). Undotted codes have an empty location.
func SplitChannelCode(code string) (location, channel string) {
	code = strings.TrimPrefix(code, ".")
	if i := strings.Index(code, "."); i >= 0 {
		return code[:i], code[i+1:]
	}
	return "", code
}

// StripCode removes any leading dots from a network/station code.
func StripCode(code string) string {
	return strings.TrimLeft(code, ".")
}

// PredictPGA estimates the epicentral PGA in cm/s² for a magnitude and
// depth, using a simple point-source attenuation with geometric spreading
// over the hypocentral distance. It anchors the synthetic epicenter row
// when observations alone would underestimate the source.
func PredictPGA(magnitude, depthKm float64) float64 {
	r := math.Max(depthKm, 1.0)
	logPGA := 0.5*magnitude - math.Log10(r) - 0.003*r + 0.4
	return math.Pow(10, logPGA)
}

// round3 rounds to three decimals, the precision of the engine input.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
