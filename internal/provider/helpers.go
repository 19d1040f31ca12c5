package provider

import "math"

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// scoreFromUnit maps a [-1, 1] reading onto the 0..100 layer scale where 50
// is neutral.
func scoreFromUnit(v float64) float64 {
	return clamp(50+50*v, 0, 100)
}

// confidenceFromStrength grows confidence with distance from neutral: a layer
// that barely leans should not claim certainty.
func confidenceFromStrength(unit float64) float64 {
	return clamp(0.35+0.55*math.Abs(unit), 0, 0.95)
}
