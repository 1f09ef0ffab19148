package performance

import "math"

// Round2 rounds to two decimals, coercing NaN, infinities and negatives to
// zero. Every value leaving this package goes through it before persistence
// or publication.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return math.Round(x*100) / 100
}
