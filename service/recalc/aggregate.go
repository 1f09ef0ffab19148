// Package recalc is the recalculation pipeline: enqueueing users onto the
// work queue, consuming the queue, and the bulk deploy that rewrites the live
// tables after a rework ships.
package recalc

import (
	"math"
	"sort"
)

const (
	weightDecay = 0.95
	bonusScale  = 416.6667
	bonusDecay  = 0.995
)

// AggregatePP folds per-score pp values into a user total. Scores weight in
// descending order with geometric decay, plus a bonus that saturates with the
// eligible score count.
func AggregatePP(scores []float64, scoreCount int32) int32 {
	sorted := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var total float64
	for i, pp := range sorted {
		total += pp * math.Pow(weightDecay, float64(i))
	}
	total += bonusScale * (1 - math.Pow(bonusDecay, float64(scoreCount)))
	return int32(math.Round(total))
}
