// Package matcher finds the closest registered identity for a face descriptor.
package matcher

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/andresmejia3/cymatic/internal/types"
)

// DefaultThreshold is the maximum Euclidean distance for two descriptors to be
// considered the same person (lower is stricter).
const DefaultThreshold = 0.6

// Distance returns the Euclidean distance between two descriptors.
// Descriptors of different length are infinitely far apart.
func Distance(a, b types.Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// Match compares d against every descriptor of every face in snapshot and
// returns the owner of the global minimum if it is within threshold.
//
// Faces are scanned in insertion order and only a strictly smaller distance
// replaces the current best, so equal distances resolve to the earliest face.
func Match(d types.Descriptor, snapshot []types.RegisteredFace, threshold float64) types.MatchResult {
	best := types.MatchResult{Label: types.Unknown, Distance: math.Inf(1)}
	bestID := ""

	for _, face := range snapshot {
		for _, stored := range face.Descriptors {
			dist := Distance(d, stored)
			if dist < best.Distance {
				best.Distance = dist
				bestID = face.ID
			}
		}
	}

	if bestID != "" && best.Distance <= threshold {
		best.Label = bestID
	}
	return best
}
