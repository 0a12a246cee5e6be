package mathutil

import (
	"golang.org/x/exp/constraints"
)

func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	return max(lo, min(v, hi))
}

// Percent returns part/whole scaled to [0, 100]. A non-positive whole yields 0.
func Percent[T constraints.Integer | constraints.Float](part, whole T) float64 {
	if whole <= 0 {
		return 0
	}
	return Clamp(float64(part)*100/float64(whole), 0, 100)
}
