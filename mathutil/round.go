package mathutil

import (
	"golang.org/x/exp/constraints"
)

// FloorPow2 returns the largest power of two not greater than v. Values below 1 return 1.
func FloorPow2[T constraints.Integer](v T) T {
	p := T(1)
	for p <= v/2 {
		p *= 2
	}
	return p
}
