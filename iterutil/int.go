package iterutil

import (
	"golang.org/x/exp/constraints"
)

// Counter yields increasing integers starting right after its initial value. It is not safe for concurrent use.
type Counter[T constraints.Integer] struct {
	i T
}

func Int[T constraints.Integer](init T) Counter[T] {
	return Counter[T]{i: init}
}

func (c *Counter[T]) Next() T {
	c.i++
	return c.i
}
