package iterutil

import (
	"iter"
	"slices"
)

func WithIndex[Slice ~[]E, E any](s iter.Seq[Slice]) iter.Seq2[int, Slice] {
	return func(yield func(int, Slice) bool) {
		index := 0
		for v := range s {
			if !yield(index, v) {
				return
			}
			index++
		}
	}
}

// Chunks splits s into consecutive sub-slices of at most size elements.
func Chunks[Slice ~[]E, E any](s Slice, size int) iter.Seq[Slice] {
	if size <= 0 {
		size = len(s)
	}
	return func(yield func(Slice) bool) {
		if len(s) == 0 {
			return
		}
		for c := range slices.Chunk(s, size) {
			if !yield(c) {
				return
			}
		}
	}
}
