// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sliceutils

import (
	"cmp"
	"container/heap"
)

// OrderedHeap is a min-heap over any ordered type, satisfying
// heap.Interface via its pointer receiver methods.
type OrderedHeap[T cmp.Ordered] []T

func (h OrderedHeap[T]) Len() int           { return len(h) }
func (h OrderedHeap[T]) Less(i, j int) bool { return h[i] < h[j] }
func (h OrderedHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *OrderedHeap[T]) Push(x any) {
	*h = append(*h, x.(T))
}

func (h *OrderedHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ReverseHeap wraps an OrderedHeap turning it into a max-heap.
func ReverseHeap[T cmp.Ordered](h *OrderedHeap[T]) heap.Interface {
	return reverseHeap[T]{h}
}

type reverseHeap[T cmp.Ordered] struct {
	h *OrderedHeap[T]
}

func (r reverseHeap[T]) Len() int           { return r.h.Len() }
func (r reverseHeap[T]) Less(i, j int) bool { return (*r.h)[j] < (*r.h)[i] }
func (r reverseHeap[T]) Swap(i, j int)      { r.h.Swap(i, j) }
func (r reverseHeap[T]) Push(x any)         { r.h.Push(x) }
func (r reverseHeap[T]) Pop() any           { return r.h.Pop() }
