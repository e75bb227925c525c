// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sliceutils

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedHeap(t *testing.T) {
	h := OrderedHeap[float64]{3.5, 1.2, 2.8, 0.4}
	heap.Init(&h)

	heap.Push(&h, 1.9)

	popped := make([]float64, 0, 5)
	for h.Len() > 0 {
		popped = append(popped, heap.Pop(&h).(float64))
	}
	assert.Equal(t, []float64{0.4, 1.2, 1.9, 2.8, 3.5}, popped)
}

func TestReverseHeap(t *testing.T) {
	h := OrderedHeap[int]{3, 1, 2}
	rev := ReverseHeap(&h)
	heap.Init(rev)

	heap.Push(rev, 5)

	popped := make([]int, 0, 4)
	for rev.Len() > 0 {
		popped = append(popped, heap.Pop(rev).(int))
	}
	assert.Equal(t, []int{5, 3, 2, 1}, popped)
}
