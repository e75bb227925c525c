// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rnnsearch

import (
	"testing"

	"github.com/nlpodyssey/spago/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOutput() *Output {
	return NewOutput[float32](3, 2, 4, 3, 5)
}

func TestOutputForwardIsDistribution(t *testing.T) {
	out := newTestOutput()
	out.W4.ReplaceValue(mat.NewDense[float32](mat.WithShape(3, 5), mat.WithBacking([]float32{
		0.1, -0.2, 0.3, 0.4, -0.5,
		0.5, 0.1, -0.3, 0.2, 0.0,
		-0.1, 0.6, 0.2, -0.4, 0.3,
	})))
	out.B4.ReplaceValue(mat.NewDense[float32](mat.WithShape(1, 5), mat.WithBacking([]float32{0.1, 0.2, 0.3, 0.4, 0.5})))

	state := mat.NewDense[float32](mat.WithShape(2, 3), mat.WithBacking([]float32{
		0.5, -0.5, 0.1,
		0.2, 0.3, -0.4,
	}))
	embedding := mat.NewDense[float32](mat.WithShape(2, 2), mat.WithBacking([]float32{1, 0, 0, 1}))
	aligned := mat.NewDense[float32](mat.WithShape(2, 4), mat.WithBacking([]float32{
		0.1, 0.2, 0.3, 0.4,
		0.4, 0.3, 0.2, 0.1,
	}))

	probs := out.Forward(state, embedding, aligned, nil)
	assert.Equal(t, []int{2, 5}, tensorShape(t, probs))

	data := tensorData(t, probs)
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 5; c++ {
			assert.Greater(t, data[r*5+c], float32(0))
			sum += data[r*5+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestOutputVocabSize(t *testing.T) {
	assert.Equal(t, 5, newTestOutput().VocabSize())
}

func TestOutputMakeFilter(t *testing.T) {
	out := newTestOutput()
	out.W4.ReplaceValue(mat.NewDense[float32](mat.WithShape(3, 5), mat.WithBacking([]float32{
		0, 1, 2, 3, 4,
		10, 11, 12, 13, 14,
		20, 21, 22, 23, 24,
	})))
	out.B4.ReplaceValue(mat.NewDense[float32](mat.WithShape(1, 5), mat.WithBacking([]float32{100, 101, 102, 103, 104})))

	filter, err := out.MakeFilter([]int{0, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, filter.IDs)
	assert.Equal(t, []int{3, 2}, tensorShape(t, filter.W))
	assert.Equal(t, []float32{0, 3, 10, 13, 20, 23}, tensorData(t, filter.W))
	assert.Equal(t, []float32{100, 103}, tensorData(t, filter.B))
}

func TestOutputMakeFilterOutOfRange(t *testing.T) {
	out := newTestOutput()
	_, err := out.MakeFilter([]int{0, 5})
	assert.Error(t, err)
	_, err = out.MakeFilter([]int{-1})
	assert.Error(t, err)
}

func TestOutputForwardWithFilter(t *testing.T) {
	out := newTestOutput()
	filter, err := out.MakeFilter([]int{1, 2, 4})
	require.NoError(t, err)

	state := mat.NewDense[float32](mat.WithShape(2, 3))
	embedding := mat.NewDense[float32](mat.WithShape(2, 2))
	aligned := mat.NewDense[float32](mat.WithShape(2, 4))

	probs := out.Forward(state, embedding, aligned, filter)
	assert.Equal(t, []int{2, 3}, tensorShape(t, probs), "distribution restricted to the candidate set")
	assert.InDeltaSlice(t, []float32{
		1.0 / 3, 1.0 / 3, 1.0 / 3,
		1.0 / 3, 1.0 / 3, 1.0 / 3,
	}, tensorData(t, probs), 1e-6)
}
