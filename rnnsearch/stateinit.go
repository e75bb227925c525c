// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rnnsearch

import (
	"encoding/gob"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

var _ nn.Model = &StateInit{}

// StateInit produces the step-0 recurrent state of the decoder from
// the encoded source alone: the mean source-context row goes through a
// tanh affine layer and is replicated once per hypothesis.
type StateInit struct {
	nn.Module
	W *nn.Param
	B *nn.Param
}

func init() {
	gob.Register(&StateInit{})
}

func NewStateInit[T float.DType](ctxSize, hidden int) *StateInit {
	return &StateInit{
		W: nn.NewParam(mat.NewDense[T](mat.WithShape(ctxSize, hidden))),
		B: nn.NewParam(mat.NewDense[T](mat.WithShape(1, hidden))),
	}
}

// Forward returns the initial state, sized batchSize rows.
func (m *StateInit) Forward(sourceContext mat.Tensor, batchSize int) mat.Tensor {
	mean := meanRows(sourceContext)
	s0 := ag.Tanh(ag.Add(ag.Mul(mean, m.W), m.B))
	return ag.Mul(onesCol(batchSize), s0)
}
