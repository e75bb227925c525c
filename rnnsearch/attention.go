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

var _ nn.Model = &Attention{}

// Attention is the additive attention layer of RNNsearch: for each
// hypothesis it scores every source position against the current
// hidden state and returns the weighted sum of the source context.
type Attention struct {
	nn.Module
	W *nn.Param // hidden state projection (hidden x att)
	U *nn.Param // source context projection (ctx x att)
	B *nn.Param // projection bias (1 x att)
	V *nn.Param // energy vector (att x 1)
}

func init() {
	gob.Register(&Attention{})
}

func NewAttention[T float.DType](hidden, ctxSize, att int) *Attention {
	return &Attention{
		W: nn.NewParam(mat.NewDense[T](mat.WithShape(hidden, att))),
		U: nn.NewParam(mat.NewDense[T](mat.WithShape(ctxSize, att))),
		B: nn.NewParam(mat.NewDense[T](mat.WithShape(1, att))),
		V: nn.NewParam(mat.NewDense[T](mat.WithShape(att, 1))),
	}
}

// MapSource projects an LxC source context into the attention space.
// The result depends only on the source, so callers decoding many
// steps over the same sentence compute it once and pass it back to
// Forward at every step.
func (m *Attention) MapSource(sourceContext mat.Tensor) mat.Tensor {
	return affineRows(sourceContext, m.U, m.B)
}

// Forward computes, for each of the n hidden-state rows, the attention
// weights over the L source positions and the aligned source context.
// It returns the nxC aligned context and the nxL weight matrix.
func (m *Attention) Forward(hiddenState, sourceContext, mappedContext mat.Tensor) (aligned, weights mat.Tensor) {
	n := numRows(hiddenState)
	l := numRows(sourceContext)

	mappedState := ag.Mul(hiddenState, m.W)
	att := numCols(mappedState)

	alignedRows := make([]mat.Tensor, n)
	weightRows := make([]mat.Tensor, n)
	for i := 0; i < n; i++ {
		stateRow := ag.Mul(onesCol(l), ag.Reshape(ag.RowView(mappedState, i), 1, att))
		energies := ag.Mul(ag.Tanh(ag.Add(mappedContext, stateRow)), m.V)
		w := ag.Softmax(energies)
		weightRows[i] = w
		alignedRows[i] = ag.Mul(ag.T(sourceContext), w)
	}
	return ag.Stack(alignedRows...), ag.Stack(weightRows...)
}
