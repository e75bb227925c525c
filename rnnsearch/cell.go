// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rnnsearch implements the layers of the attention-based
// encoder-decoder translation architecture of Bahdanau et al. (2014),
// commonly known as RNNsearch: GRU cells, the decoder state
// initializer, additive attention and the deep-output vocabulary
// projection. All layers operate on batches of rows, one row per
// hypothesis, and hold no mutable per-step state, so a model can be
// shared across concurrent decodes.
package rnnsearch

import (
	"encoding/gob"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

var _ nn.Model = &Cell{}

// Cell is a GRU cell with separate reset, update and candidate gate
// parameters. Input weights are stored input-major (in x hidden) so
// that a whole batch of rows multiplies through without transposition.
type Cell struct {
	nn.Module
	WR, UR, BR *nn.Param
	WZ, UZ, BZ *nn.Param
	WH, UH, BH *nn.Param
}

func init() {
	gob.Register(&Cell{})
}

func NewCell[T float.DType](in, hidden int) *Cell {
	return &Cell{
		WR: nn.NewParam(mat.NewDense[T](mat.WithShape(in, hidden))),
		UR: nn.NewParam(mat.NewDense[T](mat.WithShape(hidden, hidden))),
		BR: nn.NewParam(mat.NewDense[T](mat.WithShape(1, hidden))),
		WZ: nn.NewParam(mat.NewDense[T](mat.WithShape(in, hidden))),
		UZ: nn.NewParam(mat.NewDense[T](mat.WithShape(hidden, hidden))),
		BZ: nn.NewParam(mat.NewDense[T](mat.WithShape(1, hidden))),
		WH: nn.NewParam(mat.NewDense[T](mat.WithShape(in, hidden))),
		UH: nn.NewParam(mat.NewDense[T](mat.WithShape(hidden, hidden))),
		BH: nn.NewParam(mat.NewDense[T](mat.WithShape(1, hidden))),
	}
}

// Forward advances the recurrent state for a whole batch of rows at
// once. Both state and x must have the same number of rows.
func (m *Cell) Forward(state, x mat.Tensor) mat.Tensor {
	n := numRows(x)

	r := ag.Sigmoid(ag.Add(ag.Add(ag.Mul(x, m.WR), ag.Mul(state, m.UR)), tileRows(m.BR, n)))
	z := ag.Sigmoid(ag.Add(ag.Add(ag.Mul(x, m.WZ), ag.Mul(state, m.UZ)), tileRows(m.BZ, n)))
	h := ag.Tanh(ag.Add(ag.Add(ag.Mul(x, m.WH), ag.Prod(r, ag.Mul(state, m.UH))), tileRows(m.BH, n)))

	return ag.Add(ag.Prod(ag.ReverseSubOne(z), h), ag.Prod(z, state))
}
