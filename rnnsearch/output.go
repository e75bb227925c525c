// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rnnsearch

import (
	"encoding/gob"
	"fmt"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

var _ nn.Model = &Output{}

// Output is the deep-output vocabulary projection: recurrent state,
// input embedding and aligned source context each go through their own
// affine layer, the sum goes through tanh, and the result is projected
// onto the vocabulary and normalized row-wise.
type Output struct {
	nn.Module
	W1, B1 *nn.Param // recurrent state (hidden x out)
	W2, B2 *nn.Param // input embedding (emb x out)
	W3, B3 *nn.Param // aligned context (ctx x out)
	W4, B4 *nn.Param // vocabulary projection (out x vocab)
}

func init() {
	gob.Register(&Output{})
}

func NewOutput[T float.DType](hidden, emb, ctxSize, out, vocab int) *Output {
	return &Output{
		W1: nn.NewParam(mat.NewDense[T](mat.WithShape(hidden, out))),
		B1: nn.NewParam(mat.NewDense[T](mat.WithShape(1, out))),
		W2: nn.NewParam(mat.NewDense[T](mat.WithShape(emb, out))),
		B2: nn.NewParam(mat.NewDense[T](mat.WithShape(1, out))),
		W3: nn.NewParam(mat.NewDense[T](mat.WithShape(ctxSize, out))),
		B3: nn.NewParam(mat.NewDense[T](mat.WithShape(1, out))),
		W4: nn.NewParam(mat.NewDense[T](mat.WithShape(out, vocab))),
		B4: nn.NewParam(mat.NewDense[T](mat.WithShape(1, vocab))),
	}
}

// VocabSize returns the width of the full vocabulary projection.
func (m *Output) VocabSize() int {
	return numCols(m.W4)
}

// VocabFilter is a projection restricted to a candidate subset of the
// vocabulary. Column j of the restricted projection scores token
// IDs[j]. Built once per batch by MakeFilter and threaded back into
// Forward by the caller, so the layer itself stays immutable.
type VocabFilter struct {
	W   mat.Tensor
	B   mat.Tensor
	IDs []int
}

// MakeFilter extracts the projection columns of the given token ids.
func (m *Output) MakeFilter(ids []int) (*VocabFilter, error) {
	out := numRows(m.W4)
	vocab := numCols(m.W4)

	w4 := m.W4.Value().(mat.Matrix).Data().F32()
	b4 := m.B4.Value().(mat.Matrix).Data().F32()

	wSel := make([]float32, out*len(ids))
	bSel := make([]float32, len(ids))
	for j, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("filter token id %d out of vocabulary range %d", id, vocab)
		}
		for i := 0; i < out; i++ {
			wSel[i*len(ids)+j] = w4[i*vocab+id]
		}
		bSel[j] = b4[id]
	}

	return &VocabFilter{
		W:   mat.NewDense[float32](mat.WithShape(out, len(ids)), mat.WithBacking(wSel)),
		B:   mat.NewDense[float32](mat.WithShape(1, len(ids)), mat.WithBacking(bSel)),
		IDs: ids,
	}, nil
}

// Forward returns one probability distribution per row. With a nil
// filter the distribution spans the full vocabulary, otherwise only
// the filter's candidate set.
func (m *Output) Forward(state, embedding, aligned mat.Tensor, filter *VocabFilter) mat.Tensor {
	t := ag.Tanh(ag.Add(ag.Add(
		affineRows(state, m.W1, m.B1),
		affineRows(embedding, m.W2, m.B2)),
		affineRows(aligned, m.W3, m.B3)))

	var logits mat.Tensor
	if filter == nil {
		logits = affineRows(t, m.W4, m.B4)
	} else {
		logits = affineRows(t, filter.W, filter.B)
	}
	return rowSoftmax(logits)
}
