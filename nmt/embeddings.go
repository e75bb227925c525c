// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nmt

import (
	"encoding/gob"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
	"github.com/nlpodyssey/spago/nn/embedding"
)

// Embeddings maps token ids to embedding rows. Ids outside the
// vocabulary are silently substituted with the unknown-token id: this
// is a deliberate degrade-gracefully policy, not a fault.
type Embeddings struct {
	nn.Module
	Tokens *embedding.Model
	UnkID  int
}

func init() {
	gob.Register(&Embeddings{})
}

func NewEmbeddings[T float.DType](vocabSize, dim, unkID int) *Embeddings {
	return &Embeddings{
		Tokens: embedding.New[T](vocabSize, dim),
		UnkID:  unkID,
	}
}

// Rows returns the vocabulary size.
func (m *Embeddings) Rows() int {
	return len(m.Tokens.Weights)
}

// Columns returns the embedding width.
func (m *Embeddings) Columns() int {
	return m.Tokens.Weights[0].Value().(mat.Matrix).Size()
}

// Lookup resolves the given token ids into one embedding row each,
// preserving input order.
func (m *Embeddings) Lookup(ids []int) (mat.Tensor, error) {
	resolved := make([]int, len(ids))
	rows := m.Rows()
	for i, id := range ids {
		if id < 0 || id >= rows {
			id = m.UnkID
		}
		resolved[i] = id
	}

	xs, err := m.Tokens.Encode(resolved)
	if err != nil {
		return nil, err
	}
	return ag.Stack(xs...), nil
}
