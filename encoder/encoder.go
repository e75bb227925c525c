// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package encoder turns tokenized source sentences into the encoded
// context bundles the decoder attends over.
package encoder

import (
	"context"
	"fmt"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/tradukilo/nmt"
	"github.com/rs/zerolog/log"
)

type Encoder struct {
	model *nmt.Model
}

func New(model *nmt.Model) *Encoder {
	return &Encoder{model: model}
}

// Encode runs the bidirectional GRU over each sentence and bundles the
// per-position context rows into an EncOut.
func (e *Encoder) Encode(ctx context.Context, sentences Sentences) (*EncOut, error) {
	log.Trace().Msgf("Encoding %d sentences...", sentences.Len())

	contexts := make([]mat.Tensor, sentences.Len())
	for i, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc, err := e.encodeSentence(sentence)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sentence %d: %w", sentence.LineNum, err)
		}
		contexts[i] = sc
	}
	return NewEncOut(sentences, contexts)
}

// encodeSentence returns the L x 2H source context of one sentence:
// the forward and backward GRU states at each position, concatenated.
func (e *Encoder) encodeSentence(sentence *Sentence) (mat.Tensor, error) {
	embeddings, err := e.model.EncEmbeddings.Lookup(sentence.IDs)
	if err != nil {
		return nil, err
	}

	l := sentence.Size()
	dim := e.model.EncEmbeddings.Columns()
	hidden := e.model.Config.HiddenSize

	inputs := make([]mat.Tensor, l)
	for t := 0; t < l; t++ {
		inputs[t] = ag.Reshape(ag.RowView(embeddings, t), 1, dim)
	}

	forward := make([]mat.Tensor, l)
	state := emptyState(hidden)
	for t := 0; t < l; t++ {
		state = e.model.EncForward.Forward(state, inputs[t])
		forward[t] = state
	}

	backward := make([]mat.Tensor, l)
	state = emptyState(hidden)
	for t := l - 1; t >= 0; t-- {
		state = e.model.EncBackward.Forward(state, inputs[t])
		backward[t] = state
	}

	rows := make([]mat.Tensor, l)
	for t := 0; t < l; t++ {
		rows[t] = ag.Concat(ag.Reshape(forward[t], hidden, 1), ag.Reshape(backward[t], hidden, 1))
	}
	return ag.Stack(rows...), nil
}

func emptyState(hidden int) mat.Tensor {
	return mat.NewDense[float32](mat.WithShape(1, hidden))
}
