// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decoder advances the translation decoder one recurrent step
// at a time over a whole batch of beam hypotheses, and drives the beam
// search that turns per-step distributions into translated sequences.
package decoder

import (
	"fmt"

	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/tradukilo/nmt"
	"github.com/nlpodyssey/tradukilo/rnnsearch"
)

// Decoder is the per-decode step machine. The model weights it reads
// are shared and immutable; the per-step working buffers (attention
// weights, mapped source context, vocabulary filter) are private to
// one instance, so concurrent decodes need separate Decoders.
type Decoder struct {
	model *nmt.Model

	attention     mat.Tensor
	mappedSource  mat.Tensor
	mappedContext mat.Tensor
	filter        *rnnsearch.VocabFilter
}

func New(model *nmt.Model) *Decoder {
	return &Decoder{model: model}
}

// MakeStep performs one deterministic decode transition for the whole
// batch of rows: hidden-state update, attention over the source
// context, next-state computation and the vocabulary distribution.
// Row i of every tensor corresponds to the same hypothesis across all
// four sub-steps.
//
// A row-count mismatch between state and embeddings is a programming
// fault of the driver and panics.
func (d *Decoder) MakeStep(state, embeddings, sourceContext mat.Tensor) (nextState, probs mat.Tensor) {
	mustMatchRows(state, embeddings)

	hiddenState := d.model.DecGRU1.Forward(state, embeddings)
	alignedContext := d.alignedSourceContext(hiddenState, sourceContext)
	nextState = d.model.DecGRU2.Forward(hiddenState, alignedContext)
	probs = d.model.DecOutput.Forward(nextState, embeddings, alignedContext, d.filter)
	return nextState, probs
}

// alignedSourceContext computes the attention-weighted source context
// for every hypothesis row, caching the source projection for as long
// as the same context tensor is passed in.
func (d *Decoder) alignedSourceContext(hiddenState, sourceContext mat.Tensor) mat.Tensor {
	if d.mappedSource != sourceContext {
		d.mappedContext = d.model.DecAttention.MapSource(sourceContext)
		d.mappedSource = sourceContext
	}
	aligned, weights := d.model.DecAttention.Forward(hiddenState, sourceContext, d.mappedContext)
	d.attention = weights
	return aligned
}

// EmptyState produces the step-0 recurrent state from the source
// context alone, sized to the given batch width.
func (d *Decoder) EmptyState(sourceContext mat.Tensor, batchSize int) mat.Tensor {
	return d.model.DecInit.Forward(sourceContext, batchSize)
}

// EmptyEmbedding produces the all-zero beginning-of-sequence input.
func (d *Decoder) EmptyEmbedding(batchSize int) mat.Tensor {
	return mat.NewDense[float32](mat.WithShape(batchSize, d.model.DecEmbeddings.Columns()))
}

// Lookup resolves target-token ids to embedding rows.
func (d *Decoder) Lookup(ids []int) (mat.Tensor, error) {
	return d.model.DecEmbeddings.Lookup(ids)
}

// Filter restricts the output projection to the given candidate token
// ids; column j of subsequent probability rows scores ids[j]. A nil
// ids clears the restriction.
func (d *Decoder) Filter(ids []int) error {
	if ids == nil {
		d.filter = nil
		return nil
	}
	filter, err := d.model.DecOutput.MakeFilter(ids)
	if err != nil {
		return err
	}
	d.filter = filter
	return nil
}

// Attention returns the attention weights of the last step, one row
// per hypothesis, one column per source position.
func (d *Decoder) Attention() mat.Tensor {
	return d.attention
}

// VocabSize returns the target vocabulary row count.
func (d *Decoder) VocabSize() int {
	return d.model.DecEmbeddings.Rows()
}

func mustMatchRows(state, embeddings mat.Tensor) {
	sr := state.Value().(mat.Matrix).Shape()[0]
	er := embeddings.Value().(mat.Matrix).Shape()[0]
	if sr != er {
		panic(fmt.Sprintf("decoder: state has %d rows, embeddings %d", sr, er))
	}
}
