// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"fmt"

	"github.com/nlpodyssey/spago/mat"
)

// EncOut is the immutable encoded-source bundle for one request batch:
// the source sentences and one context matrix per sentence, where row
// t of a context is the bidirectional encoding of source position t.
// It is shared read-only by every consumer for the lifetime of the
// batch.
type EncOut struct {
	sentences Sentences
	contexts  []mat.Tensor
}

func NewEncOut(sentences Sentences, contexts []mat.Tensor) (*EncOut, error) {
	if len(contexts) != sentences.Len() {
		return nil, fmt.Errorf("encoder: %d source contexts for %d sentences", len(contexts), sentences.Len())
	}
	return &EncOut{
		sentences: sentences,
		contexts:  contexts,
	}, nil
}

func (e *EncOut) Sentences() Sentences {
	return e.sentences
}

func (e *EncOut) Sentence(i int) *Sentence {
	return e.sentences.Get(i)
}

// SourceContext returns the context matrix of the i-th sentence.
func (e *EncOut) SourceContext(i int) mat.Tensor {
	return e.contexts[i]
}
