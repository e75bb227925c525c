// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

import (
	"context"
	"testing"

	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/tradukilo/nmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel() *nmt.Model {
	return nmt.New[float32](nmt.Config{
		EmbeddingSize:   4,
		HiddenSize:      3,
		AttentionSize:   5,
		SourceVocabSize: 10,
		TargetVocabSize: 8,
	})
}

func testSentences() Sentences {
	return Sentences{
		NewSentence(0, []string{"a", "b"}, []int{2, 3}, 0),
		NewSentence(1, []string{"a", "b", "c", "d"}, []int{2, 3, 4, 5}, 0),
	}
}

func TestEncodeShapes(t *testing.T) {
	enc := New(newTestModel())
	encOut, err := enc.Encode(context.Background(), testSentences())
	require.NoError(t, err)

	require.Equal(t, 2, encOut.Sentences().Len())

	// one context row per token (end-of-sequence included), each row
	// the concatenation of both encoder directions
	first := encOut.SourceContext(0).Value().(mat.Matrix)
	assert.Equal(t, []int{3, 6}, first.Shape())
	second := encOut.SourceContext(1).Value().(mat.Matrix)
	assert.Equal(t, []int{5, 6}, second.Shape())
}

func TestEncodeDeterministic(t *testing.T) {
	enc := New(newTestModel())

	a, err := enc.Encode(context.Background(), testSentences())
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), testSentences())
	require.NoError(t, err)

	assert.Equal(t,
		a.SourceContext(1).Value().(mat.Matrix).Data().F32(),
		b.SourceContext(1).Value().(mat.Matrix).Data().F32(),
		"encoding the same sentences must produce bit-identical contexts")
}

func TestEncodeOutOfVocabularyTokens(t *testing.T) {
	enc := New(newTestModel())
	sentences := Sentences{
		NewSentence(0, []string{"x"}, []int{999}, 0),
		NewSentence(1, []string{"x"}, []int{1}, 0),
	}

	encOut, err := enc.Encode(context.Background(), sentences)
	require.NoError(t, err, "out-of-vocabulary ids must not fail the encode")
	assert.Equal(t,
		encOut.SourceContext(1).Value().(mat.Matrix).Data().F32(),
		encOut.SourceContext(0).Value().(mat.Matrix).Data().F32(),
		"out-of-vocabulary tokens encode as the unknown token")
}

func TestEncodeCancelledContext(t *testing.T) {
	enc := New(newTestModel())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := enc.Encode(ctx, testSentences())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEncOutLengthMismatch(t *testing.T) {
	_, err := NewEncOut(testSentences(), []mat.Tensor{mat.NewDense[float32](mat.WithShape(3, 6))})
	assert.Error(t, err)
}
