// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beam

import (
	"testing"

	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/tradukilo/encoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEncOut(t *testing.T, wordCounts ...int) *encoder.EncOut {
	t.Helper()
	sentences := make(encoder.Sentences, len(wordCounts))
	contexts := make([]mat.Tensor, len(wordCounts))
	for i, n := range wordCounts {
		words := make([]string, n)
		ids := make([]int, n)
		for j := range words {
			words[j] = "w"
			ids[j] = j + 2
		}
		sentences[i] = encoder.NewSentence(i, words, ids, 0)
		contexts[i] = mat.NewDense[float32](mat.WithShape(n+1, 4))
	}
	encOut, err := encoder.NewEncOut(sentences, contexts)
	require.NoError(t, err)
	return encOut
}

func TestBeamSizeInit(t *testing.T) {
	bs := New()
	bs.Init(3, makeEncOut(t, 4, 7))

	assert.Equal(t, 2, bs.Len())
	assert.Equal(t, 6, bs.GetTotal())
	assert.Equal(t, 8, bs.GetMaxLength()) // 7 words plus end-of-sequence

	el, err := bs.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 3, el.Size)
	assert.Equal(t, 0, el.Sentence().LineNum)

	el, err = bs.GetByLineNum(1)
	require.NoError(t, err)
	assert.Equal(t, 1, el.SentenceIndex)
}

func TestBeamSizeInitReusesObject(t *testing.T) {
	bs := New()
	bs.Init(3, makeEncOut(t, 4, 7))
	require.NoError(t, bs.Decr(0))

	bs.Init(2, makeEncOut(t, 5))
	assert.Equal(t, 1, bs.Len())
	assert.Equal(t, 2, bs.GetTotal())
	assert.Equal(t, 6, bs.GetMaxLength())
}

func TestBeamSizeDecr(t *testing.T) {
	bs := New()
	bs.Init(3, makeEncOut(t, 4, 7))

	require.NoError(t, bs.Decr(0))
	require.NoError(t, bs.DecrByLineNum(0))
	assert.Equal(t, 4, bs.GetTotal())

	el, err := bs.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 1, el.Size)

	el, err = bs.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 3, el.Size)
}

func TestBeamSizeDecrUnderflow(t *testing.T) {
	bs := New()
	bs.Init(1, makeEncOut(t, 4))

	require.NoError(t, bs.Decr(0))
	err := bs.Decr(0)
	assert.ErrorIs(t, err, ErrUnderflow)
	assert.Equal(t, 0, bs.GetTotal())
}

func TestBeamSizeGetOutOfRange(t *testing.T) {
	bs := New()
	bs.Init(3, makeEncOut(t, 4))

	_, err := bs.Get(1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = bs.Get(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = bs.GetByLineNum(42)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestBeamSizeGetOnly(t *testing.T) {
	bs := New()
	bs.Init(3, makeEncOut(t, 4))

	el, err := bs.GetOnly()
	require.NoError(t, err)
	assert.Equal(t, 0, el.SentenceIndex)

	bs.Init(3, makeEncOut(t, 4, 7))
	_, err = bs.GetOnly()
	assert.ErrorIs(t, err, ErrNotSingle)
}

func TestBeamSizeDeleteEmpty(t *testing.T) {
	bs := New()
	bs.Init(2, makeEncOut(t, 3, 4, 5))

	// exhaust the middle sentence
	require.NoError(t, bs.DecrByLineNum(1))
	require.NoError(t, bs.DecrByLineNum(1))
	bs.DeleteEmpty()

	assert.Equal(t, 2, bs.Len())
	assert.Equal(t, 4, bs.GetTotal())

	// survivors keep their order, indices compact
	first, err := bs.GetSentence(0)
	require.NoError(t, err)
	assert.Equal(t, 0, first.LineNum)
	second, err := bs.GetSentence(1)
	require.NoError(t, err)
	assert.Equal(t, 2, second.LineNum)

	// line-number addressing still resolves the survivors
	el, err := bs.GetByLineNum(2)
	require.NoError(t, err)
	assert.Equal(t, 2, el.Size)
	_, err = bs.GetByLineNum(1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestBeamSizeDeleteEmptyNoOp(t *testing.T) {
	bs := New()
	bs.Init(2, makeEncOut(t, 3, 4))
	bs.DeleteEmpty()
	assert.Equal(t, 2, bs.Len())
	assert.Equal(t, 4, bs.GetTotal())
}

func TestBeamSizeTwoSentencesFinishingAtDifferentTimes(t *testing.T) {
	bs := New()
	bs.Init(3, makeEncOut(t, 4, 7))

	// first sentence finishes two hypotheses, second finishes one
	require.NoError(t, bs.DecrByLineNum(0))
	require.NoError(t, bs.DecrByLineNum(0))
	require.NoError(t, bs.DecrByLineNum(1))
	assert.Equal(t, 3, bs.GetTotal())
	bs.DeleteEmpty()
	assert.Equal(t, 2, bs.Len())

	// first sentence finishes its last hypothesis
	require.NoError(t, bs.DecrByLineNum(0))
	bs.DeleteEmpty()
	assert.Equal(t, 1, bs.Len())
	assert.Equal(t, 2, bs.GetTotal())

	only, err := bs.GetOnly()
	require.NoError(t, err)
	assert.Equal(t, 1, only.Sentence().LineNum)
}

func TestBeamSizeString(t *testing.T) {
	bs := New()
	bs.Init(2, makeEncOut(t, 3, 4))
	require.NoError(t, bs.Decr(1))
	assert.Equal(t, "total=3 maxLength=5 sizes=[0:2 1:1]", bs.String())
}
