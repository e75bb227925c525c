// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"context"
	"testing"

	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/tradukilo/encoder"
	"github.com/nlpodyssey/tradukilo/nmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eosID = 0

func makeSearchEncOut(t *testing.T, wordCounts ...int) *encoder.EncOut {
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
		sentences[i] = encoder.NewSentence(i, words, ids, eosID)
		contexts[i] = testSourceContext(n + 1)
	}
	encOut, err := encoder.NewEncOut(sentences, contexts)
	require.NoError(t, err)
	return encOut
}

// biasOutput makes the vocabulary distribution favor the given token
// ids, independently of the recurrent state.
func biasOutput(model *nmt.Model, ids ...int) {
	backing := make([]float32, testVocab)
	for _, id := range ids {
		backing[id] = 10
	}
	model.DecOutput.B4.ReplaceValue(mat.NewDense[float32](mat.WithShape(1, testVocab), mat.WithBacking(backing)))
}

func TestSearchFinishesOnEos(t *testing.T) {
	model := newTestModel()
	biasOutput(model, eosID)

	search := NewSearch(New(model), eosID, SearchOptions{BeamSize: 2})
	results, err := search.Run(context.Background(), makeSearchEncOut(t, 2, 4))
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, sentenceResults := range results {
		require.Len(t, sentenceResults, 1)
		best := sentenceResults[0]
		assert.Equal(t, i, best.LineNum)
		assert.Empty(t, best.TokenIDs, "the dominant end-of-sequence token should finish the beam immediately")
		assert.Less(t, best.Score, 0.01)
		assert.Len(t, best.Attention, 1, "the end-of-sequence step still carries its alignment")
	}
}

func TestSearchNBest(t *testing.T) {
	model := newTestModel()
	biasOutput(model, eosID)

	search := NewSearch(New(model), eosID, SearchOptions{BeamSize: 2, NBest: 2})
	results, err := search.Run(context.Background(), makeSearchEncOut(t, 3))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 2)

	assert.LessOrEqual(t, results[0][0].Score, results[0][1].Score, "results must be sorted best-first")
	assert.Empty(t, results[0][0].TokenIDs)
	assert.Len(t, results[0][1].TokenIDs, 1, "the runner-up finishes one step later")
}

func TestSearchStopsAtMaxSteps(t *testing.T) {
	model := newTestModel()
	biasOutput(model, 2, 3) // end-of-sequence never reaches the beam

	search := NewSearch(New(model), eosID, SearchOptions{BeamSize: 2, MaxLengthFactor: 3})
	results, err := search.Run(context.Background(), makeSearchEncOut(t, 2))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0])

	// 2 words plus end-of-sequence, times the length factor
	best := results[0][0]
	assert.Len(t, best.TokenIDs, 9)
	for _, id := range best.TokenIDs {
		assert.Contains(t, []int{2, 3}, id)
	}

	require.Len(t, best.Attention, 9, "one alignment row per generated token")
	for _, row := range best.Attention {
		require.Len(t, row, 3, "one alignment weight per source position")
		var sum float32
		for _, w := range row {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestSearchShortlist(t *testing.T) {
	model := newTestModel()
	biasOutput(model, 2, 5) // 5 is outside the shortlist

	d := New(model)
	search := NewSearch(d, eosID, SearchOptions{BeamSize: 1, MaxLengthFactor: 1, Shortlist: []int{2, 3}})
	results, err := search.Run(context.Background(), makeSearchEncOut(t, 2))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0])

	for _, id := range results[0][0].TokenIDs {
		assert.Equal(t, 2, id, "only shortlisted tokens may be generated")
	}

	// the filter must be cleared once the search is over
	sourceContext := testSourceContext(3)
	_, probs := d.MakeStep(d.EmptyState(sourceContext, 1), d.EmptyEmbedding(1), sourceContext)
	assert.Equal(t, testVocab, probs.Value().(mat.Matrix).Shape()[1])
}

func TestSearchShortlistOnlyEos(t *testing.T) {
	// A one-token candidate pool is narrower than the beam: every live
	// hypothesis must still be retired, not left dangling in the slot.
	search := NewSearch(New(newTestModel()), eosID, SearchOptions{BeamSize: 2, Shortlist: []int{eosID}})
	results, err := search.Run(context.Background(), makeSearchEncOut(t, 2))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0])
	assert.Empty(t, results[0][0].TokenIDs)
}

func TestSearchEmptyNonNilShortlist(t *testing.T) {
	// An empty shortlist still gets the end-of-sequence token added,
	// so decoding degenerates to immediate completion per sentence.
	search := NewSearch(New(newTestModel()), eosID, SearchOptions{BeamSize: 3, Shortlist: []int{}})
	results, err := search.Run(context.Background(), makeSearchEncOut(t, 2, 4))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, sentenceResults := range results {
		require.NotEmpty(t, sentenceResults)
		assert.Equal(t, i, sentenceResults[0].LineNum)
		assert.Empty(t, sentenceResults[0].TokenIDs)
	}
}

func TestSearchEmptyBatch(t *testing.T) {
	search := NewSearch(New(newTestModel()), eosID, SearchOptions{})
	results, err := search.Run(context.Background(), makeSearchEncOut(t))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	search := NewSearch(New(newTestModel()), eosID, SearchOptions{})
	_, err := search.Run(ctx, makeSearchEncOut(t, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSumNegLogProbs(t *testing.T) {
	assert.InDelta(t, 0.0, SumNegLogProbs(0, 1, 1), 1e-9)
	assert.Greater(t, SumNegLogProbs(1, 0.5, 2), 1.0, "less likely continuations accumulate a worse score")
}
