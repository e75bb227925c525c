// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/tradukilo/beam"
	"github.com/nlpodyssey/tradukilo/encoder"
	"github.com/nlpodyssey/tradukilo/sliceutils"
	"github.com/rs/zerolog/log"
)

// ScoreFunc accumulates a hypothesis score from the probability of its
// next token. Lower is better. The default adds the negative log
// probability; alternative policies (e.g. length normalization) plug
// in here.
type ScoreFunc func(prevScore, prob float64, length int) float64

func SumNegLogProbs(prevScore, prob float64, _ int) float64 {
	return prevScore - math.Log(prob)
}

// SearchOptions contains the options for the beam-search decode.
type SearchOptions struct {
	// BeamSize is the number of hypotheses kept alive per sentence.
	BeamSize int
	// MaxLengthFactor bounds the decode: at most
	// MaxLengthFactor * longest-source-length steps are attempted.
	MaxLengthFactor int
	// NBest is the number of results returned per sentence.
	NBest int
	// Shortlist restricts scoring to a candidate vocabulary subset
	// (e.g. from a phrase table). The end-of-sequence token is added if
	// missing. Nil scores the full vocabulary.
	Shortlist []int
	// Score accumulates hypothesis scores (default SumNegLogProbs).
	Score ScoreFunc
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.BeamSize == 0 {
		o.BeamSize = 5
	}
	if o.MaxLengthFactor == 0 {
		o.MaxLengthFactor = 3
	}
	if o.NBest == 0 {
		o.NBest = 1
	}
	if o.Score == nil {
		o.Score = SumNegLogProbs
	}
	return o
}

// Result is one finished translation hypothesis.
type Result struct {
	// LineNum identifies the source sentence in the original request.
	LineNum int
	// TokenIDs is the generated sequence, end-of-sequence excluded.
	TokenIDs []int
	// Score is the accumulated score, lower is better.
	Score float64
	// Attention holds one row of alignment weights per decode step
	// (end-of-sequence step included), one column per source position.
	Attention [][]float32
}

// Search runs batched beam-search decoding over one encoded batch.
type Search struct {
	decoder *Decoder
	opts    SearchOptions
	eosID   int
}

func NewSearch(decoder *Decoder, eosID int, opts SearchOptions) *Search {
	return &Search{
		decoder: decoder,
		opts:    opts.withDefaults(),
		eosID:   eosID,
	}
}

// hypothesis is one live partial sequence within a sentence's beam.
type hypothesis struct {
	tokenIDs  []int
	score     float64
	attention [][]float32
}

// sentenceState is the mutable decode state of one sentence's beam,
// kept aligned with its beam.Element: row i of state and embeddings
// belongs to hypotheses[i].
type sentenceState struct {
	state      mat.Tensor
	embeddings mat.Tensor
	hypotheses []*hypothesis
	finished   []Result
}

// Run decodes every sentence of encOut and returns, in the sentences'
// original order, up to NBest results each sorted best-first.
func (s *Search) Run(ctx context.Context, encOut *encoder.EncOut) (results [][]Result, err error) {
	sentences := encOut.Sentences()
	if sentences.Len() == 0 {
		return nil, nil
	}

	shortlist, err := s.applyShortlist()
	if err != nil {
		return nil, err
	}
	if shortlist != nil {
		defer func() {
			if e := s.decoder.Filter(nil); e != nil && err == nil {
				err = e
			}
		}()
	}

	bs := beam.New()
	bs.Init(s.opts.BeamSize, encOut)
	maxSteps := bs.GetMaxLength() * s.opts.MaxLengthFactor
	log.Trace().Msgf("Decoding %d sentences, beam %d, at most %d steps", sentences.Len(), s.opts.BeamSize, maxSteps)

	states := make(map[int]*sentenceState, sentences.Len())
	for i, sentence := range sentences {
		el, err := bs.Get(i)
		if err != nil {
			return nil, err
		}
		states[sentence.LineNum] = &sentenceState{
			state:      s.decoder.EmptyState(encOut.SourceContext(i), el.Size),
			embeddings: s.decoder.EmptyEmbedding(el.Size),
			hypotheses: make([]*hypothesis, el.Size),
		}
	}
	for _, st := range states {
		for i := range st.hypotheses {
			st.hypotheses[i] = &hypothesis{}
		}
	}

	for step := 0; step < maxSteps && bs.GetTotal() > 0; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.step(step, bs, states, shortlist); err != nil {
			return nil, err
		}
		bs.DeleteEmpty()
	}

	return s.collectResults(sentences, states), err
}

// step advances every live sentence's beam by one token.
func (s *Search) step(step int, bs *beam.BeamSize, states map[int]*sentenceState, shortlist []int) error {
	for i := 0; i < bs.Len(); i++ {
		el, err := bs.Get(i)
		if err != nil {
			return err
		}
		if el.Size == 0 {
			continue
		}
		lineNum := el.Sentence().LineNum
		st := states[lineNum]

		nextState, probs := s.decoder.MakeStep(st.state, st.embeddings, el.EncOut.SourceContext(el.SentenceIndex))
		alignments := attentionRows(s.decoder.Attention())

		candidates := s.expand(step, st, probs, el.Size)

		var keptRows []int
		var keptTokens []int
		var keptHyps []*hypothesis
		for _, cand := range candidates {
			tokenID := cand.tokenID
			if shortlist != nil {
				tokenID = shortlist[cand.tokenID]
			}
			parent := st.hypotheses[cand.row]
			tokenIDs := append(append([]int{}, parent.tokenIDs...), tokenID)
			attention := append(append([][]float32{}, parent.attention...), alignments[cand.row])

			if tokenID == s.eosID {
				st.finished = append(st.finished, Result{
					LineNum:   lineNum,
					TokenIDs:  tokenIDs[:len(tokenIDs)-1],
					Score:     cand.score,
					Attention: attention,
				})
				if err := bs.DecrByLineNum(lineNum); err != nil {
					return err
				}
				continue
			}
			keptRows = append(keptRows, cand.row)
			keptTokens = append(keptTokens, tokenID)
			keptHyps = append(keptHyps, &hypothesis{tokenIDs: tokenIDs, score: cand.score, attention: attention})
		}

		st.hypotheses = keptHyps
		// A candidate pool narrower than the beam (e.g. a one-token
		// shortlist) leaves fewer live hypotheses than the slot
		// records; retire the shortfall so the live total stays equal
		// to the rows the next step decodes.
		for el.Size > len(keptHyps) {
			if err := bs.DecrByLineNum(lineNum); err != nil {
				return err
			}
		}
		if len(keptHyps) == 0 {
			continue
		}
		st.state = selectRows(nextState, keptRows)
		embeddings, err := s.decoder.Lookup(keptTokens)
		if err != nil {
			return err
		}
		st.embeddings = embeddings
	}
	return nil
}

type candidate struct {
	row     int
	tokenID int
	score   float64
}

// expand scores every continuation of the live hypotheses and keeps
// the best k. On the first step all rows carry the same empty
// hypothesis, so only one row is expanded to avoid duplicate beams.
func (s *Search) expand(step int, st *sentenceState, probs mat.Tensor, k int) []candidate {
	rows := len(st.hypotheses)
	if step == 0 && rows > 1 {
		rows = 1
	}
	if rows == 0 || k == 0 {
		return nil
	}

	m := probs.Value().(mat.Matrix)
	width := m.Shape()[1]
	data := m.Data().F64()

	// bounded top-k: a max-heap of the k best scores seen so far, its
	// root being the selection threshold
	topK := make(sliceutils.OrderedHeap[float64], 0, k+1)
	worst := sliceutils.ReverseHeap(&topK)
	for r := 0; r < rows; r++ {
		prev := st.hypotheses[r]
		for c := 0; c < width; c++ {
			heap.Push(worst, s.opts.Score(prev.score, data[r*width+c], len(prev.tokenIDs)+1))
			if topK.Len() > k {
				heap.Pop(worst)
			}
		}
	}
	threshold := topK[0]

	candidates := make([]candidate, 0, k)
	for r := 0; r < rows && len(candidates) < cap(candidates); r++ {
		prev := st.hypotheses[r]
		for c := 0; c < width && len(candidates) < cap(candidates); c++ {
			score := s.opts.Score(prev.score, data[r*width+c], len(prev.tokenIDs)+1)
			if score <= threshold {
				candidates = append(candidates, candidate{row: r, tokenID: c, score: score})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	return candidates
}

// applyShortlist installs the candidate-vocabulary filter, making sure
// the end-of-sequence token stays reachable.
func (s *Search) applyShortlist() ([]int, error) {
	if s.opts.Shortlist == nil {
		return nil, nil
	}
	shortlist := s.opts.Shortlist
	hasEos := false
	for _, id := range shortlist {
		if id == s.eosID {
			hasEos = true
			break
		}
	}
	if !hasEos {
		shortlist = append([]int{s.eosID}, shortlist...)
	}
	if err := s.decoder.Filter(shortlist); err != nil {
		return nil, fmt.Errorf("failed to apply vocabulary shortlist: %w", err)
	}
	return shortlist, nil
}

// collectResults gathers per-sentence n-best lists. Sentences whose
// beam was exhausted by the step bound contribute their best live
// hypotheses as-is.
func (s *Search) collectResults(sentences encoder.Sentences, states map[int]*sentenceState) [][]Result {
	results := make([][]Result, sentences.Len())
	for i, sentence := range sentences {
		st := states[sentence.LineNum]
		finished := st.finished
		for _, hyp := range st.hypotheses {
			finished = append(finished, Result{
				LineNum:   sentence.LineNum,
				TokenIDs:  hyp.tokenIDs,
				Score:     hyp.score,
				Attention: hyp.attention,
			})
		}
		sort.SliceStable(finished, func(a, b int) bool { return finished[a].Score < finished[b].Score })
		if len(finished) > s.opts.NBest {
			finished = finished[:s.opts.NBest]
		}
		results[i] = finished
	}
	return results
}

// attentionRows copies the per-hypothesis alignment weights out of the
// last step's attention matrix.
func attentionRows(attention mat.Tensor) [][]float32 {
	m := attention.Value().(mat.Matrix)
	shape := m.Shape()
	data := m.Data().F32()

	rows := make([][]float32, shape[0])
	for r := range rows {
		rows[r] = append([]float32{}, data[r*shape[1]:(r+1)*shape[1]]...)
	}
	return rows
}

// selectRows stacks the given rows of a batched matrix into a new
// dense batch, in order.
func selectRows(x mat.Tensor, rows []int) mat.Tensor {
	cols := x.Value().(mat.Matrix).Shape()[1]
	picked := make([]mat.Tensor, len(rows))
	for i, r := range rows {
		picked[i] = ag.Reshape(ag.RowView(x, r), 1, cols)
	}
	return ag.Stack(picked...)
}
