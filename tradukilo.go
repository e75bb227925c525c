// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tradukilo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nlpodyssey/tradukilo/decoder"
	"github.com/nlpodyssey/tradukilo/encoder"
	"github.com/nlpodyssey/tradukilo/nmt"
	"github.com/nlpodyssey/tradukilo/vocab"
	"github.com/rs/zerolog/log"
)

const (
	// SourceVocabFilename is the source-language vocabulary file
	// expected inside the model directory.
	SourceVocabFilename = "vocab.src.yml"
	// TargetVocabFilename is the target-language vocabulary file
	// expected inside the model directory.
	TargetVocabFilename = "vocab.trg.yml"
)

// Tradukilo is the core struct of the library: an attention-based
// recurrent translation engine and its two vocabularies.
type Tradukilo struct {
	Model       *nmt.Model
	SourceVocab *vocab.Vocabulary
	TargetVocab *vocab.Vocabulary
}

// Load loads a Tradukilo model and its vocabularies from the given directory.
func Load(modelDir string) (*Tradukilo, error) {
	model, err := nmt.Load(modelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("error: unable to find the model file or directory '%s'. Please ensure that the model has been successfully downloaded and converted before trying again", modelDir)
		}
		return nil, err
	}
	sourceVocab, err := vocab.Load(filepath.Join(modelDir, SourceVocabFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to load source vocabulary: %w", err)
	}
	targetVocab, err := vocab.Load(filepath.Join(modelDir, TargetVocabFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to load target vocabulary: %w", err)
	}
	return &Tradukilo{
		Model:       model,
		SourceVocab: sourceVocab,
		TargetVocab: targetVocab,
	}, nil
}

// Translation is the decoded output for one input line.
type Translation struct {
	// LineNum is the zero-based position of the line in the request.
	LineNum int
	// Text is the detokenized best hypothesis.
	Text string
	// Score is the hypothesis score, lower is better.
	Score float64
}

// Translate translates the given lines, one sentence per line, and
// returns the translations in the original line order.
func (t *Tradukilo) Translate(ctx context.Context, lines []string, opts decoder.SearchOptions) ([]Translation, error) {
	nBest, err := t.TranslateNBest(ctx, lines, opts)
	if err != nil {
		return nil, err
	}
	translations := make([]Translation, len(nBest))
	for i, results := range nBest {
		translations[i] = results[0]
	}
	return translations, nil
}

// TranslateNBest translates the given lines, returning up to
// opts.NBest scored translations per line, best first.
func (t *Tradukilo) TranslateNBest(ctx context.Context, lines []string, opts decoder.SearchOptions) ([][]Translation, error) {
	start := time.Now()

	sentences := make(encoder.Sentences, len(lines))
	for i, line := range lines {
		words, ids := t.SourceVocab.TokenizeLine(line)
		sentences[i] = encoder.NewSentence(i, words, ids, vocab.EosID)
	}

	log.Debug().Msgf("Encoding %d sentences", len(sentences))
	enc := encoder.New(t.Model)
	encOut, err := enc.Encode(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("failed to encode the input: %w", err)
	}

	log.Debug().Msg("Decoding")
	search := decoder.NewSearch(decoder.New(t.Model), vocab.EosID, opts)
	results, err := search.Run(ctx, encOut)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}

	translations := make([][]Translation, len(results))
	for i, sentenceResults := range results {
		if len(sentenceResults) == 0 {
			return nil, fmt.Errorf("no hypothesis produced for line %d", i)
		}
		translations[i] = make([]Translation, len(sentenceResults))
		for j, r := range sentenceResults {
			translations[i][j] = Translation{
				LineNum: r.LineNum,
				Text:    t.TargetVocab.Detokenize(r.TokenIDs),
				Score:   r.Score,
			}
		}
	}

	log.Debug().Msgf("Translated %d lines in %s", len(lines), time.Since(start))
	return translations, nil
}
