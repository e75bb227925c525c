// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vocab loads amun-compatible YAML vocabularies and resolves
// tokens to ids and back.
package vocab

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Token ids reserved by convention in amun/Nematus vocabularies.
const (
	EosID = 0
	UnkID = 1

	EosToken = "</s>"
	UnkToken = "UNK"
)

// Vocabulary is an immutable token <-> id mapping.
type Vocabulary struct {
	wordToID map[string]int
	idToWord []string
}

// Load reads a YAML vocabulary file mapping each token to its id.
func Load(filename string) (*Vocabulary, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file %q: %w", filename, err)
	}

	wordToID := make(map[string]int)
	if err := yaml.Unmarshal(data, &wordToID); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary file %q: %w", filename, err)
	}
	return FromMap(wordToID), nil
}

// FromMap builds a Vocabulary from an explicit token-to-id mapping.
func FromMap(wordToID map[string]int) *Vocabulary {
	maxID := 0
	for _, id := range wordToID {
		if id > maxID {
			maxID = id
		}
	}
	idToWord := make([]string, maxID+1)
	for w, id := range wordToID {
		if id >= 0 {
			idToWord[id] = w
		}
	}
	return &Vocabulary{
		wordToID: wordToID,
		idToWord: idToWord,
	}
}

// Size returns the number of token ids the vocabulary spans.
func (v *Vocabulary) Size() int {
	return len(v.idToWord)
}

// ID resolves a token to its id, falling back to UnkID for tokens
// outside the vocabulary.
func (v *Vocabulary) ID(word string) int {
	if id, ok := v.wordToID[word]; ok {
		return id
	}
	return UnkID
}

// Word resolves an id back to its token, falling back to UnkToken for
// ids outside the vocabulary.
func (v *Vocabulary) Word(id int) string {
	if id < 0 || id >= len(v.idToWord) {
		return UnkToken
	}
	if w := v.idToWord[id]; w != "" {
		return w
	}
	return UnkToken
}

// TokenizeLine splits a whitespace-tokenized line into token ids.
// No end-of-sequence marker is appended.
func (v *Vocabulary) TokenizeLine(line string) ([]string, []int) {
	words := strings.Fields(line)
	ids := make([]int, len(words))
	for i, w := range words {
		ids[i] = v.ID(w)
	}
	return words, ids
}

// Detokenize joins the tokens of the given ids, dropping any trailing
// end-of-sequence marker.
func (v *Vocabulary) Detokenize(ids []int) string {
	words := make([]string, 0, len(ids))
	for i, id := range ids {
		if id == EosID && i == len(ids)-1 {
			break
		}
		words = append(words, v.Word(id))
	}
	return strings.Join(words, " ")
}
