// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package encoder

// Sentence is one tokenized source sentence. LineNum is its stable
// position in the original input request, independent of any internal
// batch reordering.
type Sentence struct {
	LineNum int
	Words   []string
	IDs     []int
}

// NewSentence builds a Sentence, appending the end-of-sequence id to
// the token ids.
func NewSentence(lineNum int, words []string, ids []int, eosID int) *Sentence {
	withEos := make([]int, 0, len(ids)+1)
	withEos = append(withEos, ids...)
	withEos = append(withEos, eosID)
	return &Sentence{
		LineNum: lineNum,
		Words:   words,
		IDs:     withEos,
	}
}

// Size returns the token count, end-of-sequence marker included.
func (s *Sentence) Size() int {
	return len(s.IDs)
}

// Sentences is an ordered collection of source sentences.
type Sentences []*Sentence

func (s Sentences) Len() int {
	return len(s)
}

func (s Sentences) Get(i int) *Sentence {
	return s[i]
}

// MaxLength returns the longest sentence length in the collection.
func (s Sentences) MaxLength() int {
	max := 0
	for _, sentence := range s {
		if sentence.Size() > max {
			max = sentence.Size()
		}
	}
	return max
}
