// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package beam tracks, per sentence of a request batch, how many beam
// hypotheses are still alive, keeping the flattened per-hypothesis
// batch dense as hypotheses finish at different times.
package beam

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nlpodyssey/tradukilo/encoder"
)

var (
	// ErrOutOfRange signals a lookup with an index or line number that
	// is not present.
	ErrOutOfRange = errors.New("beam: out of range")
	// ErrUnderflow signals a decrement of a slot that is already empty,
	// i.e. a double-completion bug in the driver.
	ErrUnderflow = errors.New("beam: size underflow")
	// ErrNotSingle signals a GetOnly call while more (or fewer) than one
	// element is alive.
	ErrNotSingle = errors.New("beam: not exactly one element")
)

// Element is one batch-slot's bookkeeping: which encoded batch it
// reads from, which sentence within it, and how many beam hypotheses
// are currently alive for that sentence.
type Element struct {
	EncOut        *encoder.EncOut
	SentenceIndex int
	Size          int
}

// Decr marks one hypothesis of this slot as finished.
func (e *Element) Decr() error {
	if e.Size == 0 {
		return ErrUnderflow
	}
	e.Size--
	return nil
}

// Sentence resolves the source sentence this slot decodes.
func (e *Element) Sentence() *encoder.Sentence {
	return e.EncOut.Sentence(e.SentenceIndex)
}

// BeamSize is the ordered collection of per-sentence elements of one
// request batch, with O(1) live-hypothesis total tracking and lookup
// by stable line number.
type BeamSize struct {
	elements  []*Element
	byLineNum map[int]*Element
	total     int
	maxLength int
}

func New() *BeamSize {
	return &BeamSize{
		byLineNum: make(map[int]*Element),
	}
}

// Init rebuilds the element sequence from the sentences of encOut,
// giving every sentence maxBeamSize live hypotheses. It can be called
// repeatedly; a new batch reuses the object.
func (b *BeamSize) Init(maxBeamSize int, encOut *encoder.EncOut) {
	sentences := encOut.Sentences()

	b.elements = make([]*Element, 0, sentences.Len())
	b.byLineNum = make(map[int]*Element, sentences.Len())
	b.total = 0
	b.maxLength = sentences.MaxLength()

	for i, sentence := range sentences {
		el := &Element{
			EncOut:        encOut,
			SentenceIndex: i,
			Size:          maxBeamSize,
		}
		b.elements = append(b.elements, el)
		b.byLineNum[sentence.LineNum] = el
		b.total += maxBeamSize
	}
}

// Len returns the number of elements, empty slots included until the
// next DeleteEmpty.
func (b *BeamSize) Len() int {
	return len(b.elements)
}

// GetTotal returns the live-hypothesis count over all elements: the
// row count the next decoder step must process.
func (b *BeamSize) GetTotal() int {
	return b.total
}

// GetMaxLength returns the longest source sentence length in the
// batch, used by drivers to bound the number of decode steps.
func (b *BeamSize) GetMaxLength() int {
	return b.maxLength
}

func (b *BeamSize) Get(ind int) (*Element, error) {
	if ind < 0 || ind >= len(b.elements) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrOutOfRange, ind, len(b.elements))
	}
	return b.elements[ind], nil
}

func (b *BeamSize) GetByLineNum(lineNum int) (*Element, error) {
	el, ok := b.byLineNum[lineNum]
	if !ok {
		return nil, fmt.Errorf("%w: line number %d", ErrOutOfRange, lineNum)
	}
	return el, nil
}

// GetOnly returns the single remaining element. It is valid only for
// single-sentence decode paths.
func (b *BeamSize) GetOnly() (*Element, error) {
	if len(b.elements) != 1 {
		return nil, fmt.Errorf("%w: %d elements", ErrNotSingle, len(b.elements))
	}
	return b.elements[0], nil
}

func (b *BeamSize) GetSentence(ind int) (*encoder.Sentence, error) {
	el, err := b.Get(ind)
	if err != nil {
		return nil, err
	}
	return el.Sentence(), nil
}

// Decr marks one hypothesis of the element at batch-slot ind as
// finished, keeping the live total in step.
func (b *BeamSize) Decr(ind int) error {
	el, err := b.Get(ind)
	if err != nil {
		return err
	}
	return b.decrElement(el, ind)
}

// DecrByLineNum is Decr addressed by stable line number.
func (b *BeamSize) DecrByLineNum(lineNum int) error {
	el, err := b.GetByLineNum(lineNum)
	if err != nil {
		return err
	}
	return b.decrElement(el, lineNum)
}

func (b *BeamSize) decrElement(el *Element, ref int) error {
	if err := el.Decr(); err != nil {
		return fmt.Errorf("%w (slot %d)", err, ref)
	}
	b.total--
	return nil
}

// DeleteEmpty removes every element whose size reached zero,
// preserving the relative order of the survivors, and rebuilds the
// line-number map to reference them at their new positions.
func (b *BeamSize) DeleteEmpty() {
	kept := b.elements[:0]
	for _, el := range b.elements {
		if el.Size > 0 {
			kept = append(kept, el)
		}
	}
	for i := len(kept); i < len(b.elements); i++ {
		b.elements[i] = nil
	}
	b.elements = kept

	b.byLineNum = make(map[int]*Element, len(b.elements))
	for _, el := range b.elements {
		b.byLineNum[el.Sentence().LineNum] = el
	}
}

func (b *BeamSize) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "total=%d maxLength=%d sizes=[", b.total, b.maxLength)
	for i, el := range b.elements {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d:%d", el.Sentence().LineNum, el.Size)
	}
	sb.WriteByte(']')
	return sb.String()
}
