// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nmt

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"

	"github.com/nlpodyssey/tradukilo/rnnsearch"
)

// The model is encoded in chunks, one sub-layer at a time, so that
// neither side has to keep a second full copy of the weights in memory
// while (de)serializing.

func gobEncode(obj *Model, w io.Writer) error {
	bw := bufio.NewWriter(w)
	encoder := gob.NewEncoder(bw)

	for _, chunk := range getChunksForGobEncoding(obj) {
		if err := encoder.Encode(chunk); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func getChunksForGobEncoding(obj *Model) []any {
	return []any{
		obj.Config,
		obj.EncEmbeddings,
		obj.EncForward,
		obj.EncBackward,
		obj.DecEmbeddings,
		obj.DecInit,
		obj.DecGRU1,
		obj.DecGRU2,
		obj.DecAttention,
		obj.DecOutput,
	}
}

// loadFromFile uses Gob to deserialize the model from a file.
// See gobDecoding for further details.
func loadFromFile(filename string) (_ *Model, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return gobDecoding(f)
}

func gobDecoding(r io.Reader) (*Model, error) {
	obj := &Model{
		EncEmbeddings: &Embeddings{},
		EncForward:    &rnnsearch.Cell{},
		EncBackward:   &rnnsearch.Cell{},
		DecEmbeddings: &Embeddings{},
		DecInit:       &rnnsearch.StateInit{},
		DecGRU1:       &rnnsearch.Cell{},
		DecGRU2:       &rnnsearch.Cell{},
		DecAttention:  &rnnsearch.Attention{},
		DecOutput:     &rnnsearch.Output{},
	}

	br := bufio.NewReader(r)
	decoder := gob.NewDecoder(br)

	targets := []any{
		&obj.Config,
		&obj.EncEmbeddings,
		&obj.EncForward,
		&obj.EncBackward,
		&obj.DecEmbeddings,
		&obj.DecInit,
		&obj.DecGRU1,
		&obj.DecGRU2,
		&obj.DecAttention,
		&obj.DecOutput,
	}
	for _, target := range targets {
		if err := decoder.Decode(target); err != nil {
			return nil, err
		}
	}
	return obj, nil
}
