// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nmt defines the translation model: the immutable weight
// bundles of the bidirectional GRU encoder and of the attention-based
// GRU decoder, together with their persistence and conversion from a
// pickled PyTorch export.
package nmt

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
	"github.com/nlpodyssey/tradukilo/rnnsearch"
)

const (
	DefaultPyModelFilename = "pytorch_model.pt"
	DefaultOutputFilename  = "tradukilo_model.bin"
)

type Config struct {
	// EmbeddingSize is the width of the source and target embeddings.
	EmbeddingSize int `json:"embedding_size"`
	// HiddenSize is the width of each GRU state. The source context is
	// twice as wide, being the concatenation of both encoder directions.
	HiddenSize int `json:"hidden_size"`
	// AttentionSize is the width of the additive-attention space.
	AttentionSize int `json:"attention_size"`
	// OutputSize is the width of the deep-output layer.
	OutputSize int `json:"output_size"`
	// SourceVocabSize and TargetVocabSize are the vocabulary row counts.
	SourceVocabSize int `json:"source_vocab_size"`
	TargetVocabSize int `json:"target_vocab_size"`
	// UnkTokenID is substituted for out-of-vocabulary ids (default 1).
	UnkTokenID int `json:"unk_token_id"`
	// EosTokenID marks the end of a sequence (default 0).
	EosTokenID int `json:"eos_token_id"`
}

// ContextSize returns the width of one source-context row.
func (c Config) ContextSize() int {
	return 2 * c.HiddenSize
}

func (c Config) withDefaults() Config {
	if c.UnkTokenID == 0 {
		c.UnkTokenID = 1
	}
	if c.OutputSize == 0 {
		c.OutputSize = c.EmbeddingSize
	}
	return c
}

// LoadConfig reads the model hyper-parameters from a JSON file.
func LoadConfig(filePath string) (Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	jsonDecoder := json.NewDecoder(file)
	if err := jsonDecoder.Decode(&config); err != nil {
		return Config{}, err
	}
	return config.withDefaults(), nil
}

// Model bundles every weight of the translation network. All fields
// are read-only after loading and safe to share across concurrent
// decodes.
type Model struct {
	nn.Module
	Config Config

	EncEmbeddings *Embeddings
	EncForward    *rnnsearch.Cell
	EncBackward   *rnnsearch.Cell

	DecEmbeddings *Embeddings
	DecInit       *rnnsearch.StateInit
	DecGRU1       *rnnsearch.Cell
	DecGRU2       *rnnsearch.Cell
	DecAttention  *rnnsearch.Attention
	DecOutput     *rnnsearch.Output
}

func init() {
	gob.Register(&Model{})
}

func New[T float.DType](c Config) *Model {
	c = c.withDefaults()
	ctx := c.ContextSize()
	return &Model{
		Config:        c,
		EncEmbeddings: NewEmbeddings[T](c.SourceVocabSize, c.EmbeddingSize, c.UnkTokenID),
		EncForward:    rnnsearch.NewCell[T](c.EmbeddingSize, c.HiddenSize),
		EncBackward:   rnnsearch.NewCell[T](c.EmbeddingSize, c.HiddenSize),
		DecEmbeddings: NewEmbeddings[T](c.TargetVocabSize, c.EmbeddingSize, c.UnkTokenID),
		DecInit:       rnnsearch.NewStateInit[T](ctx, c.HiddenSize),
		DecGRU1:       rnnsearch.NewCell[T](c.EmbeddingSize, c.HiddenSize),
		DecGRU2:       rnnsearch.NewCell[T](ctx, c.HiddenSize),
		DecAttention:  rnnsearch.NewAttention[T](c.HiddenSize, ctx, c.AttentionSize),
		DecOutput:     rnnsearch.NewOutput[T](c.HiddenSize, c.EmbeddingSize, ctx, c.OutputSize, c.TargetVocabSize),
	}
}

// Load loads a converted model from the given directory.
func Load(dir string) (*Model, error) {
	m, err := loadFromFile(filepath.Join(dir, DefaultOutputFilename))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Dump saves the Model to a file.
// See gobEncode for further details.
func Dump(obj *Model, filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to open model dump file %q for writing: %w", filename, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = fmt.Errorf("failed to close model dump file %q: %w", filename, e)
		}
	}()
	if err = gobEncode(obj, f); err != nil {
		return fmt.Errorf("failed to encode model dump: %w", err)
	}
	return nil
}
