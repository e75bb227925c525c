// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nmt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
	"github.com/nlpodyssey/tradukilo/rnnsearch"
	"github.com/rs/zerolog/log"
)

type ConverterConfig struct {
	// The path to the directory where the models will be read from and written to.
	ModelDir string
	// The path to the input model file (default "pytorch_model.pt")
	PyModelFilename string
	// The path to the output model file (default "tradukilo_model.bin")
	GoModelFilename string
	// If true, overwrite the model file if it already exists (default "false")
	OverwriteIfExist bool
}

// ConvertPickledModelToNMT converts a pickled PyTorch export of a
// Nematus/DL4MT-style checkpoint to a native NMT model. It expects a
// configuration file "config.json" in the same directory as the model
// file containing the model configuration.
//
// The checkpoint keeps the reset and update gates of each GRU fused in
// a single matrix (reset first); conversion splits them into the
// per-gate parameters the Cell layer uses.
func ConvertPickledModelToNMT[T float.DType](config ConverterConfig) error {
	if config.PyModelFilename == "" {
		config.PyModelFilename = DefaultPyModelFilename
	}
	if config.GoModelFilename == "" {
		config.GoModelFilename = DefaultOutputFilename
	}

	outputFilename := filepath.Join(config.ModelDir, config.GoModelFilename)

	if !config.OverwriteIfExist && fileExists(outputFilename) {
		log.Debug().Str("model", outputFilename).Msg("Model file already exists, skipping conversion")
		return nil
	}

	configFilename := filepath.Join(config.ModelDir, "config.json")
	modelConfig, err := LoadConfig(configFilename)
	if err != nil {
		return fmt.Errorf("failed to load config file %q: %w", configFilename, err)
	}

	inFilename := filepath.Join(config.ModelDir, config.PyModelFilename)
	conv := newConverter[T](modelConfig, inFilename, outputFilename)
	if err = conv.run(); err != nil {
		return fmt.Errorf("model conversion failed: %w", err)
	}
	return nil
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}

type converter[T float.DType] struct {
	model       *Model
	inFilename  string
	outFilename string
	params      paramsMap
}

func newConverter[T float.DType](conf Config, inFilename, outFilename string) *converter[T] {
	return &converter[T]{
		model:       &Model{Config: conf},
		inFilename:  inFilename,
		outFilename: outFilename,
	}
}

func (c *converter[T]) run() error {
	funcs := []func() error{
		c.loadTorchModelParams,
		c.convEmbeddings,
		c.convEncoder,
		c.convDecoderInit,
		c.convDecoderCells,
		c.convAttention,
		c.convOutput,
		c.dumpModel,
	}
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (c *converter[T]) loadTorchModelParams() error {
	torchModel, err := pytorch.Load(c.inFilename)
	if err != nil {
		return fmt.Errorf("failed to load torch model %q: %w", c.inFilename, err)
	}
	c.params, err = makeParamsMap(torchModel)
	if err != nil {
		return fmt.Errorf("failed to read model params: %w", err)
	}
	return nil
}

func (c *converter[T]) dumpModel() error {
	return Dump(c.model, c.outFilename)
}

func (c *converter[T]) convEmbeddings() (err error) {
	conf := c.model.Config

	c.model.EncEmbeddings, err = c.convEmbeddingTable("Wemb", conf.SourceVocabSize)
	if err != nil {
		return fmt.Errorf("failed to convert source embeddings: %w", err)
	}
	c.model.DecEmbeddings, err = c.convEmbeddingTable("Wemb_dec", conf.TargetVocabSize)
	if err != nil {
		return fmt.Errorf("failed to convert target embeddings: %w", err)
	}
	return nil
}

func (c *converter[T]) convEmbeddingTable(name string, vocabSize int) (*Embeddings, error) {
	t, err := c.params.fetch(name)
	if err != nil {
		return nil, err
	}
	vecs, err := c.tensorToVectors(t)
	if err != nil {
		return nil, err
	}
	if len(vecs) != vocabSize {
		return nil, fmt.Errorf("expected %d embedding vectors, actual %d", vocabSize, len(vecs))
	}
	if dim := c.model.Config.EmbeddingSize; vecs[0].Size() != dim {
		return nil, fmt.Errorf("expected embedding vectors of size %d, actual %d", dim, vecs[0].Size())
	}

	embs := NewEmbeddings[T](vocabSize, c.model.Config.EmbeddingSize, c.model.Config.UnkTokenID)
	for i, vec := range vecs {
		embs.Tokens.Weights[i].ReplaceValue(vec)
	}
	return embs, nil
}

func (c *converter[T]) convEncoder() (err error) {
	conf := c.model.Config

	c.model.EncForward, err = c.convGRU("encoder", conf.EmbeddingSize)
	if err != nil {
		return fmt.Errorf("failed to convert forward encoder: %w", err)
	}
	c.model.EncBackward, err = c.convGRU("encoder_r", conf.EmbeddingSize)
	if err != nil {
		return fmt.Errorf("failed to convert backward encoder: %w", err)
	}
	return nil
}

func (c *converter[T]) convDecoderInit() error {
	conf := c.model.Config

	w, err := c.fetchParamToMatrix("ff_state_W", [2]int{conf.ContextSize(), conf.HiddenSize})
	if err != nil {
		return fmt.Errorf("failed to convert decoder state init: %w", err)
	}
	b, err := c.fetchParamToRow("ff_state_b", conf.HiddenSize)
	if err != nil {
		return fmt.Errorf("failed to convert decoder state init: %w", err)
	}

	c.model.DecInit = &rnnsearch.StateInit{
		W: nn.NewParam(w),
		B: nn.NewParam(b),
	}
	return nil
}

func (c *converter[T]) convDecoderCells() (err error) {
	conf := c.model.Config

	c.model.DecGRU1, err = c.convGRUNamed(conf.EmbeddingSize,
		"decoder_W", "decoder_U", "decoder_b", "decoder_Wx", "decoder_Ux", "decoder_bx")
	if err != nil {
		return fmt.Errorf("failed to convert decoder GRU 1: %w", err)
	}
	c.model.DecGRU2, err = c.convGRUNamed(conf.ContextSize(),
		"decoder_Wc", "decoder_U_nl", "decoder_b_nl", "decoder_Wcx", "decoder_Ux_nl", "decoder_bx_nl")
	if err != nil {
		return fmt.Errorf("failed to convert decoder GRU 2: %w", err)
	}
	return nil
}

func (c *converter[T]) convGRU(prefix string, inSize int) (*rnnsearch.Cell, error) {
	return c.convGRUNamed(inSize,
		prefix+"_W", prefix+"_U", prefix+"_b", prefix+"_Wx", prefix+"_Ux", prefix+"_bx")
}

func (c *converter[T]) convGRUNamed(inSize int, wName, uName, bName, wxName, uxName, bxName string) (*rnnsearch.Cell, error) {
	hidden := c.model.Config.HiddenSize

	wr, wz, err := c.fetchFusedGateMatrix(wName, inSize, hidden)
	if err != nil {
		return nil, err
	}
	ur, uz, err := c.fetchFusedGateMatrix(uName, hidden, hidden)
	if err != nil {
		return nil, err
	}
	br, bz, err := c.fetchFusedGateRow(bName, hidden)
	if err != nil {
		return nil, err
	}
	wh, err := c.fetchParamToMatrix(wxName, [2]int{inSize, hidden})
	if err != nil {
		return nil, err
	}
	uh, err := c.fetchParamToMatrix(uxName, [2]int{hidden, hidden})
	if err != nil {
		return nil, err
	}
	bh, err := c.fetchParamToRow(bxName, hidden)
	if err != nil {
		return nil, err
	}

	return &rnnsearch.Cell{
		WR: nn.NewParam(wr), UR: nn.NewParam(ur), BR: nn.NewParam(br),
		WZ: nn.NewParam(wz), UZ: nn.NewParam(uz), BZ: nn.NewParam(bz),
		WH: nn.NewParam(wh), UH: nn.NewParam(uh), BH: nn.NewParam(bh),
	}, nil
}

func (c *converter[T]) convAttention() error {
	conf := c.model.Config

	w, err := c.fetchParamToMatrix("decoder_W_comb_att", [2]int{conf.HiddenSize, conf.AttentionSize})
	if err != nil {
		return fmt.Errorf("failed to convert attention: %w", err)
	}
	u, err := c.fetchParamToMatrix("decoder_Wc_att", [2]int{conf.ContextSize(), conf.AttentionSize})
	if err != nil {
		return fmt.Errorf("failed to convert attention: %w", err)
	}
	b, err := c.fetchParamToRow("decoder_b_att", conf.AttentionSize)
	if err != nil {
		return fmt.Errorf("failed to convert attention: %w", err)
	}
	v, err := c.fetchParamToMatrix("decoder_U_att", [2]int{conf.AttentionSize, 1})
	if err != nil {
		return fmt.Errorf("failed to convert attention: %w", err)
	}
	// decoder_c_tt is a constant shift on the energies; the softmax is
	// invariant to it, so it is not carried over.

	c.model.DecAttention = &rnnsearch.Attention{
		W: nn.NewParam(w),
		U: nn.NewParam(u),
		B: nn.NewParam(b),
		V: nn.NewParam(v),
	}
	return nil
}

func (c *converter[T]) convOutput() error {
	conf := c.model.Config
	out := conf.OutputSize

	w1, err := c.fetchParamToMatrix("ff_logit_lstm_W", [2]int{conf.HiddenSize, out})
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	b1, err := c.fetchParamToRow("ff_logit_lstm_b", out)
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	w2, err := c.fetchParamToMatrix("ff_logit_prev_W", [2]int{conf.EmbeddingSize, out})
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	b2, err := c.fetchParamToRow("ff_logit_prev_b", out)
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	w3, err := c.fetchParamToMatrix("ff_logit_ctx_W", [2]int{conf.ContextSize(), out})
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	b3, err := c.fetchParamToRow("ff_logit_ctx_b", out)
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	w4, err := c.fetchParamToMatrix("ff_logit_W", [2]int{out, conf.TargetVocabSize})
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}
	b4, err := c.fetchParamToRow("ff_logit_b", conf.TargetVocabSize)
	if err != nil {
		return fmt.Errorf("failed to convert output layer: %w", err)
	}

	c.model.DecOutput = &rnnsearch.Output{
		W1: nn.NewParam(w1), B1: nn.NewParam(b1),
		W2: nn.NewParam(w2), B2: nn.NewParam(b2),
		W3: nn.NewParam(w3), B3: nn.NewParam(b3),
		W4: nn.NewParam(w4), B4: nn.NewParam(b4),
	}
	return nil
}

// fetchFusedGateMatrix fetches a (rows x 2*hidden) fused gate matrix
// and splits it column-wise into the reset and update halves.
func (c *converter[T]) fetchFusedGateMatrix(name string, rows, hidden int) (reset, update mat.Matrix, _ error) {
	t, err := c.params.fetch(name)
	if err != nil {
		return nil, nil, err
	}
	if len(t.Size) != 2 || t.Size[0] != rows || t.Size[1] != 2*hidden {
		return nil, nil, fmt.Errorf("expected fused matrix %q of size %dx%d, actual %v", name, rows, 2*hidden, t.Size)
	}
	data, err := c.tensorData(t)
	if err != nil {
		return nil, nil, err
	}

	resetData := make([]float32, rows*hidden)
	updateData := make([]float32, rows*hidden)
	for i := 0; i < rows; i++ {
		copy(resetData[i*hidden:(i+1)*hidden], data[i*2*hidden:i*2*hidden+hidden])
		copy(updateData[i*hidden:(i+1)*hidden], data[i*2*hidden+hidden:(i+1)*2*hidden])
	}

	reset = mat.NewDense[T](mat.WithShape(rows, hidden), mat.WithBacking(c.castData(resetData)))
	update = mat.NewDense[T](mat.WithShape(rows, hidden), mat.WithBacking(c.castData(updateData)))
	return reset, update, nil
}

// fetchFusedGateRow fetches a fused (2*hidden) bias and splits it into
// two 1 x hidden rows.
func (c *converter[T]) fetchFusedGateRow(name string, hidden int) (reset, update mat.Matrix, _ error) {
	t, err := c.params.fetch(name)
	if err != nil {
		return nil, nil, err
	}
	data, err := c.tensorData(t)
	if err != nil {
		return nil, nil, err
	}
	if len(data) != 2*hidden {
		return nil, nil, fmt.Errorf("expected fused bias %q of size %d, actual %d", name, 2*hidden, len(data))
	}

	reset = mat.NewDense[T](mat.WithShape(1, hidden), mat.WithBacking(c.castData(data[:hidden])))
	update = mat.NewDense[T](mat.WithShape(1, hidden), mat.WithBacking(c.castData(data[hidden:])))
	return reset, update, nil
}

func (c *converter[T]) fetchParamToMatrix(name string, expectedSize [2]int) (mat.Matrix, error) {
	t, err := c.params.fetch(name)
	if err != nil {
		return nil, err
	}
	if len(t.Size) != 2 || t.Size[0] != expectedSize[0] || t.Size[1] != expectedSize[1] {
		return nil, fmt.Errorf("expected matrix %q of size %dx%d, actual %v", name, expectedSize[0], expectedSize[1], t.Size)
	}
	data, err := c.tensorData(t)
	if err != nil {
		return nil, err
	}
	return mat.NewDense[T](mat.WithShape(t.Size[0], t.Size[1]), mat.WithBacking(c.castData(data))), nil
}

// fetchParamToRow fetches a vector parameter as a 1 x n row, the
// orientation in which biases are kept for row-batched broadcasting.
func (c *converter[T]) fetchParamToRow(name string, expectedSize int) (mat.Matrix, error) {
	t, err := c.params.fetch(name)
	if err != nil {
		return nil, err
	}
	data, err := c.tensorData(t)
	if err != nil {
		return nil, err
	}
	if len(data) != expectedSize {
		return nil, fmt.Errorf("expected vector %q of size %d, actual %d", name, expectedSize, len(data))
	}
	return mat.NewDense[T](mat.WithShape(1, expectedSize), mat.WithBacking(c.castData(data))), nil
}

func (c *converter[T]) tensorToVectors(t *pytorch.Tensor) ([]mat.Matrix, error) {
	if len(t.Size) != 2 {
		return nil, fmt.Errorf("expected 2 dimensions, actual %d", len(t.Size))
	}

	data, err := c.tensorData(t)
	if err != nil {
		return nil, err
	}

	rows := t.Size[0]
	cols := t.Size[1]

	vecs := make([]mat.Matrix, rows)
	for i := range vecs {
		d := data[i*cols : (i*cols)+cols]
		vecs[i] = mat.NewDense[T](mat.WithShape(cols), mat.WithBacking(c.castData(d)))
	}
	return vecs, nil
}

func (c *converter[T]) castData(d []float32) []T {
	return float.SliceValueOf[T](float.Make(d...))
}

func (c *converter[T]) tensorData(t *pytorch.Tensor) ([]float32, error) {
	st, ok := t.Source.(*pytorch.FloatStorage)
	if !ok {
		return nil, fmt.Errorf("only FloatStorage is supported, actual %T", t.Source)
	}
	size := tensorDataSize(t)
	return st.Data[t.StorageOffset : t.StorageOffset+size], nil
}

func tensorDataSize(t *pytorch.Tensor) int {
	size := t.Size[0]
	for _, v := range t.Size[1:] {
		size *= v
	}
	return size
}

func cast[T any](v any) (t T, _ error) {
	t, ok := v.(T)
	if !ok {
		return t, fmt.Errorf("type assertion failed: expected %T, actual %T", t, v)
	}
	return
}

type paramsMap map[string]*pytorch.Tensor

func makeParamsMap(torchModel any) (paramsMap, error) {
	od, err := cast[*types.OrderedDict](torchModel)
	if err != nil {
		return nil, err
	}

	params := make(paramsMap, od.Len())

	for k, item := range od.Map {
		name, err := cast[string](k)
		if err != nil {
			return nil, fmt.Errorf("wrong param name type: %w", err)
		}
		tensor, err := cast[*pytorch.Tensor](item.Value)
		if err != nil {
			return nil, fmt.Errorf("wrong value type for param %q: %w", name, err)
		}
		params[name] = tensor
	}
	return params, nil
}

func (p paramsMap) fetch(name string) (*pytorch.Tensor, error) {
	t, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("parameter %q not found", name)
	}
	return t, nil
}
