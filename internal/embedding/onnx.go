//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/budgetrag/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a local BERT-style model with ONNX Runtime. The model must
// take input_ids, attention_mask and token_type_ids and emit a pooled
// "output" of the configured width. It requires CGO and the onnxruntime
// shared library.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	tokenizer Tokenizer
	dims      int
	seqLen    int

	ids, mask, types *ort.Tensor[int64]
	out              *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model at modelPath with a fixed sequence length
// of maxTokens.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx: dimensions must be positive, got %d", dimensions)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	tok := hashTokenizer{}
	blank := tok.Encode("", maxTokens)
	e := &ONNXEmbedder{tokenizer: tok, dims: dimensions, seqLen: len(blank.InputIDs)}

	shape := ort.NewShape(1, int64(e.seqLen))
	var err error
	if e.ids, err = ort.NewTensor(shape, blank.InputIDs); err == nil {
		if e.mask, err = ort.NewTensor(shape, blank.AttentionMask); err == nil {
			if e.types, err = ort.NewTensor(shape, blank.TokenTypeIDs); err == nil {
				e.out, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
			}
		}
	}
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("onnx: allocate tensors: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{e.ids, e.mask, e.types},
		[]ort.ArbitraryTensor{e.out},
		nil)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("onnx: load %s: %w", modelPath, err)
	}
	return e, nil
}

// Embed runs inference for one text. The session's tensors are shared, so
// calls are serialized.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc := e.tokenizer.Encode(text, e.seqLen)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx: embedder is closed")
	}
	copy(e.ids.GetData(), enc.InputIDs)
	copy(e.mask.GetData(), enc.AttentionMask)
	copy(e.types.GetData(), enc.TokenTypeIDs)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	vec := append([]float32(nil), e.out.GetData()...)
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one at a time, checking ctx between texts.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimensions returns the output width.
func (e *ONNXEmbedder) Dimensions() int { return e.dims }

// Close releases the session and its tensors. It is safe to call twice.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.ids, e.mask, e.types} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.out != nil {
		_ = e.out.Destroy()
	}
	e.ids, e.mask, e.types, e.out = nil, nil, nil, nil
	return err
}
