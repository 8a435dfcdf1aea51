// Package extract wraps the external feature extractors the converter
// depends on: a vq-wav2vec k-means tokenizer for discrete tokens and a
// WavLM encoder for speaker prompt features. Both run as exported ONNX
// graphs; the native tensor runtime only executes the vocoder itself.
package extract

import (
	"context"

	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// TokenExtractor turns 16 kHz mono samples into discrete codebook indices,
// one per hop-size frame.
type TokenExtractor interface {
	Tokens(ctx context.Context, samples []float32) ([]int64, error)
}

// PromptEncoder turns 16 kHz mono samples into a [frames, channels] feature
// sequence describing speaker timbre.
type PromptEncoder interface {
	Features(ctx context.Context, samples []float32) (*tensor.Tensor, error)
}
