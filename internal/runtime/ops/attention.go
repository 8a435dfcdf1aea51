package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// Attention computes scaled dot-product attention without masking; the
// encoder attends over the full joined prompt+token sequence.
// q: [..., tq, d], k: [..., tk, d], v: [..., tk, dv] -> [..., tq, dv]
func Attention(q, k, v *tensor.Tensor) (*tensor.Tensor, error) {
	return attentionImpl(q, k, v, nil)
}

// AttentionWithScores is Attention with an additive pre-scale score term
// (the relative position bias). extraScores must broadcast against the
// [..., tq, tk] logits shape.
func AttentionWithScores(q, k, v, extraScores *tensor.Tensor) (*tensor.Tensor, error) {
	if extraScores == nil {
		return nil, errors.New("ops: attention requires a non-nil score bias")
	}

	return attentionImpl(q, k, v, extraScores)
}

func attentionImpl(q, k, v, extraScores *tensor.Tensor) (*tensor.Tensor, error) {
	if q == nil || k == nil || v == nil {
		return nil, errors.New("ops: attention requires non-nil q/k/v")
	}

	qShape := q.Shape()
	kShape := k.Shape()

	vShape := v.Shape()
	if len(qShape) < 2 || len(kShape) < 2 || len(vShape) < 2 {
		return nil, errors.New("ops: attention requires rank >= 2 inputs")
	}

	d := qShape[len(qShape)-1]
	if d != kShape[len(kShape)-1] {
		return nil, fmt.Errorf("ops: attention q/k depth mismatch %d vs %d", d, kShape[len(kShape)-1])
	}

	if kShape[len(kShape)-2] != vShape[len(vShape)-2] {
		return nil, fmt.Errorf("ops: attention key/value sequence mismatch %d vs %d", kShape[len(kShape)-2], vShape[len(vShape)-2])
	}

	kT, err := k.Transpose(-1, -2)
	if err != nil {
		return nil, fmt.Errorf("ops: attention transpose k: %w", err)
	}

	scores, err := tensor.MatMul(q, kT)
	if err != nil {
		return nil, fmt.Errorf("ops: attention q*k^T: %w", err)
	}

	if extraScores != nil {
		scores, err = tensor.BroadcastAdd(scores, extraScores)
		if err != nil {
			return nil, fmt.Errorf("ops: attention score bias: %w", err)
		}
	}

	scale := float32(1.0 / math.Sqrt(float64(d)))

	data := scores.RawData()
	for i := range data {
		data[i] *= scale
	}

	probs, err := tensor.Softmax(scores, -1)
	if err != nil {
		return nil, fmt.Errorf("ops: attention softmax: %w", err)
	}

	out, err := tensor.MatMul(probs, v)
	if err != nil {
		return nil, fmt.Errorf("ops: attention probs*v: %w", err)
	}

	return out, nil
}
