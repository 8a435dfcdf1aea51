package frontend

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// relPosAttention is Transformer-XL style multi-head self-attention with
// relative positional encoding, as used by the Conformer encoder. Position
// information enters through a projected sinusoidal encoding and two learned
// per-head bias vectors rather than through absolute position embeddings.
type relPosAttention struct {
	norm *nn.LayerNorm

	query *nn.Linear
	key   *nn.Linear
	value *nn.Linear
	out   *nn.Linear
	pos   *nn.Linear

	posBiasU *tensor.Tensor // [heads, headDim]
	posBiasV *tensor.Tensor // [heads, headDim]

	heads   int64
	headDim int64
}

func loadRelPosAttention(vb *nn.VarBuilder, dim, heads int64) (*relPosAttention, error) {
	if dim%heads != 0 {
		return nil, fmt.Errorf("frontend: attention dim %d not divisible by %d heads", dim, heads)
	}

	norm, err := nn.LoadLayerNorm(vb, "norm", layerNormEps)
	if err != nil {
		return nil, err
	}

	query, err := nn.LoadLinear(vb, "q")
	if err != nil {
		return nil, err
	}

	key, err := nn.LoadLinear(vb, "k")
	if err != nil {
		return nil, err
	}

	value, err := nn.LoadLinear(vb, "v")
	if err != nil {
		return nil, err
	}

	out, err := nn.LoadLinear(vb, "out")
	if err != nil {
		return nil, err
	}

	pos, err := nn.LoadLinear(vb, "pos")
	if err != nil {
		return nil, err
	}

	headDim := dim / heads

	posBiasU, err := vb.Tensor("pos_bias_u", heads, headDim)
	if err != nil {
		return nil, err
	}

	posBiasV, err := vb.Tensor("pos_bias_v", heads, headDim)
	if err != nil {
		return nil, err
	}

	return &relPosAttention{
		norm:     norm,
		query:    query,
		key:      key,
		value:    value,
		out:      out,
		pos:      pos,
		posBiasU: posBiasU,
		posBiasV: posBiasV,
		heads:    heads,
		headDim:  headDim,
	}, nil
}

// Forward runs pre-norm self-attention over x [T, dim] and returns [T, dim]
// (residual not included).
func (a *relPosAttention) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if a == nil {
		return nil, errors.New("frontend: attention is not initialized")
	}

	shape := x.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("frontend: attention expects [T, dim] input, got %v", shape)
	}

	seqLen := shape[0]

	normed, err := a.norm.Forward(x)
	if err != nil {
		return nil, err
	}

	q, err := a.projectHeads(a.query, normed, seqLen)
	if err != nil {
		return nil, fmt.Errorf("frontend: attention query: %w", err)
	}

	k, err := a.projectHeads(a.key, normed, seqLen)
	if err != nil {
		return nil, fmt.Errorf("frontend: attention key: %w", err)
	}

	v, err := a.projectHeads(a.value, normed, seqLen)
	if err != nil {
		return nil, fmt.Errorf("frontend: attention value: %w", err)
	}

	pe, err := relPositionalEncoding(seqLen, a.heads*a.headDim)
	if err != nil {
		return nil, err
	}

	p, err := a.projectHeads(a.pos, pe, 2*seqLen-1)
	if err != nil {
		return nil, fmt.Errorf("frontend: attention position projection: %w", err)
	}

	biasU, err := a.posBiasU.Reshape([]int64{a.heads, 1, a.headDim})
	if err != nil {
		return nil, err
	}

	biasV, err := a.posBiasV.Reshape([]int64{a.heads, 1, a.headDim})
	if err != nil {
		return nil, err
	}

	qU, err := tensor.BroadcastAdd(q, biasU)
	if err != nil {
		return nil, err
	}

	qV, err := tensor.BroadcastAdd(q, biasV)
	if err != nil {
		return nil, err
	}

	pT, err := p.Transpose(-1, -2)
	if err != nil {
		return nil, err
	}

	// Position term: (q + v) p^T over 2T-1 relative offsets, then shifted to
	// align offset i-j with cell (i, j).
	matrixBDWide, err := tensor.MatMul(qV, pT)
	if err != nil {
		return nil, err
	}

	matrixBD, err := relShift(matrixBDWide, seqLen)
	if err != nil {
		return nil, err
	}

	// The content term (q + u) k^T plus the position bias, scaled and
	// softmaxed against v.
	ctx, err := ops.AttentionWithScores(qU, k, v, matrixBD)
	if err != nil {
		return nil, fmt.Errorf("frontend: attention scores: %w", err)
	}

	merged, err := a.mergeHeads(ctx, seqLen)
	if err != nil {
		return nil, err
	}

	return a.out.Forward(merged)
}

// projectHeads applies a linear over [T, dim] and splits the result into
// [heads, T, headDim].
func (a *relPosAttention) projectHeads(l *nn.Linear, x *tensor.Tensor, seqLen int64) (*tensor.Tensor, error) {
	y, err := l.Forward(x)
	if err != nil {
		return nil, err
	}

	split, err := y.Reshape([]int64{seqLen, a.heads, a.headDim})
	if err != nil {
		return nil, err
	}

	return split.Transpose(0, 1)
}

func (a *relPosAttention) mergeHeads(x *tensor.Tensor, seqLen int64) (*tensor.Tensor, error) {
	joined, err := x.Transpose(0, 1)
	if err != nil {
		return nil, err
	}

	return joined.Reshape([]int64{seqLen, a.heads * a.headDim})
}

// relShift maps the wide position-score matrix [heads, T, 2T-1], whose last
// axis is ordered by relative offset T-1 .. -(T-1), onto [heads, T, T] so
// that cell (i, j) holds the score for offset i-j.
func relShift(wide *tensor.Tensor, seqLen int64) (*tensor.Tensor, error) {
	shape := wide.Shape()
	if len(shape) != 3 || shape[1] != seqLen || shape[2] != 2*seqLen-1 {
		return nil, fmt.Errorf("frontend: rel-shift input shape %v, want [heads %d %d]", shape, seqLen, 2*seqLen-1)
	}

	heads := shape[0]

	out, err := tensor.Zeros([]int64{heads, seqLen, seqLen})
	if err != nil {
		return nil, err
	}

	src := wide.RawData()
	dst := out.RawData()
	wideLen := 2*seqLen - 1

	for h := range heads {
		for i := range seqLen {
			srcRow := (h*seqLen + i) * wideLen
			dstRow := (h*seqLen + i) * seqLen

			for j := range seqLen {
				dst[dstRow+j] = src[srcRow+seqLen-1-i+j]
			}
		}
	}

	return out, nil
}

// relPositionalEncoding builds the sinusoidal encoding for relative offsets
// T-1 .. -(T-1): [2T-1, dim].
func relPositionalEncoding(seqLen, dim int64) (*tensor.Tensor, error) {
	if seqLen <= 0 || dim <= 0 || dim%2 != 0 {
		return nil, fmt.Errorf("frontend: positional encoding requires T > 0 and even dim, got T=%d dim=%d", seqLen, dim)
	}

	rows := 2*seqLen - 1
	data := make([]float32, rows*dim)

	for r := range rows {
		offset := float64(seqLen - 1 - r)
		for i := int64(0); i < dim; i += 2 {
			freq := math.Pow(10000, -float64(i)/float64(dim))
			data[r*dim+i] = float32(math.Sin(offset * freq))
			data[r*dim+i+1] = float32(math.Cos(offset * freq))
		}
	}

	return tensor.New(data, []int64{rows, dim})
}
