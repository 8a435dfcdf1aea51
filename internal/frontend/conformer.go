package frontend

import (
	"errors"
	"fmt"

	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

const layerNormEps = 1e-5

// feedForward is the macaron feed-forward module: norm -> linear -> swish ->
// linear, applied with a half-step residual by the block.
type feedForward struct {
	norm    *nn.LayerNorm
	linear1 *nn.Linear
	linear2 *nn.Linear
}

func loadFeedForward(vb *nn.VarBuilder) (*feedForward, error) {
	norm, err := nn.LoadLayerNorm(vb, "norm", layerNormEps)
	if err != nil {
		return nil, err
	}

	linear1, err := nn.LoadLinear(vb, "linear1")
	if err != nil {
		return nil, err
	}

	linear2, err := nn.LoadLinear(vb, "linear2")
	if err != nil {
		return nil, err
	}

	return &feedForward{norm: norm, linear1: linear1, linear2: linear2}, nil
}

func (ff *feedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := ff.norm.Forward(x)
	if err != nil {
		return nil, err
	}

	h, err = ff.linear1.Forward(h)
	if err != nil {
		return nil, err
	}

	h, err = ops.Swish(h)
	if err != nil {
		return nil, err
	}

	return ff.linear2.Forward(h)
}

// convModule is the Conformer convolution module: norm -> pointwise (2x
// channels) -> GLU -> depthwise -> batchnorm -> swish -> pointwise.
type convModule struct {
	norm       *nn.LayerNorm
	pointwise1 *nn.Conv1d
	depthwise  *nn.Conv1d
	batchNorm  *nn.BatchNorm1d
	pointwise2 *nn.Conv1d
}

func loadConvModule(vb *nn.VarBuilder, dim, kernelSize int64) (*convModule, error) {
	norm, err := nn.LoadLayerNorm(vb, "norm", layerNormEps)
	if err != nil {
		return nil, err
	}

	pointwise1, err := nn.LoadConv1d(vb, "pointwise1", 1, 0, 1, 1)
	if err != nil {
		return nil, err
	}

	depthwise, err := nn.LoadConv1d(vb, "depthwise", 1, (kernelSize-1)/2, 1, dim)
	if err != nil {
		return nil, err
	}

	batchNorm, err := nn.LoadBatchNorm1d(vb, "bn", layerNormEps)
	if err != nil {
		return nil, err
	}

	pointwise2, err := nn.LoadConv1d(vb, "pointwise2", 1, 0, 1, 1)
	if err != nil {
		return nil, err
	}

	return &convModule{
		norm:       norm,
		pointwise1: pointwise1,
		depthwise:  depthwise,
		batchNorm:  batchNorm,
		pointwise2: pointwise2,
	}, nil
}

func (cm *convModule) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("frontend: conv module expects [T, dim] input, got %v", shape)
	}

	seqLen, dim := shape[0], shape[1]

	h, err := cm.norm.Forward(x)
	if err != nil {
		return nil, err
	}

	// The convs run channels-first: [T, dim] -> [1, dim, T].
	h, err = h.Transpose(0, 1)
	if err != nil {
		return nil, err
	}

	h, err = h.Reshape([]int64{1, dim, seqLen})
	if err != nil {
		return nil, err
	}

	h, err = cm.pointwise1.Forward(h)
	if err != nil {
		return nil, err
	}

	h, err = ops.GLU(h)
	if err != nil {
		return nil, err
	}

	h, err = cm.depthwise.Forward(h)
	if err != nil {
		return nil, err
	}

	h, err = cm.batchNorm.Forward(h)
	if err != nil {
		return nil, err
	}

	h, err = ops.Swish(h)
	if err != nil {
		return nil, err
	}

	h, err = cm.pointwise2.Forward(h)
	if err != nil {
		return nil, err
	}

	h, err = h.Reshape([]int64{dim, seqLen})
	if err != nil {
		return nil, err
	}

	return h.Transpose(0, 1)
}

// conformerBlock is the ESPnet macaron variant: half-step feed-forward,
// relative-position self-attention, convolution module, half-step
// feed-forward, final norm. Inference only; no dropout anywhere.
type conformerBlock struct {
	ff1       *feedForward
	selfAttn  *relPosAttention
	conv      *convModule
	ff2       *feedForward
	finalNorm *nn.LayerNorm
}

func loadConformerBlock(vb *nn.VarBuilder, dim, heads, kernelSize int64) (*conformerBlock, error) {
	ff1, err := loadFeedForward(vb.Path("ff1"))
	if err != nil {
		return nil, err
	}

	selfAttn, err := loadRelPosAttention(vb.Path("self_attn"), dim, heads)
	if err != nil {
		return nil, err
	}

	conv, err := loadConvModule(vb.Path("conv"), dim, kernelSize)
	if err != nil {
		return nil, err
	}

	ff2, err := loadFeedForward(vb.Path("ff2"))
	if err != nil {
		return nil, err
	}

	finalNorm, err := nn.LoadLayerNorm(vb, "final_norm", layerNormEps)
	if err != nil {
		return nil, err
	}

	return &conformerBlock{ff1: ff1, selfAttn: selfAttn, conv: conv, ff2: ff2, finalNorm: finalNorm}, nil
}

func (b *conformerBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if b == nil {
		return nil, errors.New("frontend: conformer block is not initialized")
	}

	x, err := addScaled(x, b.ff1.Forward, 0.5)
	if err != nil {
		return nil, fmt.Errorf("frontend: macaron ff1: %w", err)
	}

	x, err = addScaled(x, b.selfAttn.Forward, 1)
	if err != nil {
		return nil, fmt.Errorf("frontend: self-attention: %w", err)
	}

	x, err = addScaled(x, b.conv.Forward, 1)
	if err != nil {
		return nil, fmt.Errorf("frontend: conv module: %w", err)
	}

	x, err = addScaled(x, b.ff2.Forward, 0.5)
	if err != nil {
		return nil, fmt.Errorf("frontend: macaron ff2: %w", err)
	}

	return b.finalNorm.Forward(x)
}

// addScaled computes x + scale*f(x).
func addScaled(x *tensor.Tensor, f func(*tensor.Tensor) (*tensor.Tensor, error), scale float32) (*tensor.Tensor, error) {
	y, err := f(x)
	if err != nil {
		return nil, err
	}

	out := x.Clone()
	outData := out.RawData()

	yData := y.RawData()
	if len(yData) != len(outData) {
		return nil, fmt.Errorf("frontend: residual size mismatch %d vs %d", len(yData), len(outData))
	}

	tensor.Axpy(scale, yData, outData)

	return out, nil
}
