package nn

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

type Linear struct {
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // optional [out]
}

func LoadLinear(vb *VarBuilder, name string) (*Linear, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 2 {
		return nil, fmt.Errorf("nn: linear %q weight must be rank-2, got %v", name, w.Shape())
	}

	b, ok, err := vb.TensorMaybe(name + ".bias")
	if err != nil {
		return nil, err
	}

	if ok && (b.Rank() != 1 || b.Shape()[0] != w.Shape()[0]) {
		return nil, fmt.Errorf("nn: linear %q bias shape %v incompatible with weight %v", name, b.Shape(), w.Shape())
	}

	return &Linear{Weight: w, Bias: b}, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("nn: linear is not initialized")
	}

	return tensor.Linear(x, l.Weight, l.Bias)
}

type LayerNorm struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
	Eps    float32
}

func LoadLayerNorm(vb *VarBuilder, name string, eps float32) (*LayerNorm, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	b, err := vb.Tensor(name + ".bias")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 1 || b.Rank() != 1 || w.Shape()[0] != b.Shape()[0] {
		return nil, fmt.Errorf("nn: layernorm %q invalid shapes weight=%v bias=%v", name, w.Shape(), b.Shape())
	}

	return &LayerNorm{Weight: w, Bias: b, Eps: eps}, nil
}

func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if ln == nil || ln.Weight == nil || ln.Bias == nil {
		return nil, errors.New("nn: layernorm is not initialized")
	}

	return tensor.LayerNorm(x, ln.Weight, ln.Bias, ln.Eps)
}

// Embedding is a lookup table of shape [num_embeddings, dim].
type Embedding struct {
	Weight *tensor.Tensor
}

func LoadEmbedding(vb *VarBuilder, name string) (*Embedding, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 2 {
		return nil, fmt.Errorf("nn: embedding %q weight must be rank-2, got %v", name, w.Shape())
	}

	return &Embedding{Weight: w}, nil
}

// Forward gathers embedding rows; out-of-range ids are errors, not clamps.
func (e *Embedding) Forward(ids []int64) (*tensor.Tensor, error) {
	if e == nil || e.Weight == nil {
		return nil, errors.New("nn: embedding is not initialized")
	}

	if len(ids) == 0 {
		return nil, errors.New("nn: embedding requires at least one id")
	}

	vocab := e.Weight.Shape()[0]
	for i, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("nn: embedding id %d at position %d out of range [0, %d)", id, i, vocab)
		}
	}

	return e.Weight.Gather(0, ids)
}

// Conv1d wraps ops.Conv1D with weights resolved at load time.
// Weight-normalized checkpoints (weight_g/weight_v pairs) are fused once here
// so the forward pass is a plain convolution.
type Conv1d struct {
	Weight   *tensor.Tensor // [out, in/groups, k]
	Bias     *tensor.Tensor
	Stride   int64
	Padding  int64
	Dilation int64
	Groups   int64
}

func LoadConv1d(vb *VarBuilder, name string, stride, padding, dilation, groups int64) (*Conv1d, error) {
	w, err := loadMaybeNormedWeight(vb, name)
	if err != nil {
		return nil, err
	}

	if w.Rank() != 3 {
		return nil, fmt.Errorf("nn: conv1d %q weight must be rank-3, got %v", name, w.Shape())
	}

	b, _, err := vb.TensorMaybe(name + ".bias")
	if err != nil {
		return nil, err
	}

	return &Conv1d{Weight: w, Bias: b, Stride: stride, Padding: padding, Dilation: dilation, Groups: groups}, nil
}

func (c *Conv1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if c == nil || c.Weight == nil {
		return nil, errors.New("nn: conv1d is not initialized")
	}

	return ops.Conv1D(x, c.Weight, c.Bias, c.Stride, c.Padding, c.Dilation, c.Groups)
}

// ConvTranspose1d wraps ops.ConvTranspose1D, pre-packing the kernel at load
// time for the groups=1 fast path.
type ConvTranspose1d struct {
	Weight  *tensor.Tensor // [in, out/groups, k]
	Bias    *tensor.Tensor
	Stride  int64
	Padding int64
	Groups  int64

	packed []float32
}

func LoadConvTranspose1d(vb *VarBuilder, name string, stride, padding, groups int64) (*ConvTranspose1d, error) {
	w, err := loadMaybeNormedWeight(vb, name)
	if err != nil {
		return nil, err
	}

	if w.Rank() != 3 {
		return nil, fmt.Errorf("nn: convtranspose1d %q weight must be rank-3, got %v", name, w.Shape())
	}

	b, _, err := vb.TensorMaybe(name + ".bias")
	if err != nil {
		return nil, err
	}

	ct := &ConvTranspose1d{Weight: w, Bias: b, Stride: stride, Padding: padding, Groups: groups}
	if groups == 1 {
		ct.packed = ops.RepackConvTransposeKernel(w)
	}

	return ct, nil
}

func (c *ConvTranspose1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if c == nil || c.Weight == nil {
		return nil, errors.New("nn: convtranspose1d is not initialized")
	}

	if c.packed != nil {
		return ops.ConvTranspose1DPrePacked(x, c.Weight, c.Bias, c.packed, c.Stride, c.Padding, 0, 1, c.Groups)
	}

	return ops.ConvTranspose1D(x, c.Weight, c.Bias, c.Stride, c.Padding, 0, 1, c.Groups)
}

// BatchNorm1d holds running statistics folded into a per-channel scale and
// shift at load time; inference never sees the raw running buffers.
type BatchNorm1d struct {
	Scale []float32
	Shift []float32
}

func LoadBatchNorm1d(vb *VarBuilder, name string, eps float32) (*BatchNorm1d, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	b, err := vb.Tensor(name + ".bias")
	if err != nil {
		return nil, err
	}

	mean, err := vb.Tensor(name + ".running_mean")
	if err != nil {
		return nil, err
	}

	variance, err := vb.Tensor(name + ".running_var")
	if err != nil {
		return nil, err
	}

	n := w.ElemCount()
	if b.ElemCount() != n || mean.ElemCount() != n || variance.ElemCount() != n {
		return nil, fmt.Errorf("nn: batchnorm %q parameter sizes disagree", name)
	}

	scale := make([]float32, n)
	shift := make([]float32, n)
	wd, bd := w.RawData(), b.RawData()
	md, vd := mean.RawData(), variance.RawData()

	for i := range n {
		inv := float32(1 / math.Sqrt(float64(vd[i])+float64(eps)))
		scale[i] = wd[i] * inv
		shift[i] = bd[i] - md[i]*wd[i]*inv
	}

	return &BatchNorm1d{Scale: scale, Shift: shift}, nil
}

// Forward applies the folded affine per channel. x: [batch, channels, length].
func (bn *BatchNorm1d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if bn == nil || bn.Scale == nil {
		return nil, errors.New("nn: batchnorm is not initialized")
	}

	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("nn: batchnorm expects rank-3 input, got %v", shape)
	}

	channels := int(shape[1])
	if channels != len(bn.Scale) {
		return nil, fmt.Errorf("nn: batchnorm has %d channels, input has %d", len(bn.Scale), channels)
	}

	out := x.Clone()
	data := out.RawData()
	length := int(shape[2])

	for b := range int(shape[0]) {
		for c := range channels {
			row := data[(b*channels+c)*length : (b*channels+c+1)*length]
			for i := range row {
				row[i] = row[i]*bn.Scale[c] + bn.Shift[c]
			}
		}
	}

	return out, nil
}

// loadMaybeNormedWeight loads <name>.weight, or fuses
// <name>.weight_g / <name>.weight_v when the checkpoint kept weight
// normalization: w = g * v / ||v|| with the norm taken over all dims
// except dim 0.
func loadMaybeNormedWeight(vb *VarBuilder, name string) (*tensor.Tensor, error) {
	if vb.Has(name + ".weight") {
		return vb.Tensor(name + ".weight")
	}

	g, err := vb.Tensor(name + ".weight_g")
	if err != nil {
		return nil, fmt.Errorf("nn: %q has neither weight nor weight_g: %w", name, err)
	}

	v, err := vb.Tensor(name + ".weight_v")
	if err != nil {
		return nil, err
	}

	return FuseWeightNorm(g, v)
}

// FuseWeightNorm computes g * v / ||v|| per dim-0 slice. g must hold one
// scalar per dim-0 slice of v (shape [n] or [n,1,...]).
func FuseWeightNorm(g, v *tensor.Tensor) (*tensor.Tensor, error) {
	if g == nil || v == nil {
		return nil, errors.New("nn: weight norm fusion requires non-nil g and v")
	}

	if v.Rank() < 1 {
		return nil, errors.New("nn: weight norm v must have rank >= 1")
	}

	n := int(v.Shape()[0])
	if g.ElemCount() != n {
		return nil, fmt.Errorf("nn: weight norm g has %d elements, want %d (dim 0 of v %v)", g.ElemCount(), n, v.Shape())
	}

	out := v.Clone()
	data := out.RawData()
	gData := g.RawData()
	sliceLen := len(data) / n

	for i := range n {
		slice := data[i*sliceLen : (i+1)*sliceLen]

		var norm float64
		for _, x := range slice {
			norm += float64(x) * float64(x)
		}

		norm = math.Sqrt(norm)
		if norm == 0 {
			return nil, fmt.Errorf("nn: weight norm slice %d has zero norm", i)
		}

		factor := gData[i] / float32(norm)
		for j := range slice {
			slice[j] *= factor
		}
	}

	return out, nil
}
