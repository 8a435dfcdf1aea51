package frontend

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/example/vec2wav2/internal/model"
	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/runtime/tensor"
	"github.com/example/vec2wav2/internal/safetensors"
)

// testConfig is a deliberately tiny architecture so forward passes stay fast.
func testConfig(t *testing.T) *model.Config {
	t.Helper()

	cfg, err := model.Parse([]byte(`
sampling_rate: 24000
hop_size: 240
num_mels: 2
frontend_params:
  num_embeddings: 5
  embed_dim: 4
  prompt_channels: 3
  prompt_fold_by_2: true
  attention_dim: 4
  attention_heads: 2
  linear_units: 8
  num_blocks: 1
  kernel_size: 3
generator_params:
  in_channels: 4
  out_channels: 1
  channels: 8
  kernel_size: 7
  upsample_scales: [8, 5, 3, 2]
  upsample_kernel_sizes: [16, 10, 6, 4]
  resblock_kernel_sizes: [3]
  resblock_dilations:
    - [1, 3]
  condition_dim: 4
  use_weight_norm: true
  snake_logscale: true
lambda_frontend_mel_prediction: 60.0
frontend_mel_prediction_stop_steps: 200000
`))
	if err != nil {
		t.Fatalf("model.Parse: %v", err)
	}

	return cfg
}

type checkpointBuilder struct {
	rng     *rand.Rand
	tensors []safetensors.Tensor
}

func (cb *checkpointBuilder) add(name string, shape ...int64) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = (cb.rng.Float32() - 0.5) * 0.2
	}

	cb.tensors = append(cb.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: data})
}

func (cb *checkpointBuilder) addOnes(name string, shape ...int64) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}

	cb.tensors = append(cb.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: data})
}

func (cb *checkpointBuilder) addZeros(name string, shape ...int64) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	cb.tensors = append(cb.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: make([]float32, n)})
}

func (cb *checkpointBuilder) addLinear(name string, out, in int64) {
	cb.add(name+".weight", out, in)
	cb.add(name+".bias", out)
}

func (cb *checkpointBuilder) addNorm(name string, dim int64) {
	cb.addOnes(name+".weight", dim)
	cb.addZeros(name+".bias", dim)
}

// buildFrontendVB writes a random but well-formed frontend checkpoint for
// testConfig and returns a builder rooted at the "frontend" prefix.
func buildFrontendVB(t *testing.T) *nn.VarBuilder {
	t.Helper()

	const (
		dim     = 4
		heads   = 2
		headDim = 2
		units   = 8
		mels    = 2
	)

	cb := &checkpointBuilder{rng: rand.New(rand.NewSource(7))}

	cb.add("frontend.token_embedding.weight", 5, 4)
	cb.addLinear("frontend.input_proj", dim, 4)
	cb.addLinear("frontend.prompt_prenet", dim, 6)

	block := "frontend.encoder.blocks.0"
	for _, ff := range []string{".ff1", ".ff2"} {
		cb.addNorm(block+ff+".norm", dim)
		cb.addLinear(block+ff+".linear1", units, dim)
		cb.addLinear(block+ff+".linear2", dim, units)
	}

	attn := block + ".self_attn"
	cb.addNorm(attn+".norm", dim)

	for _, proj := range []string{".q", ".k", ".v", ".out"} {
		cb.addLinear(attn+proj, dim, dim)
	}

	cb.add(attn+".pos.weight", dim, dim)
	cb.add(attn+".pos_bias_u", heads, headDim)
	cb.add(attn+".pos_bias_v", heads, headDim)

	conv := block + ".conv"
	cb.addNorm(conv+".norm", dim)
	cb.add(conv+".pointwise1.weight", 2*dim, dim, 1)
	cb.add(conv+".pointwise1.bias", 2*dim)
	cb.add(conv+".depthwise.weight", dim, 1, 3)
	cb.add(conv+".depthwise.bias", dim)
	cb.addOnes(conv+".bn.weight", dim)
	cb.addZeros(conv+".bn.bias", dim)
	cb.addZeros(conv+".bn.running_mean", dim)
	cb.addOnes(conv+".bn.running_var", dim)
	cb.add(conv+".pointwise2.weight", dim, dim, 1)
	cb.add(conv+".pointwise2.bias", dim)

	cb.addNorm(block+".final_norm", dim)
	cb.addLinear("frontend.mel_head", mels, dim)

	data, err := safetensors.EncodeTensors(cb.tensors)
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	store, err := safetensors.OpenStoreFromBytes(data)
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}

	return nn.NewVarBuilder(store).Path("frontend")
}

func promptTensor(t *testing.T, frames int64, seed int64) *tensor.Tensor {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))

	data := make([]float32, frames*3)
	for i := range data {
		data[i] = (rng.Float32() - 0.5) * 0.2
	}

	p, err := tensor.New(data, []int64{frames, 3})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return p
}

func TestForwardShapes(t *testing.T) {
	f, err := Load(buildFrontendVB(t), testConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tokens := []int64{0, 1, 2, 3, 4, 1, 2}

	out, err := f.Forward(tokens, promptTensor(t, 6, 1))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	condShape := out.Conditioning.Shape()
	if condShape[0] != int64(len(tokens)) || condShape[1] != 4 {
		t.Fatalf("conditioning shape %v, want [%d 4]", condShape, len(tokens))
	}

	melShape := out.Mel.Shape()
	if melShape[0] != int64(len(tokens)) || melShape[1] != 2 {
		t.Fatalf("mel shape %v, want [%d 2]", melShape, len(tokens))
	}

	for _, v := range out.Conditioning.Data() {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatal("conditioning contains NaN/Inf")
		}
	}
}

func TestForwardDeterministic(t *testing.T) {
	f, err := Load(buildFrontendVB(t), testConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tokens := []int64{3, 1, 4, 1}
	prompt := promptTensor(t, 4, 2)

	first, err := f.Forward(tokens, prompt)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	second, err := f.Forward(tokens, prompt)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	a, b := first.Conditioning.Data(), second.Conditioning.Data()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("non-deterministic output at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestPromptSwapKeepsAlignment(t *testing.T) {
	f, err := Load(buildFrontendVB(t), testConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tokens := []int64{0, 2, 4}

	outA, err := f.Forward(tokens, promptTensor(t, 4, 10))
	if err != nil {
		t.Fatalf("Forward A: %v", err)
	}

	outB, err := f.Forward(tokens, promptTensor(t, 8, 11))
	if err != nil {
		t.Fatalf("Forward B: %v", err)
	}

	shapeA, shapeB := outA.Conditioning.Shape(), outB.Conditioning.Shape()
	if shapeA[0] != shapeB[0] || shapeA[1] != shapeB[1] {
		t.Fatalf("prompt swap changed conditioning shape: %v vs %v", shapeA, shapeB)
	}

	same := true

	a, b := outA.Conditioning.Data(), outB.Conditioning.Data()
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}

	if same {
		t.Fatal("different prompts should influence conditioning values")
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	f, err := Load(buildFrontendVB(t), testConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	prompt := promptTensor(t, 4, 3)

	if _, err := f.Forward(nil, prompt); err == nil {
		t.Fatal("expected error for empty tokens")
	}

	if _, err := f.Forward([]int64{5}, prompt); err == nil {
		t.Fatal("expected error for out-of-range token id")
	}

	if _, err := f.Forward([]int64{0}, promptTensor(t, 1, 4)); err == nil {
		t.Fatal("expected error for prompt too short to fold")
	}
}

func TestFoldPromptDropsOddTail(t *testing.T) {
	prompt := promptTensor(t, 5, 5)

	folded, err := foldPrompt(prompt, true)
	if err != nil {
		t.Fatalf("foldPrompt: %v", err)
	}

	shape := folded.Shape()
	if shape[0] != 2 || shape[1] != 6 {
		t.Fatalf("folded shape %v, want [2 6]", shape)
	}

	unfolded, err := foldPrompt(prompt, false)
	if err != nil {
		t.Fatalf("foldPrompt passthrough: %v", err)
	}

	if unfolded.Shape()[0] != 5 {
		t.Fatal("passthrough should not change frames")
	}
}

// identityLinear returns a bias-free linear whose weight is the identity.
func identityLinear(t *testing.T, dim int64) *nn.Linear {
	t.Helper()

	data := make([]float32, dim*dim)
	for i := range dim {
		data[i*dim+i] = 1
	}

	w, err := tensor.New(data, []int64{dim, dim})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return &nn.Linear{Weight: w}
}

func zeroTensor(t *testing.T, shape ...int64) *tensor.Tensor {
	t.Helper()

	z, err := tensor.Zeros(shape)
	if err != nil {
		t.Fatalf("tensor.Zeros: %v", err)
	}

	return z
}

// With the position projection and both positional biases zeroed, relative
// attention must reduce to plain scaled dot-product attention over the
// normed input.
func TestRelPosAttentionZeroPositionMatchesPlain(t *testing.T) {
	const (
		dim     = 4
		heads   = 2
		headDim = 2
		seqLen  = int64(5)
	)

	ones := make([]float32, dim)
	for i := range ones {
		ones[i] = 1
	}

	normWeight, err := tensor.New(ones, []int64{dim})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	a := &relPosAttention{
		norm:     &nn.LayerNorm{Weight: normWeight, Bias: zeroTensor(t, dim), Eps: layerNormEps},
		query:    identityLinear(t, dim),
		key:      identityLinear(t, dim),
		value:    identityLinear(t, dim),
		out:      identityLinear(t, dim),
		pos:      &nn.Linear{Weight: zeroTensor(t, dim, dim)},
		posBiasU: zeroTensor(t, heads, headDim),
		posBiasV: zeroTensor(t, heads, headDim),
		heads:    heads,
		headDim:  headDim,
	}

	rng := rand.New(rand.NewSource(11))

	data := make([]float32, seqLen*dim)
	for i := range data {
		data[i] = rng.Float32() - 0.5
	}

	x, err := tensor.New(data, []int64{seqLen, dim})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	got, err := a.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	normed, err := a.norm.Forward(x)
	if err != nil {
		t.Fatalf("norm: %v", err)
	}

	qkv, err := a.projectHeads(a.query, normed, seqLen)
	if err != nil {
		t.Fatalf("projectHeads: %v", err)
	}

	ctx, err := ops.Attention(qkv, qkv, qkv)
	if err != nil {
		t.Fatalf("Attention: %v", err)
	}

	want, err := a.mergeHeads(ctx, seqLen)
	if err != nil {
		t.Fatalf("mergeHeads: %v", err)
	}

	gotData, wantData := got.Data(), want.Data()
	if len(gotData) != len(wantData) {
		t.Fatalf("size mismatch: %d vs %d", len(gotData), len(wantData))
	}

	for i := range wantData {
		if math.Abs(float64(gotData[i]-wantData[i])) > 1e-5 {
			t.Fatalf("value[%d] = %v, want %v", i, gotData[i], wantData[i])
		}
	}
}

func TestRelShift(t *testing.T) {
	// One head, T=2, offsets ordered [+1, 0, -1].
	wide, err := tensor.New([]float32{
		10, 20, 30,
		40, 50, 60,
	}, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	shifted, err := relShift(wide, 2)
	if err != nil {
		t.Fatalf("relShift: %v", err)
	}

	// Cell (i,j) takes offset i-j: row0 -> [0,-1] -> [20,30]; row1 -> [+1,0] -> [40,50].
	want := []float32{20, 30, 40, 50}
	for i, v := range shifted.Data() {
		if v != want[i] {
			t.Fatalf("shifted %v, want %v", shifted.Data(), want)
		}
	}
}

func TestRelPositionalEncodingCenterRow(t *testing.T) {
	pe, err := relPositionalEncoding(3, 4)
	if err != nil {
		t.Fatalf("relPositionalEncoding: %v", err)
	}

	shape := pe.Shape()
	if shape[0] != 5 || shape[1] != 4 {
		t.Fatalf("encoding shape %v, want [5 4]", shape)
	}

	// Offset 0 sits at the middle row: sin(0)=0, cos(0)=1.
	center := pe.Data()[2*4 : 3*4]

	want := []float32{0, 1, 0, 1}
	for i := range want {
		if math.Abs(float64(center[i]-want[i])) > 1e-6 {
			t.Fatalf("center row %v, want %v", center, want)
		}
	}
}

func TestMelPredictionScheduleCutoff(t *testing.T) {
	cfg := testConfig(t)

	sched, err := NewMelPredictionSchedule(cfg)
	if err != nil {
		t.Fatalf("NewMelPredictionSchedule: %v", err)
	}

	cases := []struct {
		step int64
		want float64
	}{
		{0, 60},
		{199999, 60},
		{200000, 60},
		{200001, 0},
		{1000000, 0},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("step_%d", tc.step), func(t *testing.T) {
			if got := sched.Weight(tc.step); got != tc.want {
				t.Fatalf("Weight(%d) = %v, want %v", tc.step, got, tc.want)
			}
		})
	}
}
