package vc

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/vec2wav2/internal/audio"
	"github.com/example/vec2wav2/internal/runtime/tensor"
	"github.com/example/vec2wav2/internal/safetensors"
)

const testConfigYAML = `
sampling_rate: 16000
hop_size: 4
num_mels: 2
frontend_params:
  num_embeddings: 5
  embed_dim: 4
  prompt_channels: 3
  prompt_fold_by_2: false
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
  upsample_scales: [2, 2]
  upsample_kernel_sizes: [4, 4]
  resblock_kernel_sizes: [3]
  resblock_dilations:
    - [1, 3]
  condition_dim: 4
  use_weight_norm: true
  snake_logscale: true
`

type ckptBuilder struct {
	rng     *rand.Rand
	tensors []safetensors.Tensor
}

func (cb *ckptBuilder) add(name string, shape ...int64) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = (cb.rng.Float32() - 0.5) * 0.3
	}

	cb.tensors = append(cb.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: data})
}

func (cb *ckptBuilder) addConst(name string, value float32, shape ...int64) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = value
	}

	cb.tensors = append(cb.tensors, safetensors.Tensor{Name: name, Shape: shape, Data: data})
}

func (cb *ckptBuilder) addLinear(name string, out, in int64) {
	cb.add(name+".weight", out, in)
	cb.add(name+".bias", out)
}

func (cb *ckptBuilder) addNorm(name string, dim int64) {
	cb.addConst(name+".weight", 1, dim)
	cb.addConst(name+".bias", 0, dim)
}

func (cb *ckptBuilder) addNormedConv(name string, outCh, inCh, k int64) {
	cb.add(name+".weight_g", outCh, 1, 1)
	cb.add(name+".weight_v", outCh, inCh, k)
	cb.add(name+".bias", outCh)
}

func (cb *ckptBuilder) addNormedConvTr(name string, inCh, outCh, k int64) {
	cb.add(name+".weight_g", inCh, 1, 1)
	cb.add(name+".weight_v", inCh, outCh, k)
	cb.add(name+".bias", outCh)
}

func (cb *ckptBuilder) addSnake(name string, channels, condDim int64) {
	cb.add(name+".alpha", channels)
	cb.add(name+".beta.weight", channels, condDim)
	cb.add(name+".beta.bias", channels)
}

// writeExpdir writes config.yml plus a well-formed random checkpoint for the
// tiny test architecture and returns the directory.
func writeExpdir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(testConfigYAML), 0o644)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	const (
		dim     = 4
		heads   = 2
		headDim = 2
		units   = 8
		mels    = 2
		condDim = 4
	)

	cb := &ckptBuilder{rng: rand.New(rand.NewSource(42))}

	cb.add("frontend.token_embedding.weight", 5, 4)
	cb.addLinear("frontend.input_proj", dim, 4)
	cb.addLinear("frontend.prompt_prenet", dim, 3)

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
	cb.addConst(conv+".bn.weight", 1, dim)
	cb.addConst(conv+".bn.bias", 0, dim)
	cb.addConst(conv+".bn.running_mean", 0, dim)
	cb.addConst(conv+".bn.running_var", 1, dim)
	cb.add(conv+".pointwise2.weight", dim, dim, 1)
	cb.add(conv+".pointwise2.bias", dim)

	cb.addNorm(block+".final_norm", dim)
	cb.addLinear("frontend.mel_head", mels, dim)

	cb.addLinear("generator.cond_proj", condDim, 3)
	cb.addNormedConv("generator.conv_pre", 8, dim, 7)

	stageChannels := []int64{4, 2}
	prevCh := int64(8)

	for i, ch := range stageChannels {
		stage := "generator.ups." + string(rune('0'+i))
		cb.addNormedConvTr(stage+".up", prevCh, ch, 4)

		rb := stage + ".resblocks.0"
		for d := range 2 {
			idx := string(rune('0' + d))
			cb.addSnake(rb+".acts1."+idx, ch, condDim)
			cb.addNormedConv(rb+".convs1."+idx, ch, ch, 3)
			cb.addSnake(rb+".acts2."+idx, ch, condDim)
			cb.addNormedConv(rb+".convs2."+idx, ch, ch, 3)
		}

		prevCh = ch
	}

	cb.addSnake("generator.post_act", 2, condDim)
	cb.addNormedConv("generator.conv_post", 1, 2, 7)

	err = safetensors.WriteFile(filepath.Join(dir, CheckpointFile), cb.tensors)
	if err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	return dir
}

func randPrompt(t *testing.T, frames int64, seed int64) *tensor.Tensor {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))

	data := make([]float32, frames*3)
	for i := range data {
		data[i] = (rng.Float32() - 0.5) * 0.3
	}

	p, err := tensor.New(data, []int64{frames, 3})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return p
}

type fakeTokenExtractor struct {
	tokens []int64
}

func (f fakeTokenExtractor) Tokens(_ context.Context, _ []float32) ([]int64, error) {
	return f.tokens, nil
}

type fakePromptEncoder struct {
	features *tensor.Tensor
}

func (f fakePromptEncoder) Features(_ context.Context, _ []float32) (*tensor.Tensor, error) {
	return f.features, nil
}

func TestLoadFromDirMissingArtifacts(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromDir(dir)
	if err == nil {
		t.Fatal("expected error for empty expdir")
	}

	if !strings.Contains(err.Error(), ConfigFile) {
		t.Fatalf("error should name the missing config: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(testConfigYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = LoadFromDir(dir)
	if err == nil {
		t.Fatal("expected error for missing checkpoint")
	}

	if !strings.Contains(err.Error(), CheckpointFile) {
		t.Fatalf("error should name the missing checkpoint: %v", err)
	}
}

func TestConvertProducesHopAlignedOutput(t *testing.T) {
	conv, err := LoadFromDir(writeExpdir(t))
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}

	tokens := []int64{0, 1, 2, 3, 4}

	samples, err := conv.Convert(context.Background(), tokens, randPrompt(t, 6, 1))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if len(samples) != len(tokens)*4 {
		t.Fatalf("got %d samples, want %d", len(samples), len(tokens)*4)
	}

	for _, v := range samples {
		if math.IsNaN(float64(v)) {
			t.Fatal("output contains NaN")
		}
	}
}

func TestConvertDeterministic(t *testing.T) {
	conv, err := LoadFromDir(writeExpdir(t))
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}

	tokens := []int64{1, 3, 2}
	prompt := randPrompt(t, 4, 2)

	first, err := conv.Convert(context.Background(), tokens, prompt)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	second, err := conv.Convert(context.Background(), tokens, prompt)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("non-deterministic sample %d", i)
		}
	}
}

func TestConvertHonorsCancellation(t *testing.T) {
	conv, err := LoadFromDir(writeExpdir(t))
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := conv.Convert(ctx, []int64{0}, randPrompt(t, 2, 3)); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	conv, err := LoadFromDir(writeExpdir(t))
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}

	tokens := []int64{0, 1, 2, 3, 4, 1}

	pipeline, err := NewPipeline(conv,
		fakeTokenExtractor{tokens: tokens},
		fakePromptEncoder{features: randPrompt(t, 5, 4)},
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := make([]float32, 1600)
	for i := range input {
		input[i] = float32(math.Sin(float64(i) * 0.05))
	}

	wavIn, err := audio.Encode(input, 16000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := pipeline.ConvertWAV(context.Background(), wavIn, wavIn)
	if err != nil {
		t.Fatalf("ConvertWAV: %v", err)
	}

	samples, rate, err := audio.Decode(out)
	if err != nil {
		t.Fatalf("Decode output: %v", err)
	}

	if rate != 16000 {
		t.Fatalf("output rate %d, want configured 16000", rate)
	}

	if len(samples) != len(tokens)*4 {
		t.Fatalf("output has %d samples, want %d", len(samples), len(tokens)*4)
	}
}

func TestPipelineRejectsGarbageInput(t *testing.T) {
	conv, err := LoadFromDir(writeExpdir(t))
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}

	pipeline, err := NewPipeline(conv,
		fakeTokenExtractor{tokens: []int64{0}},
		fakePromptEncoder{features: randPrompt(t, 2, 5)},
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if _, err := pipeline.ConvertWAV(context.Background(), []byte("nope"), []byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}
