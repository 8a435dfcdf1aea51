// Package generator implements the BigVGAN-style upsampling waveform network.
// Per-frame conditioning from the front-end is upsampled through transposed
// convolutions and multi-receptive-field residual blocks whose snake
// activations are steered by a global speaker condition vector.
package generator

import (
	"errors"
	"fmt"

	"github.com/example/vec2wav2/internal/model"
	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

type upsampleStage struct {
	up        *nn.ConvTranspose1d
	resblocks []*resBlock
}

// Generator holds the loaded network. Weight-normalized checkpoints are
// fused at load so Forward is a plain deterministic convolution stack.
type Generator struct {
	condProj *nn.Linear
	convPre  *nn.Conv1d
	stages   []*upsampleStage
	postAct  *condSnake
	convPost *nn.Conv1d

	inChannels int64
	hopSize    int64
}

// Load builds the generator from a checkpoint subtree (prefix "generator").
func Load(vb *nn.VarBuilder, cfg *model.Config) (*Generator, error) {
	if vb == nil || cfg == nil {
		return nil, errors.New("generator: load requires var builder and config")
	}

	gp := cfg.Generator

	numStages := int64(len(gp.UpsampleScales))
	if gp.Channels%(1<<numStages) != 0 {
		return nil, fmt.Errorf("generator: channels %d not divisible by 2^%d upsample stages", gp.Channels, numStages)
	}

	condProj, err := nn.LoadLinear(vb, "cond_proj")
	if err != nil {
		return nil, err
	}

	if got := condProj.Weight.Shape()[0]; got != gp.ConditionDim {
		return nil, fmt.Errorf("generator: cond_proj produces %d dims, config says %d", got, gp.ConditionDim)
	}

	convPre, err := nn.LoadConv1d(vb, "conv_pre", 1, (gp.KernelSize-1)/2, 1, 1)
	if err != nil {
		return nil, err
	}

	stages := make([]*upsampleStage, numStages)

	for i := range stages {
		scale := gp.UpsampleScales[i]
		kernel := gp.UpsampleKernelSizes[i]
		stageCh := gp.Channels >> (uint(i) + 1)
		stageVB := vb.Path("ups", fmt.Sprintf("%d", i))

		up, err := nn.LoadConvTranspose1d(stageVB, "up", scale, (kernel-scale)/2, 1)
		if err != nil {
			return nil, fmt.Errorf("generator: stage %d upsampler: %w", i, err)
		}

		resblocks := make([]*resBlock, len(gp.ResblockKernelSizes))
		for j, k := range gp.ResblockKernelSizes {
			rb, err := loadResBlock(stageVB.Path("resblocks", fmt.Sprintf("%d", j)), stageCh, k, gp.ResblockDilations[j], gp.SnakeLogscale)
			if err != nil {
				return nil, fmt.Errorf("generator: stage %d resblock %d: %w", i, j, err)
			}

			resblocks[j] = rb
		}

		stages[i] = &upsampleStage{up: up, resblocks: resblocks}
	}

	finalCh := gp.Channels >> uint(numStages)

	postAct, err := loadCondSnake(vb.Path("post_act"), finalCh, gp.SnakeLogscale)
	if err != nil {
		return nil, err
	}

	convPost, err := nn.LoadConv1d(vb, "conv_post", 1, (gp.KernelSize-1)/2, 1, 1)
	if err != nil {
		return nil, err
	}

	return &Generator{
		condProj:   condProj,
		convPre:    convPre,
		stages:     stages,
		postAct:    postAct,
		convPost:   convPost,
		inChannels: gp.InChannels,
		hopSize:    *cfg.HopSize,
	}, nil
}

// Forward synthesizes samples from per-frame conditioning [T, in_channels]
// and a prompt feature sequence [Tp, prompt_channels]. The output holds
// exactly T * hop_size samples in [-1, 1].
func (g *Generator) Forward(conditioning, prompt *tensor.Tensor) ([]float32, error) {
	if g == nil {
		return nil, errors.New("generator: not initialized")
	}

	if conditioning == nil || conditioning.Rank() != 2 {
		return nil, errors.New("generator: conditioning must be a [frames, channels] tensor")
	}

	shape := conditioning.Shape()

	frames := shape[0]
	if frames == 0 {
		return nil, errors.New("generator: empty conditioning")
	}

	if shape[1] != g.inChannels {
		return nil, fmt.Errorf("generator: conditioning has %d channels, want %d", shape[1], g.inChannels)
	}

	global, err := GlobalCondition(g.condProj, prompt)
	if err != nil {
		return nil, err
	}

	// [T, C] -> [1, C, T] for the conv stack.
	x, err := conditioning.Transpose(0, 1)
	if err != nil {
		return nil, err
	}

	x, err = x.Reshape([]int64{1, g.inChannels, frames})
	if err != nil {
		return nil, err
	}

	x, err = g.convPre.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("generator: conv_pre: %w", err)
	}

	for i, stage := range g.stages {
		x, err = stage.up.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("generator: stage %d upsample: %w", i, err)
		}

		// Multi-receptive-field fusion: average the parallel residual blocks.
		var sum *tensor.Tensor

		for j, rb := range stage.resblocks {
			y, err := rb.Forward(x, global)
			if err != nil {
				return nil, fmt.Errorf("generator: stage %d resblock %d: %w", i, j, err)
			}

			if sum == nil {
				sum = y
				continue
			}

			sum, err = tensor.BroadcastAdd(sum, y)
			if err != nil {
				return nil, err
			}
		}

		inv := float32(1) / float32(len(stage.resblocks))

		data := sum.RawData()
		for k := range data {
			data[k] *= inv
		}

		x = sum
	}

	x, err = g.postAct.Forward(x, global)
	if err != nil {
		return nil, fmt.Errorf("generator: post activation: %w", err)
	}

	x, err = g.convPost.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("generator: conv_post: %w", err)
	}

	x, err = ops.Tanh(x)
	if err != nil {
		return nil, err
	}

	outShape := x.Shape()

	wantLen := frames * g.hopSize
	if outShape[1] != 1 || outShape[2] != wantLen {
		return nil, fmt.Errorf("generator: output shape %v, want [1 1 %d]", outShape, wantLen)
	}

	return x.Data(), nil
}
