package generator

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// GlobalCondition derives the generator-wide speaker vector: the prompt
// feature frames are mean-pooled over time and projected to condition_dim.
// The result is [1, condition_dim].
func GlobalCondition(condProj *nn.Linear, prompt *tensor.Tensor) (*tensor.Tensor, error) {
	if condProj == nil {
		return nil, errors.New("generator: condition projection is not initialized")
	}

	if prompt == nil || prompt.Rank() != 2 {
		return nil, errors.New("generator: prompt must be a [frames, channels] tensor")
	}

	shape := prompt.Shape()

	frames, channels := shape[0], shape[1]
	if frames == 0 {
		return nil, errors.New("generator: empty prompt")
	}

	pooled := make([]float32, channels)
	data := prompt.RawData()

	for f := range frames {
		row := data[f*channels : (f+1)*channels]
		for c := range row {
			pooled[c] += row[c]
		}
	}

	inv := float32(1) / float32(frames)
	for c := range pooled {
		pooled[c] *= inv
	}

	mean, err := tensor.New(pooled, []int64{1, channels})
	if err != nil {
		return nil, err
	}

	return condProj.Forward(mean)
}

// condSnake is the conditioned snake activation: a learned per-channel alpha
// plus a per-channel phase shift computed from the global condition vector.
type condSnake struct {
	alpha *tensor.Tensor // [channels], already de-logged when snake_logscale
	beta  *nn.Linear     // condition_dim -> channels
}

func loadCondSnake(vb *nn.VarBuilder, channels int64, logscale bool) (*condSnake, error) {
	alpha, err := vb.Tensor("alpha", channels)
	if err != nil {
		return nil, err
	}

	if logscale {
		// Checkpoints store log(alpha) for training stability; fold the exp
		// here so the activation is a plain snake at inference.
		data := alpha.RawData()
		for i, v := range data {
			data[i] = float32(math.Exp(float64(v)))
		}
	}

	beta, err := nn.LoadLinear(vb, "beta")
	if err != nil {
		return nil, err
	}

	if got := beta.Weight.Shape()[0]; got != channels {
		return nil, fmt.Errorf("generator: snake beta produces %d channels, want %d", got, channels)
	}

	return &condSnake{alpha: alpha, beta: beta}, nil
}

// Forward applies the activation to x [1, channels, T] under the global
// condition vector [1, condition_dim].
func (s *condSnake) Forward(x, global *tensor.Tensor) (*tensor.Tensor, error) {
	if s == nil {
		return nil, errors.New("generator: snake activation is not initialized")
	}

	phase, err := s.beta.Forward(global)
	if err != nil {
		return nil, fmt.Errorf("generator: snake phase projection: %w", err)
	}

	return ops.SnakeConditioned(x, s.alpha, phase)
}
