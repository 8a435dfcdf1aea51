package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// Snake applies the periodic snake activation x + (1/a)·sin²(a·x) with a
// per-channel alpha. x: [batch, channels, length], alpha: [channels].
func Snake(x, alpha *tensor.Tensor) (*tensor.Tensor, error) {
	return snakeImpl(x, alpha, nil)
}

// SnakeConditioned applies x + (1/a)·sin²(a·x + b) where beta is a
// per-channel phase shift derived from the global speaker condition.
// x: [batch, channels, length], alpha: [channels], beta: [batch, channels].
func SnakeConditioned(x, alpha, beta *tensor.Tensor) (*tensor.Tensor, error) {
	if beta == nil {
		return nil, errors.New("ops: conditioned snake requires non-nil beta")
	}

	return snakeImpl(x, alpha, beta)
}

func snakeImpl(x, alpha, beta *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || alpha == nil {
		return nil, errors.New("ops: snake requires non-nil x/alpha")
	}

	xShape := x.Shape()
	if len(xShape) != 3 {
		return nil, fmt.Errorf("ops: snake expects rank-3 input, got %v", xShape)
	}

	batch, channels, length := xShape[0], xShape[1], xShape[2]

	aShape := alpha.Shape()
	if len(aShape) != 1 || aShape[0] != channels {
		return nil, fmt.Errorf("ops: snake alpha shape %v does not match %d channels", aShape, channels)
	}

	var betaData []float32

	if beta != nil {
		bShape := beta.Shape()
		if len(bShape) != 2 || bShape[0] != batch || bShape[1] != channels {
			return nil, fmt.Errorf("ops: snake beta shape %v, want [%d %d]", bShape, batch, channels)
		}

		betaData = beta.RawData()
	}

	out := x.Clone()
	data := out.RawData()
	alphaData := alpha.RawData()
	lenI := int(length)

	for b := range batch {
		for c := range channels {
			a := alphaData[c]

			// alpha near zero degenerates to identity (lim of the closed form).
			inv := float32(0)
			if a != 0 {
				inv = 1 / a
			}

			var phase float32
			if betaData != nil {
				phase = betaData[b*channels+c]
			}

			row := data[(b*channels+c)*length : (b*channels+c+1)*length]
			for i := range lenI {
				s := float32(math.Sin(float64(a*row[i] + phase)))
				row[i] += inv * s * s
			}
		}
	}

	return out, nil
}

// GLU splits the channel dimension in half and gates the first half with the
// sigmoid of the second: out = x[:C] * sigmoid(x[C:]).
// x: [batch, channels, length] with even channels.
func GLU(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: glu requires non-nil input")
	}

	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("ops: glu expects rank-3 input, got %v", shape)
	}

	channels := shape[1]
	if channels%2 != 0 {
		return nil, fmt.Errorf("ops: glu requires an even channel count, got %d", channels)
	}

	half := channels / 2

	a, err := x.Narrow(1, 0, half)
	if err != nil {
		return nil, fmt.Errorf("ops: glu value half: %w", err)
	}

	g, err := x.Narrow(1, half, half)
	if err != nil {
		return nil, fmt.Errorf("ops: glu gate half: %w", err)
	}

	gData := g.RawData()
	for i := range gData {
		gData[i] = sigmoid(gData[i])
	}

	out, err := tensor.BroadcastMul(a, g)
	if err != nil {
		return nil, fmt.Errorf("ops: glu gate: %w", err)
	}

	return out, nil
}

// Swish applies x·sigmoid(x) in place on a clone.
func Swish(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: swish requires non-nil input")
	}

	out := x.Clone()

	data := out.RawData()
	for i, v := range data {
		data[i] = v * sigmoid(v)
	}

	return out, nil
}

// Tanh applies tanh element-wise on a clone.
func Tanh(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: tanh requires non-nil input")
	}

	out := x.Clone()

	data := out.RawData()
	for i, v := range data {
		data[i] = float32(math.Tanh(float64(v)))
	}

	return out, nil
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}
