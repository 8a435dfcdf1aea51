package generator

import (
	"fmt"

	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// resBlock is one multi-receptive-field residual block: per dilation d,
// x += conv2(act2(conv1(act1(x)))) with conv1 dilated by d and conv2 at
// dilation 1, both with same padding.
type resBlock struct {
	acts1  []*condSnake
	convs1 []*nn.Conv1d
	acts2  []*condSnake
	convs2 []*nn.Conv1d
}

func loadResBlock(vb *nn.VarBuilder, channels, kernelSize int64, dilations []int64, logscale bool) (*resBlock, error) {
	rb := &resBlock{
		acts1:  make([]*condSnake, len(dilations)),
		convs1: make([]*nn.Conv1d, len(dilations)),
		acts2:  make([]*condSnake, len(dilations)),
		convs2: make([]*nn.Conv1d, len(dilations)),
	}

	for i, d := range dilations {
		idx := fmt.Sprintf("%d", i)

		act1, err := loadCondSnake(vb.Path("acts1", idx), channels, logscale)
		if err != nil {
			return nil, err
		}

		conv1, err := nn.LoadConv1d(vb, "convs1."+idx, 1, d*(kernelSize-1)/2, d, 1)
		if err != nil {
			return nil, err
		}

		act2, err := loadCondSnake(vb.Path("acts2", idx), channels, logscale)
		if err != nil {
			return nil, err
		}

		conv2, err := nn.LoadConv1d(vb, "convs2."+idx, 1, (kernelSize-1)/2, 1, 1)
		if err != nil {
			return nil, err
		}

		rb.acts1[i], rb.convs1[i] = act1, conv1
		rb.acts2[i], rb.convs2[i] = act2, conv2
	}

	return rb, nil
}

func (rb *resBlock) Forward(x, global *tensor.Tensor) (*tensor.Tensor, error) {
	for i := range rb.convs1 {
		h, err := rb.acts1[i].Forward(x, global)
		if err != nil {
			return nil, err
		}

		h, err = rb.convs1[i].Forward(h)
		if err != nil {
			return nil, err
		}

		h, err = rb.acts2[i].Forward(h, global)
		if err != nil {
			return nil, err
		}

		h, err = rb.convs2[i].Forward(h)
		if err != nil {
			return nil, err
		}

		x, err = tensor.BroadcastAdd(x, h)
		if err != nil {
			return nil, fmt.Errorf("generator: resblock residual: %w", err)
		}
	}

	return x, nil
}
