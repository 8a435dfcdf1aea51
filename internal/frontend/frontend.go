// Package frontend implements the Conformer token/prompt encoder that turns
// discrete speech tokens plus a speaker prompt into per-frame conditioning
// features for the waveform generator.
package frontend

import (
	"errors"
	"fmt"

	"github.com/example/vec2wav2/internal/model"
	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// Frontend embeds a token sequence, prepends projected prompt frames, runs
// the joined sequence through the Conformer stack, and drops the prompt
// segment again. The conditioning output therefore always has exactly one
// frame per input token; the prompt only steers the attention context.
type Frontend struct {
	tokenEmbedding *nn.Embedding
	inputProj      *nn.Linear
	promptPrenet   *nn.Linear
	blocks         []*conformerBlock
	melHead        *nn.Linear

	attentionDim  int64
	promptFoldBy2 bool
}

// Output carries the per-frame conditioning tensor and the auxiliary mel
// prediction. Conditioning is [T, attention_dim]; Mel is [T, num_mels].
type Output struct {
	Conditioning *tensor.Tensor
	Mel          *tensor.Tensor
}

// Load builds the front-end from a checkpoint subtree (prefix "frontend").
func Load(vb *nn.VarBuilder, cfg *model.Config) (*Frontend, error) {
	if vb == nil || cfg == nil {
		return nil, errors.New("frontend: load requires var builder and config")
	}

	fp := cfg.Frontend

	tokenEmbedding, err := nn.LoadEmbedding(vb, "token_embedding")
	if err != nil {
		return nil, err
	}

	embShape := tokenEmbedding.Weight.Shape()
	if embShape[0] != fp.NumEmbeddings || embShape[1] != fp.EmbedDim {
		return nil, fmt.Errorf("frontend: token embedding shape %v does not match config [%d %d]",
			embShape, fp.NumEmbeddings, fp.EmbedDim)
	}

	inputProj, err := nn.LoadLinear(vb, "input_proj")
	if err != nil {
		return nil, err
	}

	promptPrenet, err := nn.LoadLinear(vb, "prompt_prenet")
	if err != nil {
		return nil, err
	}

	promptIn := fp.PromptChannels
	if fp.PromptFoldBy2 {
		promptIn *= 2
	}

	if got := promptPrenet.Weight.Shape()[1]; got != promptIn {
		return nil, fmt.Errorf("frontend: prompt prenet expects %d input channels, checkpoint has %d", promptIn, got)
	}

	blocks := make([]*conformerBlock, fp.NumBlocks)
	encoderVB := vb.Path("encoder", "blocks")

	for i := range blocks {
		block, err := loadConformerBlock(encoderVB.Path(fmt.Sprintf("%d", i)), fp.AttentionDim, fp.AttentionHeads, fp.KernelSize)
		if err != nil {
			return nil, fmt.Errorf("frontend: block %d: %w", i, err)
		}

		blocks[i] = block
	}

	melHead, err := nn.LoadLinear(vb, "mel_head")
	if err != nil {
		return nil, err
	}

	if got := melHead.Weight.Shape()[0]; got != *cfg.NumMels {
		return nil, fmt.Errorf("frontend: mel head predicts %d bins, config says %d", got, *cfg.NumMels)
	}

	return &Frontend{
		tokenEmbedding: tokenEmbedding,
		inputProj:      inputProj,
		promptPrenet:   promptPrenet,
		blocks:         blocks,
		melHead:        melHead,
		attentionDim:   fp.AttentionDim,
		promptFoldBy2:  fp.PromptFoldBy2,
	}, nil
}

// Forward encodes tokens with prompt context. prompt is [Tp, prompt_channels].
func (f *Frontend) Forward(tokens []int64, prompt *tensor.Tensor) (*Output, error) {
	if f == nil {
		return nil, errors.New("frontend: not initialized")
	}

	if len(tokens) == 0 {
		return nil, errors.New("frontend: empty token sequence")
	}

	if prompt == nil || prompt.Rank() != 2 {
		return nil, errors.New("frontend: prompt must be a [frames, channels] tensor")
	}

	embedded, err := f.tokenEmbedding.Forward(tokens)
	if err != nil {
		return nil, err
	}

	tokenFrames, err := f.inputProj.Forward(embedded)
	if err != nil {
		return nil, fmt.Errorf("frontend: input projection: %w", err)
	}

	promptFolded, err := foldPrompt(prompt, f.promptFoldBy2)
	if err != nil {
		return nil, err
	}

	promptFrames, err := f.promptPrenet.Forward(promptFolded)
	if err != nil {
		return nil, fmt.Errorf("frontend: prompt prenet: %w", err)
	}

	joined, err := tensor.Concat([]*tensor.Tensor{promptFrames, tokenFrames}, 0)
	if err != nil {
		return nil, fmt.Errorf("frontend: join prompt and tokens: %w", err)
	}

	for i, block := range f.blocks {
		joined, err = block.Forward(joined)
		if err != nil {
			return nil, fmt.Errorf("frontend: block %d: %w", i, err)
		}
	}

	// Drop the prompt segment so conditioning length equals token length.
	promptLen := promptFrames.Shape()[0]

	conditioning, err := joined.Narrow(0, promptLen, int64(len(tokens)))
	if err != nil {
		return nil, fmt.Errorf("frontend: strip prompt frames: %w", err)
	}

	mel, err := f.melHead.Forward(conditioning)
	if err != nil {
		return nil, fmt.Errorf("frontend: mel head: %w", err)
	}

	return &Output{Conditioning: conditioning, Mel: mel}, nil
}

// foldPrompt concatenates adjacent prompt frame pairs into single frames of
// twice the channel count, halving the prompt length. An odd trailing frame
// is dropped.
func foldPrompt(prompt *tensor.Tensor, fold bool) (*tensor.Tensor, error) {
	shape := prompt.Shape()
	frames, channels := shape[0], shape[1]

	if !fold {
		if frames == 0 {
			return nil, errors.New("frontend: empty prompt")
		}

		return prompt, nil
	}

	pairs := frames / 2
	if pairs == 0 {
		return nil, fmt.Errorf("frontend: prompt has %d frames, need at least 2 to fold", frames)
	}

	trimmed, err := prompt.Narrow(0, 0, pairs*2)
	if err != nil {
		return nil, err
	}

	return trimmed.Reshape([]int64{pairs, channels * 2})
}
