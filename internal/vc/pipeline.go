package vc

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/vec2wav2/internal/audio"
	"github.com/example/vec2wav2/internal/extract"
)

// Pipeline is the full wav-to-wav conversion: decode both inputs, resample
// to the extractor rate, extract tokens and prompt features, run the
// vocoder, and encode the result at the model's sampling rate.
type Pipeline struct {
	converter *Converter
	tokens    extract.TokenExtractor
	prompts   extract.PromptEncoder
}

func NewPipeline(converter *Converter, tokens extract.TokenExtractor, prompts extract.PromptEncoder) (*Pipeline, error) {
	if converter == nil || tokens == nil || prompts == nil {
		return nil, errors.New("vc: pipeline requires converter, token extractor and prompt encoder")
	}

	return &Pipeline{converter: converter, tokens: tokens, prompts: prompts}, nil
}

// ConvertWAV converts a source utterance into the prompt speaker's voice.
// Both inputs must be mono 16-bit WAV at any sample rate.
func (p *Pipeline) ConvertWAV(ctx context.Context, sourceWAV, promptWAV []byte) ([]byte, error) {
	sourceSamples, err := p.prepare(sourceWAV, "source")
	if err != nil {
		return nil, err
	}

	promptSamples, err := p.prepare(promptWAV, "prompt")
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens, err := p.tokens.Tokens(ctx, sourceSamples)
	if err != nil {
		return nil, fmt.Errorf("vc: token extraction: %w", err)
	}

	promptFeatures, err := p.prompts.Features(ctx, promptSamples)
	if err != nil {
		return nil, fmt.Errorf("vc: prompt encoding: %w", err)
	}

	samples, err := p.converter.Convert(ctx, tokens, promptFeatures)
	if err != nil {
		return nil, err
	}

	out, err := audio.Encode(samples, int(*p.converter.cfg.SamplingRate))
	if err != nil {
		return nil, err
	}

	return out, nil
}

// prepare decodes a WAV input and resamples it to the extractor rate.
func (p *Pipeline) prepare(wavBytes []byte, role string) ([]float32, error) {
	samples, rate, err := audio.Decode(wavBytes)
	if err != nil {
		return nil, fmt.Errorf("vc: decode %s: %w", role, err)
	}

	resampled, err := audio.Resample(samples, rate, audio.ExtractorSampleRate)
	if err != nil {
		return nil, fmt.Errorf("vc: resample %s: %w", role, err)
	}

	return resampled, nil
}
