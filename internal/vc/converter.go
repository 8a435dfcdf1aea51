// Package vc drives voice conversion: it owns the loaded vocoder (front-end
// plus generator) and the wav-to-wav pipeline around it.
package vc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/example/vec2wav2/internal/frontend"
	"github.com/example/vec2wav2/internal/generator"
	"github.com/example/vec2wav2/internal/model"
	"github.com/example/vec2wav2/internal/nn"
	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// Fixed artifact names inside an experiment directory.
const (
	ConfigFile     = "config.yml"
	CheckpointFile = "generator.safetensors"
)

// Converter holds a loaded vocoder. Weights are read-only after load, so a
// single Converter is safe for concurrent Convert calls.
type Converter struct {
	cfg       *model.Config
	frontend  *frontend.Frontend
	generator *generator.Generator
}

// LoadFromDir loads config.yml and generator.safetensors from an experiment
// directory.
func LoadFromDir(expdir string) (*Converter, error) {
	configPath := filepath.Join(expdir, ConfigFile)
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("vc: config: %w", err)
	}

	checkpointPath := filepath.Join(expdir, CheckpointFile)
	if _, err := os.Stat(checkpointPath); err != nil {
		return nil, fmt.Errorf("vc: checkpoint: %w", err)
	}

	cfg, err := model.Load(configPath)
	if err != nil {
		return nil, err
	}

	vb, err := nn.OpenVarBuilder(checkpointPath)
	if err != nil {
		return nil, err
	}

	return load(vb, cfg)
}

func load(vb *nn.VarBuilder, cfg *model.Config) (*Converter, error) {
	start := time.Now()

	fe, err := frontend.Load(vb.Path("frontend"), cfg)
	if err != nil {
		return nil, err
	}

	gen, err := generator.Load(vb.Path("generator"), cfg)
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded vocoder checkpoint",
		"duration_ms", time.Since(start).Milliseconds(),
		"sampling_rate", *cfg.SamplingRate,
		"hop_size", *cfg.HopSize,
	)

	return &Converter{cfg: cfg, frontend: fe, generator: gen}, nil
}

func (c *Converter) Config() *model.Config {
	return c.cfg
}

// Convert synthesizes a waveform from a token sequence and a speaker prompt
// feature sequence. The output has exactly len(tokens) * hop_size samples at
// the configured sampling rate.
func (c *Converter) Convert(ctx context.Context, tokens []int64, prompt *tensor.Tensor) ([]float32, error) {
	if c == nil {
		return nil, errors.New("vc: converter is not initialized")
	}

	if len(tokens) == 0 {
		return nil, errors.New("vc: empty token sequence")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feStart := time.Now()

	out, err := c.frontend.Forward(tokens, prompt)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	genStart := time.Now()

	samples, err := c.generator.Forward(out.Conditioning, prompt)
	if err != nil {
		return nil, err
	}

	slog.Debug("converted utterance",
		"tokens", len(tokens),
		"samples", len(samples),
		"frontend_ms", genStart.Sub(feStart).Milliseconds(),
		"generator_ms", time.Since(genStart).Milliseconds(),
	)

	return samples, nil
}
