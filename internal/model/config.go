// Package model holds the architecture configuration contract shared by the
// front-end encoder and the waveform generator. The YAML document travels
// with the checkpoint; both must come from the same experiment directory.
package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the vec2wav2.v1 architecture configuration.
// Required scalars are pointers so a missing key is distinguishable from a
// zero value and fails fast at load time.
type Config struct {
	SamplingRate *int64 `yaml:"sampling_rate"`
	HopSize      *int64 `yaml:"hop_size"`
	NumMels      *int64 `yaml:"num_mels"`

	Frontend  FrontendParams  `yaml:"frontend_params"`
	Generator GeneratorParams `yaml:"generator_params"`

	// Training-only keys, parsed so a full training config round-trips but
	// never consumed by the inference path.
	Discriminator                  map[string]any `yaml:"discriminator_params"`
	LambdaFrontendMelPrediction    float64        `yaml:"lambda_frontend_mel_prediction"`
	FrontendMelPredictionStopSteps int64          `yaml:"frontend_mel_prediction_stop_steps"`
	LambdaAdv                      float64        `yaml:"lambda_adv"`
	LambdaFeatMatch                float64        `yaml:"lambda_feat_match"`
	LambdaMel                      float64        `yaml:"lambda_mel"`
	GeneratorOptimizer             map[string]any `yaml:"generator_optimizer_params"`
	DiscriminatorOptimizer         map[string]any `yaml:"discriminator_optimizer_params"`
	GeneratorScheduler             map[string]any `yaml:"generator_scheduler_params"`
	DiscriminatorScheduler         map[string]any `yaml:"discriminator_scheduler_params"`
	TrainMaxSteps                  int64          `yaml:"train_max_steps"`
	SaveIntervalSteps              int64          `yaml:"save_interval_steps"`
	EvalIntervalSteps              int64          `yaml:"eval_interval_steps"`
	LogIntervalSteps               int64          `yaml:"log_interval_steps"`
	NumWorkers                     int64          `yaml:"num_workers"`
}

type FrontendParams struct {
	NumEmbeddings  int64 `yaml:"num_embeddings"`
	EmbedDim       int64 `yaml:"embed_dim"`
	PromptChannels int64 `yaml:"prompt_channels"`
	PromptFoldBy2  bool  `yaml:"prompt_fold_by_2"`
	AttentionDim   int64 `yaml:"attention_dim"`
	AttentionHeads int64 `yaml:"attention_heads"`
	LinearUnits    int64 `yaml:"linear_units"`
	NumBlocks      int64 `yaml:"num_blocks"`
	KernelSize     int64 `yaml:"kernel_size"`
}

type GeneratorParams struct {
	InChannels          int64     `yaml:"in_channels"`
	OutChannels         int64     `yaml:"out_channels"`
	Channels            int64     `yaml:"channels"`
	KernelSize          int64     `yaml:"kernel_size"`
	UpsampleScales      []int64   `yaml:"upsample_scales"`
	UpsampleKernelSizes []int64   `yaml:"upsample_kernel_sizes"`
	ResblockKernelSizes []int64   `yaml:"resblock_kernel_sizes"`
	ResblockDilations   [][]int64 `yaml:"resblock_dilations"`
	ConditionDim        int64     `yaml:"condition_dim"`
	UseWeightNorm       bool      `yaml:"use_weight_norm"`
	SnakeLogscale       bool      `yaml:"snake_logscale"`
}

// Load reads and validates an architecture config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("model: config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates an architecture config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate enforces the structural constraints the tensor code relies on, so
// a bad config fails here instead of deep inside a reshape.
func (c *Config) Validate() error {
	if c.SamplingRate == nil {
		return fmt.Errorf("model: missing required key %q", "sampling_rate")
	}

	if c.HopSize == nil {
		return fmt.Errorf("model: missing required key %q", "hop_size")
	}

	if c.NumMels == nil {
		return fmt.Errorf("model: missing required key %q", "num_mels")
	}

	if *c.SamplingRate <= 0 {
		return fmt.Errorf("model: sampling_rate must be > 0, got %d", *c.SamplingRate)
	}

	if *c.HopSize <= 0 {
		return fmt.Errorf("model: hop_size must be > 0, got %d", *c.HopSize)
	}

	if *c.NumMels <= 0 {
		return fmt.Errorf("model: num_mels must be > 0, got %d", *c.NumMels)
	}

	if err := c.Frontend.validate(); err != nil {
		return err
	}

	if err := c.Generator.validate(*c.HopSize); err != nil {
		return err
	}

	if c.Generator.InChannels != c.Frontend.AttentionDim {
		return fmt.Errorf("model: generator in_channels %d must equal frontend attention_dim %d",
			c.Generator.InChannels, c.Frontend.AttentionDim)
	}

	return nil
}

func (f *FrontendParams) validate() error {
	switch {
	case f.NumEmbeddings <= 0:
		return fmt.Errorf("model: frontend num_embeddings must be > 0, got %d", f.NumEmbeddings)
	case f.EmbedDim <= 0:
		return fmt.Errorf("model: frontend embed_dim must be > 0, got %d", f.EmbedDim)
	case f.PromptChannels <= 0:
		return fmt.Errorf("model: frontend prompt_channels must be > 0, got %d", f.PromptChannels)
	case f.AttentionDim <= 0:
		return fmt.Errorf("model: frontend attention_dim must be > 0, got %d", f.AttentionDim)
	case f.AttentionHeads <= 0:
		return fmt.Errorf("model: frontend attention_heads must be > 0, got %d", f.AttentionHeads)
	case f.LinearUnits <= 0:
		return fmt.Errorf("model: frontend linear_units must be > 0, got %d", f.LinearUnits)
	case f.NumBlocks <= 0:
		return fmt.Errorf("model: frontend num_blocks must be > 0, got %d", f.NumBlocks)
	case f.KernelSize <= 0 || f.KernelSize%2 == 0:
		return fmt.Errorf("model: frontend kernel_size must be odd and > 0, got %d", f.KernelSize)
	}

	if f.AttentionDim%f.AttentionHeads != 0 {
		return fmt.Errorf("model: frontend attention_dim %d not divisible by attention_heads %d",
			f.AttentionDim, f.AttentionHeads)
	}

	return nil
}

func (g *GeneratorParams) validate(hopSize int64) error {
	switch {
	case g.InChannels <= 0:
		return fmt.Errorf("model: generator in_channels must be > 0, got %d", g.InChannels)
	case g.OutChannels != 1:
		return fmt.Errorf("model: generator out_channels must be 1 (mono), got %d", g.OutChannels)
	case g.Channels <= 0:
		return fmt.Errorf("model: generator channels must be > 0, got %d", g.Channels)
	case g.KernelSize <= 0 || g.KernelSize%2 == 0:
		return fmt.Errorf("model: generator kernel_size must be odd and > 0, got %d", g.KernelSize)
	case g.ConditionDim <= 0:
		return fmt.Errorf("model: generator condition_dim must be > 0, got %d", g.ConditionDim)
	case len(g.UpsampleScales) == 0:
		return fmt.Errorf("model: missing required key %q", "generator_params.upsample_scales")
	}

	if len(g.UpsampleKernelSizes) != len(g.UpsampleScales) {
		return fmt.Errorf("model: %d upsample_kernel_sizes for %d upsample_scales",
			len(g.UpsampleKernelSizes), len(g.UpsampleScales))
	}

	product := int64(1)

	for i, s := range g.UpsampleScales {
		if s <= 0 {
			return fmt.Errorf("model: upsample_scales[%d] must be > 0, got %d", i, s)
		}

		k := g.UpsampleKernelSizes[i]
		if k < s || (k-s)%2 != 0 {
			return fmt.Errorf("model: upsample_kernel_sizes[%d]=%d incompatible with scale %d (need k >= s and k-s even)", i, k, s)
		}

		product *= s
	}

	if product != hopSize {
		return fmt.Errorf("model: product of upsample_scales %v is %d, must equal hop_size %d",
			g.UpsampleScales, product, hopSize)
	}

	if len(g.ResblockKernelSizes) == 0 {
		return fmt.Errorf("model: missing required key %q", "generator_params.resblock_kernel_sizes")
	}

	if len(g.ResblockDilations) != len(g.ResblockKernelSizes) {
		return fmt.Errorf("model: %d resblock_dilations sets for %d resblock_kernel_sizes",
			len(g.ResblockDilations), len(g.ResblockKernelSizes))
	}

	for i, k := range g.ResblockKernelSizes {
		if k <= 0 || k%2 == 0 {
			return fmt.Errorf("model: resblock_kernel_sizes[%d] must be odd and > 0, got %d", i, k)
		}

		if len(g.ResblockDilations[i]) == 0 {
			return fmt.Errorf("model: resblock_dilations[%d] is empty", i)
		}

		for j, d := range g.ResblockDilations[i] {
			if d <= 0 {
				return fmt.Errorf("model: resblock_dilations[%d][%d] must be > 0, got %d", i, j, d)
			}
		}
	}

	return nil
}
