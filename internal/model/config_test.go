package model

import (
	"path/filepath"
	"strings"
	"testing"
)

func validConfigYAML() string {
	return `
sampling_rate: 24000
hop_size: 240
num_mels: 80
frontend_params:
  num_embeddings: 320
  embed_dim: 512
  prompt_channels: 1024
  prompt_fold_by_2: true
  attention_dim: 184
  attention_heads: 2
  linear_units: 1536
  num_blocks: 2
  kernel_size: 31
generator_params:
  in_channels: 184
  out_channels: 1
  channels: 512
  kernel_size: 7
  upsample_scales: [8, 5, 3, 2]
  upsample_kernel_sizes: [16, 10, 6, 4]
  resblock_kernel_sizes: [3, 7, 11]
  resblock_dilations:
    - [1, 3, 5]
    - [1, 3, 5]
    - [1, 3, 5]
  condition_dim: 1024
  use_weight_norm: true
  snake_logscale: true
`
}

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validConfigYAML()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if *cfg.HopSize != 240 || *cfg.SamplingRate != 24000 {
		t.Fatalf("unexpected scalars: hop=%d rate=%d", *cfg.HopSize, *cfg.SamplingRate)
	}

	if cfg.Frontend.AttentionDim != 184 || cfg.Generator.Channels != 512 {
		t.Fatal("nested params not decoded")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing hop_size",
			mutate:  func(s string) string { return strings.Replace(s, "hop_size: 240\n", "", 1) },
			wantErr: "hop_size",
		},
		{
			name:    "missing sampling_rate",
			mutate:  func(s string) string { return strings.Replace(s, "sampling_rate: 24000\n", "", 1) },
			wantErr: "sampling_rate",
		},
		{
			name:    "upsample product mismatch",
			mutate:  func(s string) string { return strings.Replace(s, "hop_size: 240", "hop_size: 256", 1) },
			wantErr: "upsample_scales",
		},
		{
			name: "kernel/scale count mismatch",
			mutate: func(s string) string {
				return strings.Replace(s, "upsample_kernel_sizes: [16, 10, 6, 4]", "upsample_kernel_sizes: [16, 10, 6]", 1)
			},
			wantErr: "upsample_kernel_sizes",
		},
		{
			name: "in_channels disagrees with attention_dim",
			mutate: func(s string) string {
				return strings.Replace(s, "in_channels: 184", "in_channels: 256", 1)
			},
			wantErr: "attention_dim",
		},
		{
			name: "heads do not divide attention_dim",
			mutate: func(s string) string {
				return strings.Replace(s, "attention_heads: 2", "attention_heads: 3", 1)
			},
			wantErr: "attention_heads",
		},
		{
			name: "dilation sets mismatch",
			mutate: func(s string) string {
				return strings.Replace(s, "resblock_kernel_sizes: [3, 7, 11]", "resblock_kernel_sizes: [3, 7]", 1)
			},
			wantErr: "resblock",
		},
		{
			name: "non-mono generator",
			mutate: func(s string) string {
				return strings.Replace(s, "out_channels: 1", "out_channels: 2", 1)
			},
			wantErr: "out_channels",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.mutate(validConfigYAML())))
			if err == nil {
				t.Fatal("expected validation error")
			}

			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

// Every shipped config must satisfy the upsample/hop constraint.
func TestShippedConfigsValidate(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "configs", "*.yaml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	if len(paths) == 0 {
		t.Fatal("no shipped configs found under configs/")
	}

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}

			product := int64(1)
			for _, s := range cfg.Generator.UpsampleScales {
				product *= s
			}

			if product != *cfg.HopSize {
				t.Fatalf("upsample product %d != hop_size %d", product, *cfg.HopSize)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
