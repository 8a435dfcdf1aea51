package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/vec2wav2/internal/config"
	"github.com/example/vec2wav2/internal/extract"
	"github.com/example/vec2wav2/internal/runtime/ops"
	"github.com/example/vec2wav2/internal/server"
	"github.com/example/vec2wav2/internal/vc"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "vec2wav2",
		Short: "Discrete-token voice conversion vocoder",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.Log.Level)

			if loaded.Runtime.ConvWorkers > 0 {
				ops.SetConvWorkers(loaded.Runtime.ConvWorkers)
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newValidateConfigCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.Expdir == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

// tokenModelPath resolves the vq-wav2vec export, defaulting to the
// experiment directory.
func tokenModelPath(cfg config.Config) string {
	if cfg.Paths.TokenModelPath != "" {
		return cfg.Paths.TokenModelPath
	}
	return filepath.Join(cfg.Paths.Expdir, extract.TokenModelFile)
}

// promptModelPath resolves the WavLM export, defaulting to the experiment
// directory.
func promptModelPath(cfg config.Config) string {
	if cfg.Paths.PromptModelPath != "" {
		return cfg.Paths.PromptModelPath
	}
	return filepath.Join(cfg.Paths.Expdir, extract.PromptModelFile)
}

// buildPipeline loads the vocoder checkpoint and both ONNX extractors. The
// returned cleanup closes the extractor sessions.
func buildPipeline(cfg config.Config) (*vc.Pipeline, func(), error) {
	converter, err := vc.LoadFromDir(cfg.Paths.Expdir)
	if err != nil {
		return nil, nil, err
	}

	ortCfg := extract.Config{
		LibraryPath: cfg.Runtime.ORTLibraryPath,
		APIVersion:  uint32(cfg.Runtime.ORTAPIVersion),
	}

	tokens, err := extract.NewVQWav2Vec(tokenModelPath(cfg), ortCfg)
	if err != nil {
		return nil, nil, err
	}

	prompts, err := extract.NewWavLM(promptModelPath(cfg), ortCfg)
	if err != nil {
		tokens.Close()
		return nil, nil, err
	}

	cleanup := func() {
		prompts.Close()
		tokens.Close()
	}

	pipeline, err := vc.NewPipeline(converter, tokens, prompts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return pipeline, cleanup, nil
}
