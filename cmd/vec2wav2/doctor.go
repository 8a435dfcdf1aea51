package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/vec2wav2/internal/doctor"
	"github.com/example/vec2wav2/internal/model"
	"github.com/example/vec2wav2/internal/safetensors"
	"github.com/example/vec2wav2/internal/vc"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that all runtime artifacts are present and readable",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stdout, "expdir: %s\n", cfg.Paths.Expdir)

			result := doctor.Run(doctor.Config{
				ConfigPath:         filepath.Join(cfg.Paths.Expdir, vc.ConfigFile),
				CheckpointPath:     filepath.Join(cfg.Paths.Expdir, vc.CheckpointFile),
				TokenModelPath:     tokenModelPath(cfg),
				PromptModelPath:    promptModelPath(cfg),
				ORTLibraryPath:     cfg.Runtime.ORTLibraryPath,
				ValidateConfig:     validateModelConfig,
				ValidateCheckpoint: validateCheckpoint,
			}, os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					_, _ = fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func validateModelConfig(path string) error {
	_, err := model.Load(path)
	return err
}

func validateCheckpoint(path string) error {
	store, err := safetensors.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(store.Names()) == 0 {
		return errors.New("checkpoint contains no tensors")
	}

	return nil
}
