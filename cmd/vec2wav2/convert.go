package main

import (
	"fmt"
	"io"
	"os"

	"github.com/example/vec2wav2/internal/audio"
	"github.com/spf13/cobra"
)

func newConvertCmd() *cobra.Command {
	var sourcePath string
	var targetPath string
	var outPath string
	var expdir string
	var normalize bool
	var dcBlock bool
	var fadeInMS float64
	var fadeOutMS float64

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a source utterance into the target speaker's voice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if sourcePath == "" || targetPath == "" {
				return fmt.Errorf("both --source and --target are required")
			}

			if expdir != "" {
				cfg.Paths.Expdir = expdir
			}

			sourceWAV, err := os.ReadFile(sourcePath)
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}

			targetWAV, err := os.ReadFile(targetPath)
			if err != nil {
				return fmt.Errorf("read target: %w", err)
			}

			pipeline, cleanup, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := pipeline.ConvertWAV(cmd.Context(), sourceWAV, targetWAV)
			if err != nil {
				return err
			}

			if normalize || dcBlock || fadeInMS > 0 || fadeOutMS > 0 {
				result, err = applyDSPToWAV(result, dspOptions{
					Normalize: normalize,
					DCBlock:   dcBlock,
					FadeInMS:  fadeInMS,
					FadeOutMS: fadeOutMS,
				})
				if err != nil {
					return err
				}
			}

			return writeConvertOutput(outPath, result, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&sourcePath, "source", "s", "", "Source utterance WAV (content)")
	cmd.Flags().StringVarP(&targetPath, "target", "t", "", "Target speaker prompt WAV (voice)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&expdir, "expdir", "", "Experiment directory (overrides --paths-expdir)")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&dcBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&fadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&fadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")

	return cmd
}

type dspOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

func applyDSPToWAV(wavData []byte, opts dspOptions) ([]byte, error) {
	samples, rate, err := audio.Decode(wavData)
	if err != nil {
		return nil, fmt.Errorf("decode WAV for DSP: %w", err)
	}

	processed := samples
	if opts.Normalize {
		processed = audio.PeakNormalize(processed, 0.95)
	}
	if opts.DCBlock {
		processed = audio.DCBlock(processed)
	}
	if opts.FadeInMS > 0 {
		processed = audio.FadeIn(processed, int(opts.FadeInMS), rate)
	}
	if opts.FadeOutMS > 0 {
		processed = audio.FadeOut(processed, int(opts.FadeOutMS), rate)
	}

	out, err := audio.Encode(processed, rate)
	if err != nil {
		return nil, fmt.Errorf("encode WAV after DSP: %w", err)
	}
	return out, nil
}

func writeConvertOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}
