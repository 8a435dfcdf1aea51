// Package doctor provides environment preflight checks for vec2wav2.
package doctor

import (
	"fmt"
	"io"
	"os"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// CheckFunc validates a file beyond its mere presence, for example by
// parsing it.
type CheckFunc func(path string) error

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ConfigPath is the model config inside the experiment directory.
	ConfigPath string
	// CheckpointPath is the vocoder checkpoint.
	CheckpointPath string
	// TokenModelPath is the vq-wav2vec ONNX export.
	TokenModelPath string
	// PromptModelPath is the WavLM ONNX export.
	PromptModelPath string
	// ORTLibraryPath is the ONNX Runtime shared library. Empty skips the
	// check, since purego falls back to the system search path.
	ORTLibraryPath string
	// ValidateConfig parses and validates the model config.
	ValidateConfig CheckFunc
	// ValidateCheckpoint opens the checkpoint and verifies its header.
	ValidateCheckpoint CheckFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	checkFile(&res, w, "model config", cfg.ConfigPath, cfg.ValidateConfig)
	checkFile(&res, w, "checkpoint", cfg.CheckpointPath, cfg.ValidateCheckpoint)
	checkFile(&res, w, "token extractor model", cfg.TokenModelPath, nil)
	checkFile(&res, w, "prompt encoder model", cfg.PromptModelPath, nil)

	if cfg.ORTLibraryPath == "" {
		fmt.Fprintf(w, "%s onnxruntime library: skipped (no explicit path configured)\n", PassMark)
	} else {
		checkFile(&res, w, "onnxruntime library", cfg.ORTLibraryPath, nil)
	}

	return res
}

func checkFile(res *Result, w io.Writer, label, path string, validate CheckFunc) {
	if path == "" {
		res.fail(fmt.Sprintf("%s: no path configured", label))
		fmt.Fprintf(w, "%s %s: no path configured\n", FailMark, label)

		return
	}

	if _, err := os.Stat(path); err != nil {
		res.fail(fmt.Sprintf("%s %q: %v", label, path, err))
		fmt.Fprintf(w, "%s %s %s: not found\n", FailMark, label, path)

		return
	}

	if validate != nil {
		if err := validate(path); err != nil {
			res.fail(fmt.Sprintf("%s %q: %v", label, path, err))
			fmt.Fprintf(w, "%s %s %s: invalid (%v)\n", FailMark, label, path, err)

			return
		}
	}

	fmt.Fprintf(w, "%s %s: %s\n", PassMark, label, path)
}
