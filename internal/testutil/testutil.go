// Package testutil holds skip helpers for tests that need external
// artifacts: the ONNX Runtime shared library or a pretrained experiment
// directory. Unit tests never need these; integration tests skip cleanly
// when they are absent.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// RequireONNXRuntime returns the ONNX Runtime library path or skips the
// test. Set ORT_LIBRARY_PATH to point at libonnxruntime explicitly.
func RequireONNXRuntime(t *testing.T) string {
	t.Helper()

	if path := os.Getenv("ORT_LIBRARY_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}

		t.Skipf("ORT_LIBRARY_PATH set to %s but file is missing", path)
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	t.Skip("ONNX Runtime library not found; set ORT_LIBRARY_PATH to run this test")

	return ""
}

// RequirePretrainedDir returns a directory holding the pretrained artifacts
// (config.yml, generator.safetensors, extractor ONNX exports) or skips.
// Set VEC2WAV2_PRETRAINED_DIR to run the gated integration tests.
func RequirePretrainedDir(t *testing.T) string {
	t.Helper()

	dir := os.Getenv("VEC2WAV2_PRETRAINED_DIR")
	if dir == "" {
		t.Skip("VEC2WAV2_PRETRAINED_DIR not set; skipping pretrained integration test")
	}

	for _, name := range []string{"config.yml", "generator.safetensors"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Skipf("pretrained dir %s is missing %s", dir, name)
		}
	}

	return dir
}
