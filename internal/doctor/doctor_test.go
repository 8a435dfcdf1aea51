package doctor

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	return path
}

func TestRunAllChecksPass(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{
		ConfigPath:      touch(t, dir, "config.yml"),
		CheckpointPath:  touch(t, dir, "generator.safetensors"),
		TokenModelPath:  touch(t, dir, "vq_wav2vec.onnx"),
		PromptModelPath: touch(t, dir, "wavlm_large.onnx"),
		ValidateConfig:  func(string) error { return nil },
	}

	var out bytes.Buffer

	res := Run(cfg, &out)
	if res.Failed() {
		t.Fatalf("unexpected failures: %v", res.Failures())
	}

	if !strings.Contains(out.String(), PassMark+" model config") {
		t.Errorf("output missing config pass line:\n%s", out.String())
	}

	if !strings.Contains(out.String(), "onnxruntime library: skipped") {
		t.Errorf("output should note the skipped library check:\n%s", out.String())
	}
}

func TestRunMissingArtifacts(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{
		ConfigPath:      filepath.Join(dir, "config.yml"),
		CheckpointPath:  filepath.Join(dir, "generator.safetensors"),
		TokenModelPath:  filepath.Join(dir, "vq_wav2vec.onnx"),
		PromptModelPath: filepath.Join(dir, "wavlm_large.onnx"),
	}

	var out bytes.Buffer

	res := Run(cfg, &out)
	if !res.Failed() {
		t.Fatal("expected failures for empty directory")
	}

	if got := len(res.Failures()); got != 4 {
		t.Errorf("got %d failures; want 4: %v", got, res.Failures())
	}

	if !strings.Contains(out.String(), FailMark) {
		t.Errorf("output missing fail marks:\n%s", out.String())
	}
}

func TestRunValidationFailure(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{
		ConfigPath:      touch(t, dir, "config.yml"),
		CheckpointPath:  touch(t, dir, "generator.safetensors"),
		TokenModelPath:  touch(t, dir, "vq_wav2vec.onnx"),
		PromptModelPath: touch(t, dir, "wavlm_large.onnx"),
		ValidateCheckpoint: func(string) error {
			return errors.New("bad header")
		},
	}

	var out bytes.Buffer

	res := Run(cfg, &out)
	if !res.Failed() {
		t.Fatal("expected a validation failure")
	}

	if !strings.Contains(res.Failures()[0], "bad header") {
		t.Errorf("failure should carry the validation error: %v", res.Failures())
	}
}

func TestRunNoPathConfigured(t *testing.T) {
	var out bytes.Buffer

	res := Run(Config{}, &out)
	if !res.Failed() {
		t.Fatal("expected failures when no paths are configured")
	}
}

func TestResultAddFailure(t *testing.T) {
	var res Result

	res.AddFailure("external check broke")

	if !res.Failed() {
		t.Fatal("Failed() = false after AddFailure")
	}

	if res.Failures()[0] != "external check broke" {
		t.Errorf("Failures()[0] = %q", res.Failures()[0])
	}
}
