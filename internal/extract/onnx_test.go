package extract

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/vec2wav2/internal/testutil"
)

func TestNewSessionMissingModelFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), TokenModelFile)

	_, err := NewVQWav2Vec(missing, Config{})
	if err == nil {
		t.Fatal("expected error for missing model file")
	}

	if !strings.Contains(err.Error(), missing) {
		t.Fatalf("error should name the missing path: %v", err)
	}

	if _, err := NewWavLM(filepath.Join(t.TempDir(), PromptModelFile), Config{}); err == nil {
		t.Fatal("expected error for missing wavlm model")
	}
}

func TestExtractorsAgainstPretrained(t *testing.T) {
	libPath := testutil.RequireONNXRuntime(t)
	dir := testutil.RequirePretrainedDir(t)

	cfg := Config{LibraryPath: libPath}

	tok, err := NewVQWav2Vec(filepath.Join(dir, TokenModelFile), cfg)
	if err != nil {
		t.Skipf("token extractor unavailable: %v", err)
	}
	defer tok.Close()

	enc, err := NewWavLM(filepath.Join(dir, PromptModelFile), cfg)
	if err != nil {
		t.Skipf("prompt encoder unavailable: %v", err)
	}
	defer enc.Close()

	// One second of silence at the extractor rate.
	samples := make([]float32, 16000)
	ctx := context.Background()

	tokens, err := tok.Tokens(ctx, samples)
	if err != nil {
		t.Fatalf("Tokens: %v", err)
	}

	if len(tokens) == 0 {
		t.Fatal("no tokens produced")
	}

	feats, err := enc.Features(ctx, samples)
	if err != nil {
		t.Fatalf("Features: %v", err)
	}

	if feats.Rank() != 2 || feats.Shape()[0] == 0 {
		t.Fatalf("unexpected feature shape %v", feats.Shape())
	}
}
