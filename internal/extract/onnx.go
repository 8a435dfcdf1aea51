package extract

import (
	"context"
	"errors"
	"fmt"
	"os"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// Fixed artifact names inside an experiment directory.
const (
	TokenModelFile  = "vq_wav2vec.onnx"
	PromptModelFile = "wavlm_large.onnx"

	audioInputName = "audio"
)

// Config holds the ORT library settings shared by both extractor sessions.
type Config struct {
	LibraryPath string
	APIVersion  uint32
}

// session owns one ORT graph and its runtime handles.
type session struct {
	name    string
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

func newSession(name, modelPath string, cfg Config) (*session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("extract: %s model: %w", name, err)
	}

	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("extract: ort runtime for %s: %w", name, err)
	}

	env, err := runtime.NewEnv("vec2wav2-"+name, ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("extract: ort env for %s: %w", name, err)
	}

	ortSession, err := runtime.NewSession(env, modelPath, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()

		return nil, fmt.Errorf("extract: ort session for %s (%s): %w", name, modelPath, err)
	}

	return &session{name: name, runtime: runtime, env: env, session: ortSession}, nil
}

// run feeds mono samples as a [1, N] float32 tensor and returns the graph's
// single output value. The caller must close the returned value.
func (s *session) run(ctx context.Context, samples []float32) (*ort.Value, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("extract: %s received no samples", s.name)
	}

	input, err := ort.NewTensorValue(s.runtime, samples, []int64{1, int64(len(samples))})
	if err != nil {
		return nil, fmt.Errorf("extract: %s input tensor: %w", s.name, err)
	}
	defer input.Close()

	outputs, err := s.session.Run(ctx, map[string]*ort.Value{audioInputName: input})
	if err != nil {
		return nil, fmt.Errorf("extract: run %s: %w", s.name, err)
	}

	if len(outputs) != 1 {
		for _, v := range outputs {
			v.Close()
		}

		return nil, fmt.Errorf("extract: %s produced %d outputs, want 1", s.name, len(outputs))
	}

	for _, v := range outputs {
		return v, nil
	}

	return nil, errors.New("extract: unreachable")
}

func (s *session) Close() {
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}

	if s.env != nil {
		s.env.Close()
		s.env = nil
	}

	if s.runtime != nil {
		_ = s.runtime.Close()
		s.runtime = nil
	}
}

// VQWav2Vec runs the exported vq-wav2vec k-means tokenizer.
type VQWav2Vec struct {
	s *session
}

func NewVQWav2Vec(modelPath string, cfg Config) (*VQWav2Vec, error) {
	s, err := newSession("vq-wav2vec", modelPath, cfg)
	if err != nil {
		return nil, err
	}

	return &VQWav2Vec{s: s}, nil
}

func (v *VQWav2Vec) Tokens(ctx context.Context, samples []float32) ([]int64, error) {
	out, err := v.s.run(ctx, samples)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	data, shape, err := ort.GetTensorData[int64](out)
	if err != nil {
		return nil, fmt.Errorf("extract: vq-wav2vec output: %w", err)
	}

	if len(shape) != 2 || shape[0] != 1 {
		return nil, fmt.Errorf("extract: vq-wav2vec output shape %v, want [1 T]", shape)
	}

	if len(data) == 0 {
		return nil, errors.New("extract: vq-wav2vec produced no tokens")
	}

	return append([]int64(nil), data...), nil
}

func (v *VQWav2Vec) Close() { v.s.Close() }

// WavLM runs the exported WavLM-Large encoder for prompt features.
type WavLM struct {
	s *session
}

func NewWavLM(modelPath string, cfg Config) (*WavLM, error) {
	s, err := newSession("wavlm", modelPath, cfg)
	if err != nil {
		return nil, err
	}

	return &WavLM{s: s}, nil
}

func (w *WavLM) Features(ctx context.Context, samples []float32) (*tensor.Tensor, error) {
	out, err := w.s.run(ctx, samples)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	data, shape, err := ort.GetTensorData[float32](out)
	if err != nil {
		return nil, fmt.Errorf("extract: wavlm output: %w", err)
	}

	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("extract: wavlm output shape %v, want [1 T C]", shape)
	}

	return tensor.New(append([]float32(nil), data...), shape[1:])
}

func (w *WavLM) Close() { w.s.Close() }
