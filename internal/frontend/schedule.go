package frontend

import (
	"fmt"

	"github.com/example/vec2wav2/internal/model"
)

// MelPredictionSchedule gives the auxiliary mel-loss weight for a training
// step. The weight is exactly zero once the step passes the configured
// cutoff; the mel head then no longer contributes to the loss.
type MelPredictionSchedule struct {
	lambda    float64
	stopSteps int64
}

func NewMelPredictionSchedule(cfg *model.Config) (*MelPredictionSchedule, error) {
	if cfg.LambdaFrontendMelPrediction < 0 {
		return nil, fmt.Errorf("frontend: lambda_frontend_mel_prediction must be >= 0, got %v", cfg.LambdaFrontendMelPrediction)
	}

	if cfg.FrontendMelPredictionStopSteps < 0 {
		return nil, fmt.Errorf("frontend: frontend_mel_prediction_stop_steps must be >= 0, got %d", cfg.FrontendMelPredictionStopSteps)
	}

	return &MelPredictionSchedule{
		lambda:    cfg.LambdaFrontendMelPrediction,
		stopSteps: cfg.FrontendMelPredictionStopSteps,
	}, nil
}

// Weight returns lambda for step <= stop steps and 0 afterwards.
func (s *MelPredictionSchedule) Weight(step int64) float64 {
	if step > s.stopSteps {
		return 0
	}

	return s.lambda
}
