package audio

import "fmt"

// ExtractorSampleRate is the rate the vq-wav2vec and WavLM extractors expect.
const ExtractorSampleRate = 16000

// Resample converts samples between rates with linear interpolation. Linear
// interpolation is adequate here: the extractors downstream are robust to
// the mild aliasing it introduces at speech bandwidths.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", fromRate, toRate)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("audio: no samples to resample")
	}

	if fromRate == toRate {
		return append([]float32(nil), samples...), nil
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float32, outLen)
	ratio := float64(fromRate) / float64(toRate)

	for i := range out {
		srcPos := float64(i) * ratio

		idx := int(srcPos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}

		frac := float32(srcPos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return out, nil
}
