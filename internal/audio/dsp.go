package audio

import "math"

// PeakNormalize scales samples so the absolute peak hits target (0 < target
// <= 1). Silent input is returned unchanged.
func PeakNormalize(samples []float32, target float32) []float32 {
	if len(samples) == 0 || target <= 0 {
		return samples
	}

	var peak float32

	for _, v := range samples {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return samples
	}

	gain := target / peak

	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = v * gain
	}

	return out
}

// DCBlock removes DC offset with a one-pole high-pass (R = 0.995).
func DCBlock(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	const r = 0.995

	out := make([]float32, len(samples))

	var prevIn, prevOut float32

	for i, v := range samples {
		out[i] = v - prevIn + r*prevOut
		prevIn = v
		prevOut = out[i]
	}

	return out
}

// FadeIn applies a linear ramp over the first durationMs milliseconds.
func FadeIn(samples []float32, durationMs int, sampleRate int) []float32 {
	n := fadeSamples(len(samples), durationMs, sampleRate)
	if n == 0 {
		return samples
	}

	out := append([]float32(nil), samples...)
	for i := range n {
		out[i] *= float32(i) / float32(n)
	}

	return out
}

// FadeOut applies a linear ramp over the last durationMs milliseconds.
func FadeOut(samples []float32, durationMs int, sampleRate int) []float32 {
	n := fadeSamples(len(samples), durationMs, sampleRate)
	if n == 0 {
		return samples
	}

	out := append([]float32(nil), samples...)

	start := len(out) - n
	for i := range n {
		out[start+i] *= float32(n-1-i) / float32(n)
	}

	return out
}

func fadeSamples(total, durationMs, sampleRate int) int {
	if total == 0 || durationMs <= 0 || sampleRate <= 0 {
		return 0
	}

	n := durationMs * sampleRate / 1000
	if n > total {
		n = total
	}

	return n
}
