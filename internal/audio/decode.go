// Package audio handles WAV I/O and the light DSP applied around conversion.
package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// Input contract for source and prompt utterances.
const (
	ExpectedChannels = 1
	ExpectedBitDepth = 16
)

// ErrFormatMismatch is returned when a decoded WAV is not mono 16-bit PCM.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// Decode decodes WAV bytes into float32 PCM samples and the file's sample
// rate. Multi-channel or non-16-bit input fails fast; sample rate is the
// caller's concern (the extractors resample to their own rate).
func Decode(data []byte) ([]float32, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("audio: empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: invalid WAV file")
	}

	if dec.NumChans != ExpectedChannels {
		return nil, 0, fmt.Errorf("audio: %w: %d channels, want mono", ErrFormatMismatch, dec.NumChans)
	}

	if dec.BitDepth != ExpectedBitDepth {
		return nil, 0, fmt.Errorf("audio: %w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, ExpectedBitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: reading PCM data: %w", err)
	}

	if len(buf.Data) == 0 {
		return nil, 0, errors.New("audio: WAV file holds no samples")
	}

	return buf.Data, int(dec.SampleRate), nil
}
