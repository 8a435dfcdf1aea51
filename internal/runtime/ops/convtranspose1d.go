package ops

import (
	"errors"
	"fmt"

	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// RepackConvTransposeKernel repacks a ConvTranspose1D weight from the standard
// [inCh, outCh, kSize] layout into [kSize, outCh, inCh] so every (kx, oc)
// slice is contiguous for the dot-product kernel. Do this once at load time
// and hand the result to ConvTranspose1DPrePacked; the upsampling stack calls
// the transpose conv on every conversion.
func RepackConvTransposeKernel(kernel *tensor.Tensor) []float32 {
	s := kernel.Shape()
	inChI, outChI, kSizeI := int(s[0]), int(s[1]), int(s[2])
	data := kernel.RawData()

	packed := make([]float32, kSizeI*outChI*inChI)
	for ic := range inChI {
		for oc := range outChI {
			for kx := range kSizeI {
				packed[(kx*outChI+oc)*inChI+ic] = data[(ic*outChI+oc)*kSizeI+kx]
			}
		}
	}

	return packed
}

// ConvTranspose1D performs a deterministic CPU ConvTranspose1d.
// input: [batch, in_channels, length]
// kernel: [in_channels, out_channels/groups, kernel_size]
func ConvTranspose1D(input, kernel, bias *tensor.Tensor, stride, padding, outputPadding, dilation, groups int64) (*tensor.Tensor, error) {
	return convTranspose1D(input, kernel, bias, nil, stride, padding, outputPadding, dilation, groups)
}

// ConvTranspose1DPrePacked is ConvTranspose1D with a kernel already repacked
// by RepackConvTransposeKernel. groups must be 1.
func ConvTranspose1DPrePacked(input, kernel, bias *tensor.Tensor, packed []float32, stride, padding, outputPadding, dilation, groups int64) (*tensor.Tensor, error) {
	if groups != 1 {
		return nil, fmt.Errorf("ops: prepacked convtranspose1d requires groups=1, got %d", groups)
	}

	if packed == nil {
		return ConvTranspose1D(input, kernel, bias, stride, padding, outputPadding, dilation, groups)
	}

	return convTranspose1D(input, kernel, bias, packed, stride, padding, outputPadding, dilation, groups)
}

func convTranspose1D(input, kernel, bias *tensor.Tensor, packed []float32, stride, padding, outputPadding, dilation, groups int64) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: convtranspose1d requires non-nil input/kernel")
	}

	if stride <= 0 || dilation <= 0 || groups <= 0 {
		return nil, errors.New("ops: convtranspose1d stride/dilation/groups must be > 0")
	}

	if outputPadding < 0 || outputPadding >= stride {
		return nil, fmt.Errorf("ops: convtranspose1d output_padding must be in [0, stride), got %d", outputPadding)
	}

	inShape := input.Shape()

	kShape := kernel.Shape()
	if len(inShape) != 3 || len(kShape) != 3 {
		return nil, fmt.Errorf("ops: convtranspose1d expects rank-3 input/kernel, got %v and %v", inShape, kShape)
	}

	batch, inCh, inLen := inShape[0], inShape[1], inShape[2]
	outPerGroup, kSize := kShape[1], kShape[2]

	if kShape[0] != inCh {
		return nil, fmt.Errorf("ops: convtranspose1d kernel in_channels %d does not match input %d", kShape[0], inCh)
	}

	if inCh%groups != 0 {
		return nil, fmt.Errorf("ops: convtranspose1d in_channels %d must be divisible by groups %d", inCh, groups)
	}

	outCh := outPerGroup * groups
	inPerGroup := inCh / groups

	var biasData []float32

	if bias != nil {
		bShape := bias.Shape()
		if len(bShape) != 1 || bShape[0] != outCh {
			return nil, fmt.Errorf("ops: convtranspose1d bias shape %v does not match out_channels %d", bShape, outCh)
		}

		biasData = bias.RawData()
	}

	outLen := (inLen-1)*stride - 2*padding + dilation*(kSize-1) + outputPadding + 1
	if outLen <= 0 {
		return nil, fmt.Errorf("ops: convtranspose1d produced non-positive output length %d", outLen)
	}

	out, err := tensor.Zeros([]int64{batch, outCh, outLen})
	if err != nil {
		return nil, err
	}

	if packed != nil {
		want := int(inCh * outPerGroup * kSize)
		if len(packed) != want {
			return nil, fmt.Errorf("ops: prepacked kernel length %d, want %d", len(packed), want)
		}
	}

	if groups == 1 {
		convTranspose1DGroups1(input.RawData(), kernel.RawData(), biasData, packed, out.RawData(),
			batch, inCh, inLen, outCh, kSize, outLen, stride, padding, dilation)

		return out, nil
	}

	convTranspose1DGrouped(input.RawData(), kernel.RawData(), out.RawData(),
		batch, inCh, inLen, outCh, kSize, outLen, inPerGroup, outPerGroup, stride, padding, dilation)

	if biasData != nil {
		for b := range batch {
			for oc := range outCh {
				base := (b*outCh + oc) * outLen
				for ox := range outLen {
					out.RawData()[base+ox] += biasData[oc]
				}
			}
		}
	}

	return out, nil
}

// convTranspose1DGroups1 gathers each output channel as a series of dot
// products over the channel dimension. Input is transposed to [inLen, inCh]
// once per batch so those dot products run over contiguous memory.
func convTranspose1DGroups1(
	inputData, kernelData, biasData, packed, outData []float32,
	batch, inCh, inLen, outCh, kSize, outLen,
	stride, padding, dilation int64,
) {
	inChI := int(inCh)
	inLenI := int(inLen)
	outChI := int(outCh)
	outLenI := int(outLen)
	kSizeI := int(kSize)

	if packed == nil {
		packed = getScratch(kSizeI * outChI * inChI)
		defer putScratch(packed)

		for ic := range inChI {
			for oc := range outChI {
				for kx := range kSizeI {
					packed[(kx*outChI+oc)*inChI+ic] = kernelData[(ic*outChI+oc)*kSizeI+kx]
				}
			}
		}
	}

	inputT := getScratch(inLenI * inChI)
	defer putScratch(inputT)

	for b := range batch {
		bI := int(b)

		if b > 0 {
			for i := range inputT {
				inputT[i] = 0
			}
		}

		for ic := range inChI {
			src := inputData[(bI*inChI+ic)*inLenI : (bI*inChI+ic+1)*inLenI]
			for ix, v := range src {
				inputT[ix*inChI+ic] = v
			}
		}

		outBase := bI * outChI * outLenI
		outBatch := outData[outBase : outBase+outChI*outLenI]
		parallelFor(outChI, getConvWorkers(), func(ocLo, ocHi int) {
			for oc := ocLo; oc < ocHi; oc++ {
				outRow := outBatch[oc*outLenI : (oc+1)*outLenI]
				for kx := range kSizeI {
					kOff := (kx*outChI + oc) * inChI
					kernelRow := packed[kOff : kOff+inChI]

					for ix := range inLenI {
						outPos := int64(ix)*stride - padding + int64(kx)*dilation
						if outPos < 0 || outPos >= outLen {
							continue
						}

						outRow[outPos] += tensor.DotProduct(kernelRow, inputT[ix*inChI:(ix+1)*inChI])
					}
				}

				if biasData != nil {
					bv := biasData[oc]
					for i := range outRow {
						outRow[i] += bv
					}
				}
			}
		})
	}
}

func convTranspose1DGrouped(
	inputData, kernelData, outData []float32,
	batch, inCh, inLen, outCh, kSize, outLen,
	inPerGroup, outPerGroup, stride, padding, dilation int64,
) {
	for b := range batch {
		for ic := range inCh {
			g := ic / inPerGroup
			ocBase := g * outPerGroup

			for ix := range inLen {
				inVal := inputData[(b*inCh+ic)*inLen+ix]
				if inVal == 0 {
					continue
				}

				for ocg := range outPerGroup {
					kBase := (ic*outPerGroup + ocg) * kSize
					outRow := outData[(b*outCh+ocBase+ocg)*outLen : (b*outCh+ocBase+ocg+1)*outLen]

					for kx := range kSize {
						outPos := ix*stride - padding + kx*dilation
						if outPos >= 0 && outPos < outLen {
							outRow[outPos] += inVal * kernelData[kBase+kx]
						}
					}
				}
			}
		}
	}
}
