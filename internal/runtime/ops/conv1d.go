package ops

import (
	"errors"
	"fmt"

	"github.com/example/vec2wav2/internal/runtime/tensor"
)

// Conv1D performs a deterministic CPU Conv1d.
// input: [batch, in_channels, length]
// kernel: [out_channels, in_channels/groups, kernel_size]
//
// groups=1 takes an im2col fast path; grouped convolutions (the Conformer
// depthwise conv module) use a direct loop.
func Conv1D(input, kernel, bias *tensor.Tensor, stride, padding, dilation, groups int64) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: conv1d requires non-nil input/kernel")
	}

	if stride <= 0 || dilation <= 0 || groups <= 0 {
		return nil, errors.New("ops: conv1d stride/dilation/groups must be > 0")
	}

	inShape := input.Shape()

	kShape := kernel.Shape()
	if len(inShape) != 3 || len(kShape) != 3 {
		return nil, fmt.Errorf("ops: conv1d expects rank-3 input/kernel, got %v and %v", inShape, kShape)
	}

	batch, inCh, length := inShape[0], inShape[1], inShape[2]
	outCh, kInCh, kSize := kShape[0], kShape[1], kShape[2]

	if inCh%groups != 0 || outCh%groups != 0 {
		return nil, fmt.Errorf("ops: conv1d channels (%d in, %d out) not divisible by groups %d", inCh, outCh, groups)
	}

	if kInCh != inCh/groups {
		return nil, fmt.Errorf("ops: conv1d kernel in_channels %d, want %d (in_channels/groups)", kInCh, inCh/groups)
	}

	var biasData []float32

	if bias != nil {
		bShape := bias.Shape()
		if len(bShape) != 1 || bShape[0] != outCh {
			return nil, fmt.Errorf("ops: conv1d bias shape %v does not match out_channels %d", bShape, outCh)
		}

		biasData = bias.RawData()
	}

	outLen := (length+2*padding-dilation*(kSize-1)-1)/stride + 1
	if outLen <= 0 {
		return nil, fmt.Errorf("ops: conv1d produced non-positive output length %d", outLen)
	}

	out, err := tensor.Zeros([]int64{batch, outCh, outLen})
	if err != nil {
		return nil, err
	}

	if groups == 1 {
		conv1DIm2col(input.RawData(), kernel.RawData(), biasData, out.RawData(),
			batch, inCh, length, outCh, kSize, outLen, stride, padding, dilation)

		return out, nil
	}

	conv1DGrouped(input.RawData(), kernel.RawData(), biasData, out.RawData(),
		batch, inCh, length, outCh, kInCh, kSize, outLen,
		inCh/groups, outCh/groups, stride, padding, dilation)

	return out, nil
}

// conv1DIm2col lowers the groups=1 convolution to a GEMM. The patch matrix
// has shape [outLen, inCh*kSize]; each output value is one dot product of a
// contiguous kernel row against a contiguous patch row.
func conv1DIm2col(
	inputData, kernelData, biasData, outData []float32,
	batch, inCh, length, outCh, kSize, outLen,
	stride, padding, dilation int64,
) {
	patchLen := int(inCh * kSize)
	kSizeI := int(kSize)
	outChI := int(outCh)
	outLenI := int(outLen)
	lenI := int(length)

	imcol := getScratch(outLenI * patchLen)
	defer putScratch(imcol)

	for b := range batch {
		if b > 0 {
			// Re-zero so padding positions stay 0 for subsequent batches.
			for i := range imcol {
				imcol[i] = 0
			}
		}

		for ic := range inCh {
			inBase := int(b*inCh+ic) * lenI
			for kx := range kSize {
				col := int(ic)*kSizeI + int(kx)
				for ox := range outLen {
					inPos := ox*stride - padding + kx*dilation
					if inPos >= 0 && inPos < length {
						imcol[int(ox)*patchLen+col] = inputData[inBase+int(inPos)]
					}
				}
			}
		}

		// Output channels are independent; each one owns a disjoint slice of
		// outData and only reads the shared imcol/kernel.
		outBase := int(b) * outChI * outLenI
		parallelFor(outChI, getConvWorkers(), func(ocLo, ocHi int) {
			for oc := ocLo; oc < ocHi; oc++ {
				kernelRow := kernelData[oc*patchLen : (oc+1)*patchLen]

				var biasVal float32
				if biasData != nil {
					biasVal = biasData[oc]
				}

				outRow := outData[outBase+oc*outLenI : outBase+(oc+1)*outLenI]
				for ox := range outLenI {
					outRow[ox] = tensor.DotProduct(kernelRow, imcol[ox*patchLen:(ox+1)*patchLen]) + biasVal
				}
			}
		})
	}
}

func conv1DGrouped(
	inputData, kernelData, biasData, outData []float32,
	batch, inCh, length, outCh, kInCh, kSize, outLen,
	inPerGroup, outPerGroup, stride, padding, dilation int64,
) {
	for b := range batch {
		for oc := range outCh {
			g := oc / outPerGroup
			inStart := g * inPerGroup

			for ox := range outLen {
				var sum float32
				if biasData != nil {
					sum = biasData[oc]
				}

				for ic := range inPerGroup {
					inBase := (b*inCh + inStart + ic) * length
					kBase := (oc*kInCh + ic) * kSize

					for kx := range kSize {
						inPos := ox*stride - padding + kx*dilation
						if inPos < 0 || inPos >= length {
							continue
						}

						sum += inputData[inBase+inPos] * kernelData[kBase+kx]
					}
				}

				outData[(b*outCh+oc)*outLen+ox] = sum
			}
		}
	}
}
