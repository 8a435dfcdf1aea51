package ops

import (
	"sync"
	"sync/atomic"
)

// convWorkers bounds the goroutines used by the convolution fast paths.
// 0 or 1 means sequential. Wired to the --conv-workers flag.
var convWorkers atomic.Int32

// SetConvWorkers sets the number of goroutines used by Conv1D and
// ConvTranspose1D. Zero or negative restores the GOMAXPROCS default.
// n <= 1 disables parallelism.
func SetConvWorkers(n int) {
	if n < 0 {
		n = 0
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if n > maxInt32 {
		n = maxInt32
	}

	convWorkers.Store(int32(n))
}

func getConvWorkers() int { return int(convWorkers.Load()) }

// parallelFor runs fn over [0, n) split into contiguous chunks, one goroutine
// per chunk. Sequential when workers <= 1.
func parallelFor(n, workers int, fn func(lo, hi int)) {
	if workers <= 1 || n <= 1 {
		fn(0, n)
		return
	}

	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup

	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)

		wg.Add(1)

		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}

	wg.Wait()
}

// Scratch buffers for the im2col and kernel-repack paths, pooled by
// power-of-two size class (2^10 .. 2^26 floats). The generator's upsampling
// stack calls these every frame batch, so per-call allocation would dominate.
var scratchPools [17]sync.Pool

// getScratch returns a zeroed []float32 of n elements.
// The caller must return it with putScratch.
func getScratch(n int) []float32 {
	cls := scratchClass(n)

	sz := 1 << (cls + 10)
	if sz < n {
		// Larger than the biggest class; unpooled one-off allocation.
		return make([]float32, n)
	}

	if v := scratchPools[cls].Get(); v != nil {
		buf, ok := v.([]float32)
		if !ok {
			return make([]float32, n)
		}

		buf = buf[:n]
		for i := range buf {
			buf[i] = 0
		}

		return buf
	}

	buf := make([]float32, sz)

	return buf[:n]
}

func putScratch(buf []float32) {
	c := cap(buf)

	cls := scratchClass(c)
	if 1<<(cls+10) < c {
		return
	}

	buf = buf[:c]
	scratchPools[cls].Put(buf)
}

func scratchClass(n int) int {
	if n <= 1<<10 {
		return 0
	}

	bits := 0

	v := n - 1
	for v > 0 {
		v >>= 1
		bits++
	}

	return min(max(bits-10, 0), 16)
}
