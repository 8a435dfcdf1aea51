package tensor

// DotProduct computes the inner product of a and b over the shorter length.
// The 4-way unroll keeps independent accumulators so the compiler can
// pipeline the multiply-adds.
func DotProduct(a, b []float32) float32 {
	n := min(len(a), len(b))

	var s0, s1, s2, s3 float32

	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}

	sum := s0 + s1 + s2 + s3
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}

	return sum
}

// Axpy computes dst[i] += alpha * x[i] over the shorter length.
func Axpy(alpha float32, x, dst []float32) {
	n := min(len(x), len(dst))

	i := 0
	for ; i+4 <= n; i += 4 {
		dst[i] += alpha * x[i]
		dst[i+1] += alpha * x[i+1]
		dst[i+2] += alpha * x[i+2]
		dst[i+3] += alpha * x[i+3]
	}

	for ; i < n; i++ {
		dst[i] += alpha * x[i]
	}
}
