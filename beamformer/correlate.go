package beamformer

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// EstimateLag returns the lag that maximizes the cross-correlation
// sum(ref[l] * ch[l-lag]) of the z-scored signals. A channel that trails the
// reference by d samples yields -d. Ties resolve to the smallest lag. When
// maxLag > 0 only lags in [-maxLag, maxLag] are considered. A channel without
// variance carries no timing information and yields 0.
func EstimateLag(ref, ch []int16, maxLag int) int {
	n := len(ref)
	if len(ch) < n {
		n = len(ch)
	}
	if n == 0 {
		return 0
	}

	a, okA := zscore(ref[:n])
	b, okB := zscore(ch[:n])
	if !okA || !okB {
		return 0
	}

	size := 1
	for size < 2*n-1 {
		size <<= 1
	}

	fa := fft.FFT(padComplex(a, size))
	fb := fft.FFT(padComplex(b, size))

	prod := make([]complex128, size)
	for i := range prod {
		prod[i] = fa[i] * cmplx.Conj(fb[i])
	}

	r := fft.IFFT(prod)

	limit := n - 1
	if maxLag > 0 && maxLag < limit {
		limit = maxLag
	}

	best := -limit
	bestVal := math.Inf(-1)
	for lag := -limit; lag <= limit; lag++ {
		v := real(r[(lag+size)%size])
		if v > bestVal {
			best, bestVal = lag, v
		}
	}

	return best
}

func zscore(x []int16) ([]float64, bool) {
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))

	var variance float64
	for _, v := range x {
		d := float64(v) - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(x)))
	if std == 0 {
		return nil, false
	}

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (float64(v) - mean) / std
	}

	return out, true
}

func padComplex(x []float64, size int) []complex128 {
	out := make([]complex128, size)
	for i, v := range x {
		out[i] = complex(v, 0)
	}
	return out
}

// Shift moves x by lag samples keeping its length. A positive lag delays the
// signal (zeros in front), a negative lag advances it (zeros at the end).
func Shift(x []int16, lag int) []int16 {
	out := make([]int16, len(x))

	switch {
	case lag >= len(x) || -lag >= len(x):
	case lag >= 0:
		copy(out[lag:], x[:len(x)-lag])
	default:
		copy(out, x[-lag:])
	}

	return out
}
