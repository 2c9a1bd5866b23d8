package speech_extraction

// MedianAbs returns the median absolute amplitude of samples. An even count
// averages the two middle values. A histogram over the 32769 possible
// magnitudes keeps this linear in len(samples).
func MedianAbs(samples []int16) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	hist := make([]int, 32769)
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		hist[v]++
	}

	lo := kth(hist, (n-1)/2)
	hi := lo
	if n%2 == 0 {
		hi = kth(hist, n/2)
	}

	return float64(lo+hi) / 2
}

// kth returns the k-th smallest (0-based) magnitude in hist.
func kth(hist []int, k int) int {
	seen := 0
	for v, count := range hist {
		seen += count
		if seen > k {
			return v
		}
	}
	return len(hist) - 1
}
