package signals

import (
	"math"

	"github.com/markcheno/go-talib"
)

// rollingSum returns the trailing sum over window observations. The first
// window-1 positions, and any window touching a non-finite input, are NaN.
func rollingSum(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if window <= 0 || len(values) < window {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	if allFinite(values) {
		sums := talib.Sum(values, window)
		copy(out, sums)
		for i := 0; i < window-1; i++ {
			out[i] = math.NaN()
		}
		return out
	}

	// talib carries a running total, so one NaN would poison every later
	// window. Sum each window directly instead.
	for i := range values {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for _, v := range values[i-window+1 : i+1] {
			sum += v
		}
		if math.IsInf(sum, 0) {
			sum = math.NaN()
		}
		out[i] = sum
	}
	return out
}

// shift moves values lag positions later, filling the head with NaN.
func shift(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < lag {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i-lag]
	}
	return out
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
