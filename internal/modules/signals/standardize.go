package signals

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Standardize z-scores values cross-sectionally using the sample standard
// deviation. NaN inputs are excluded from the statistics and stay NaN.
//
// When fewer than two values are present or the deviation is zero every
// output is NaN and ok is false.
func Standardize(values []float64) (out []float64, ok bool) {
	out = make([]float64, len(values))
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}

	if len(present) < 2 {
		fillNaN(out)
		return out, false
	}

	mean, std := stat.MeanStdDev(present, nil)
	if std == 0 || math.IsNaN(std) {
		fillNaN(out)
		return out, false
	}

	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out, true
}

func fillNaN(values []float64) {
	for i := range values {
		values[i] = math.NaN()
	}
}
