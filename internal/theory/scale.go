package theory

import "math"

// GenerateScale returns one frequency per interval: root * 2^(interval/12).
func GenerateScale(root float64, intervals []int) []float64 {
	scale := make([]float64, len(intervals))
	for i, interval := range intervals {
		scale[i] = root * math.Pow(2, float64(interval)/12.0)
	}
	return scale
}
