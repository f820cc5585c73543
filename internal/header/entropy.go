package header

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Entropy returns the Shannon entropy of data in bits per byte.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]float64
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	p := make([]float64, 256)
	for i, c := range counts {
		p[i] = c / n
	}
	// stat.Entropy uses the natural logarithm.
	return stat.Entropy(p) / math.Ln2
}
