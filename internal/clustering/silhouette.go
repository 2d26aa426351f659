package clustering

import (
	"math"
)

// SilhouetteScore calculates the silhouette score for a single point:
//
//	-1: point likely in the wrong cluster
//	 0: point on the border between clusters
//	+1: point well matched to its cluster
//
// Noise points are ignored on both sides of the comparison.
func SilhouetteScore(pointIdx int, points [][]float64, labels []int) float64 {
	current := labels[pointIdx]
	if current == NoiseLabel {
		return 0
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, label := range labels {
		if i == pointIdx || label == NoiseLabel {
			continue
		}
		sums[label] += euclidean(points[pointIdx], points[i])
		counts[label]++
	}

	if counts[current] == 0 {
		return 0 // singleton cluster
	}
	a := sums[current] / float64(counts[current])

	b := math.MaxFloat64
	for label, sum := range sums {
		if label == current {
			continue
		}
		if mean := sum / float64(counts[label]); mean < b {
			b = mean
		}
	}
	if b == math.MaxFloat64 {
		return 0 // only one cluster
	}

	switch {
	case a < b:
		return 1 - a/b
	case a > b:
		return b/a - 1
	}
	return 0
}

// AverageSilhouetteScore is the mean score over non-noise points. It returns
// 0 when fewer than two clusters exist.
func AverageSilhouetteScore(points [][]float64, labels []int) float64 {
	if len(Sizes(labels)) < 2 {
		return 0
	}
	var total float64
	var n int
	for i, label := range labels {
		if label == NoiseLabel {
			continue
		}
		total += SilhouetteScore(i, points, labels)
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
