// Package clustering implements density-based clustering of item embeddings
// and the centroid geometry the labeler relies on.
package clustering

import (
	"fmt"
	"sort"

	"dora/internal/core"

	"gonum.org/v1/gonum/floats"
)

// NoiseLabel marks points that belong to no cluster.
const NoiseLabel = core.NoiseLabel

// DefaultNearestK is how many near-centroid members are shown to the labeler.
const DefaultNearestK = 10

// Neighbor is a cluster member and its distance to the centroid.
type Neighbor struct {
	Member   core.Member
	Distance float64
}

// Centroid returns the component-wise mean of the vectors.
func Centroid(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("cannot compute centroid of zero vectors")
	}
	centroid := make([]float64, len(vectors[0]))
	for i, v := range vectors {
		if len(v) != len(centroid) {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), len(centroid))
		}
		floats.Add(centroid, v)
	}
	floats.Scale(1/float64(len(vectors)), centroid)
	return centroid, nil
}

// NearestToCentroid returns up to k members ordered by non-decreasing
// Euclidean distance to the mean of all member vectors. Ties keep item id order.
func NearestToCentroid(members []core.Member, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	vectors := make([][]float64, len(members))
	for i, m := range members {
		vectors[i] = m.Vector
	}
	centroid, err := Centroid(vectors)
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, len(members))
	for i, m := range members {
		neighbors[i] = Neighbor{Member: m, Distance: floats.Distance(m.Vector, centroid, 2)}
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Member.ItemID < neighbors[j].Member.ItemID
	})

	if k > len(neighbors) {
		k = len(neighbors)
	}
	return neighbors[:k], nil
}

// Sizes counts members per label, noise excluded.
func Sizes(labels []int) map[int]int {
	sizes := make(map[int]int)
	for _, l := range labels {
		if l != NoiseLabel {
			sizes[l]++
		}
	}
	return sizes
}
