// Package reduction maps high-dimensional embeddings to a low-dimensional
// space with UMAP. Runs are single-threaded and seeded, so identical input
// and configuration always produce identical output.
package reduction

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrTooFewPoints is returned when fewer than two vectors are supplied.
var ErrTooFewPoints = errors.New("UMAP needs at least 2 points")

// Config holds UMAP parameters
type Config struct {
	Components         int     // target dimensionality
	Neighbors          int     // kNN size (self included); clamped to N-1
	MinDist            float64 // minimum distance between embedded points
	Spread             float64 // scale of embedded points
	Epochs             int     // 0 selects 500 for N <= 10000, else 200
	NegativeSampleRate int
	LearningRate       float64
	Seed               int64
	// MaxSpectralPoints bounds the dense eigendecomposition used for
	// initialisation; larger inputs start from a seeded random layout.
	MaxSpectralPoints int
}

// DefaultConfig returns the parameters used for reduced embeddings
func DefaultConfig() Config {
	return Config{
		Components:         5,
		Neighbors:          15,
		MinDist:            0.1,
		Spread:             1.0,
		NegativeSampleRate: 5,
		LearningRate:       1.0,
		Seed:               42,
		MaxSpectralPoints:  3000,
	}
}

func (c Config) validate() error {
	if c.Components < 1 {
		return fmt.Errorf("components must be positive, got %d", c.Components)
	}
	if c.Neighbors < 2 {
		return fmt.Errorf("neighbors must be at least 2, got %d", c.Neighbors)
	}
	if c.Spread <= 0 || c.MinDist < 0 || c.MinDist > c.Spread {
		return fmt.Errorf("min_dist must be in [0, spread], got min_dist=%v spread=%v", c.MinDist, c.Spread)
	}
	return nil
}

// Result is a fitted layout.
type Result struct {
	Embedding [][]float64
	Neighbors int    // neighbors actually used after clamping
	Init      string // "spectral" or "random"
	Epochs    int
}

// Reduce fits UMAP on vectors using cosine distance.
func Reduce(vectors [][]float64, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := len(vectors)
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewPoints, n)
	}
	for i := 1; i < n; i++ {
		if len(vectors[i]) != len(vectors[0]) {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(vectors[i]), len(vectors[0]))
		}
	}

	k := cfg.Neighbors
	if k > n-1 {
		k = n - 1
	}
	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = 500
		if n > 10000 {
			epochs = 200
		}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	indices, distances := nearestNeighbors(vectors, k)
	sigmas, rhos := smoothKNNDist(distances, k)
	graph := fuzzySimplicialSet(indices, distances, sigmas, rhos)
	edges := graph.edges()

	a, b := FitAB(cfg.Spread, cfg.MinDist)

	result := &Result{Neighbors: k, Epochs: epochs}
	var embedding [][]float64
	if n <= cfg.MaxSpectralPoints || cfg.MaxSpectralPoints == 0 {
		embedding = spectralLayout(graph, n, cfg.Components, rng)
	}
	if embedding != nil {
		result.Init = "spectral"
	} else {
		embedding = randomLayout(n, cfg.Components, rng)
		result.Init = "random"
	}
	rescale(embedding)

	optimizeLayout(embedding, pruneEdges(edges, epochs), epochs, a, b, cfg, rng)
	result.Embedding = embedding
	return result, nil
}

// cosineDistance returns 1 - cos(x, y); zero vectors are treated as
// maximally distant from everything except other zero vectors.
func cosineDistance(x, y []float64) float64 {
	var dot, nx, ny float64
	for i := range x {
		dot += x[i] * y[i]
		nx += x[i] * x[i]
		ny += y[i] * y[i]
	}
	switch {
	case nx == 0 && ny == 0:
		return 0
	case nx == 0 || ny == 0:
		return 1
	}
	d := 1 - dot/math.Sqrt(nx*ny)
	if d < 0 {
		return 0
	}
	return d
}

// nearestNeighbors computes the exact k nearest neighbors per point. The
// point itself is always its own first neighbor.
func nearestNeighbors(vectors [][]float64, k int) ([][]int, [][]float64) {
	n := len(vectors)
	indices := make([][]int, n)
	distances := make([][]float64, n)

	order := make([]int, n)
	dist := make([]float64, n)
	for i := range vectors {
		for j := range vectors {
			order[j] = j
			if i == j {
				dist[j] = 0
			} else {
				dist[j] = cosineDistance(vectors[i], vectors[j])
			}
		}
		sort.SliceStable(order, func(a, b int) bool {
			da, db := dist[order[a]], dist[order[b]]
			if da != db {
				return da < db
			}
			// self first among ties at zero
			return order[a] == i && order[b] != i
		})
		indices[i] = make([]int, k)
		distances[i] = make([]float64, k)
		for m := 0; m < k; m++ {
			indices[i][m] = order[m]
			distances[i][m] = dist[order[m]]
		}
	}
	return indices, distances
}

// smoothKNNDist finds per point rho (distance to the nearest neighbor) and
// sigma such that sum(exp(-(d - rho)/sigma)) = log2(k).
func smoothKNNDist(distances [][]float64, k int) (sigmas, rhos []float64) {
	const (
		iterations = 64
		tolerance  = 1e-5
		minScale   = 1e-3
	)
	n := len(distances)
	sigmas = make([]float64, n)
	rhos = make([]float64, n)
	target := math.Log2(float64(k))

	var globalMean float64
	for _, row := range distances {
		for _, d := range row {
			globalMean += d
		}
	}
	globalMean /= float64(n * k)

	for i, row := range distances {
		for _, d := range row {
			if d > 0 {
				rhos[i] = d
				break
			}
		}

		lo, hi, mid := 0.0, math.Inf(1), 1.0
		for iter := 0; iter < iterations; iter++ {
			var psum float64
			for j := 1; j < len(row); j++ {
				if d := row[j] - rhos[i]; d > 0 {
					psum += math.Exp(-d / mid)
				} else {
					psum++
				}
			}
			if math.Abs(psum-target) < tolerance {
				break
			}
			if psum > target {
				hi = mid
				mid = (lo + hi) / 2
			} else {
				lo = mid
				if math.IsInf(hi, 1) {
					mid *= 2
				} else {
					mid = (lo + hi) / 2
				}
			}
		}
		sigmas[i] = mid

		mean := globalMean
		if rhos[i] > 0 {
			mean = 0
			for _, d := range row {
				mean += d
			}
			mean /= float64(len(row))
		}
		if sigmas[i] < minScale*mean {
			sigmas[i] = minScale * mean
		}
	}
	return sigmas, rhos
}

// sparseGraph is a symmetric weighted graph stored as per-row maps.
type sparseGraph struct {
	n    int
	rows []map[int]float64
}

type graphEdge struct {
	head, tail int
	weight     float64
}

// edges returns every non-zero entry (both directions) in row-major order.
func (g *sparseGraph) edges() []graphEdge {
	var edges []graphEdge
	for i, row := range g.rows {
		cols := make([]int, 0, len(row))
		for j := range row {
			cols = append(cols, j)
		}
		sort.Ints(cols)
		for _, j := range cols {
			if w := row[j]; w > 0 {
				edges = append(edges, graphEdge{head: i, tail: j, weight: w})
			}
		}
	}
	return edges
}

// fuzzySimplicialSet builds the membership graph and symmetrises it with the
// probabilistic t-conorm A + Aᵀ - A∘Aᵀ.
func fuzzySimplicialSet(indices [][]int, distances [][]float64, sigmas, rhos []float64) *sparseGraph {
	n := len(indices)
	directed := make([]map[int]float64, n)
	for i := range indices {
		directed[i] = make(map[int]float64, len(indices[i]))
		for m, j := range indices[i] {
			if j == i {
				continue
			}
			var w float64
			if d := distances[i][m] - rhos[i]; d <= 0 || sigmas[i] == 0 {
				w = 1
			} else {
				w = math.Exp(-d / sigmas[i])
			}
			directed[i][j] = w
		}
	}

	g := &sparseGraph{n: n, rows: make([]map[int]float64, n)}
	for i := range g.rows {
		g.rows[i] = make(map[int]float64)
	}
	for i, row := range directed {
		for j, w := range row {
			wt := directed[j][i]
			v := w + wt - w*wt
			g.rows[i][j] = v
			g.rows[j][i] = v
		}
	}
	return g
}

// pruneEdges drops edges too weak to be sampled once during the run.
func pruneEdges(edges []graphEdge, epochs int) []graphEdge {
	var maxWeight float64
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}
	kept := edges[:0:0]
	for _, e := range edges {
		if e.weight >= maxWeight/float64(epochs) {
			kept = append(kept, e)
		}
	}
	return kept
}

func randomLayout(n, dims int, rng *rand.Rand) [][]float64 {
	embedding := make([][]float64, n)
	for i := range embedding {
		embedding[i] = make([]float64, dims)
		for d := range embedding[i] {
			embedding[i][d] = rng.Float64()*20 - 10
		}
	}
	return embedding
}

// rescale maps every coordinate column onto [0, 10].
func rescale(embedding [][]float64) {
	if len(embedding) == 0 {
		return
	}
	for d := range embedding[0] {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range embedding {
			lo = math.Min(lo, p[d])
			hi = math.Max(hi, p[d])
		}
		span := hi - lo
		for _, p := range embedding {
			if span == 0 {
				p[d] = 0
			} else {
				p[d] = 10 * (p[d] - lo) / span
			}
		}
	}
}

func clip(v float64) float64 {
	const limit = 4.0
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// optimizeLayout runs the SGD of the UMAP cross-entropy with negative sampling.
func optimizeLayout(embedding [][]float64, edges []graphEdge, epochs int, a, b float64, cfg Config, rng *rand.Rand) {
	if len(edges) == 0 {
		return
	}
	n := len(embedding)
	dims := len(embedding[0])

	var maxWeight float64
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}
	epochsPerSample := make([]float64, len(edges))
	for i, e := range edges {
		epochsPerSample[i] = float64(epochs) / (float64(epochs) * e.weight / maxWeight)
	}
	negRate := float64(cfg.NegativeSampleRate)
	if negRate <= 0 {
		negRate = 5
	}
	epochsPerNegative := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))
	for i := range edges {
		epochsPerNegative[i] = epochsPerSample[i] / negRate
		nextSample[i] = epochsPerSample[i]
		nextNegative[i] = epochsPerNegative[i]
	}
	learningRate := cfg.LearningRate
	if learningRate <= 0 {
		learningRate = 1
	}

	for epoch := 0; epoch < epochs; epoch++ {
		alpha := learningRate * (1 - float64(epoch)/float64(epochs))
		for i, e := range edges {
			if nextSample[i] > float64(epoch) {
				continue
			}
			current, other := embedding[e.head], embedding[e.tail]

			d2 := squaredDistance(current, other)
			var coeff float64
			if d2 > 0 {
				coeff = -2 * a * b * math.Pow(d2, b-1) / (a*math.Pow(d2, b) + 1)
			}
			for d := 0; d < dims; d++ {
				grad := clip(coeff * (current[d] - other[d]))
				current[d] += grad * alpha
				other[d] -= grad * alpha
			}
			nextSample[i] += epochsPerSample[i]

			negatives := int((float64(epoch) - nextNegative[i]) / epochsPerNegative[i])
			for p := 0; p < negatives; p++ {
				k := rng.Intn(n)
				if k == e.head {
					continue
				}
				other := embedding[k]
				d2 := squaredDistance(current, other)
				var coeff float64
				if d2 > 0 {
					coeff = 2 * b / ((0.001 + d2) * (a*math.Pow(d2, b) + 1))
				}
				for d := 0; d < dims; d++ {
					grad := 4.0
					if coeff > 0 {
						grad = clip(coeff * (current[d] - other[d]))
					}
					current[d] += grad * alpha
				}
			}
			nextNegative[i] += float64(negatives) * epochsPerNegative[i]
		}
	}
}

func squaredDistance(x, y []float64) float64 {
	var s float64
	for i := range x {
		d := x[i] - y[i]
		s += d * d
	}
	return s
}
