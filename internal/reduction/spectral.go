package reduction

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// spectralLayout embeds the graph with the eigenvectors of its normalized
// Laplacian. It returns nil when the graph is disconnected, too small, or the
// decomposition fails; the caller then falls back to a random layout.
func spectralLayout(g *sparseGraph, n, dims int, rng *rand.Rand) [][]float64 {
	if n <= dims+1 || !connected(g) {
		return nil
	}

	degree := make([]float64, n)
	for i, row := range g.rows {
		for _, w := range row {
			degree[i] += w
		}
		if degree[i] == 0 {
			return nil
		}
	}

	laplacian := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		laplacian.SetSym(i, i, 1)
		for j, w := range g.rows[i] {
			if j > i {
				laplacian.SetSym(i, j, -w/math.Sqrt(degree[i]*degree[j]))
			}
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(laplacian, true); !ok {
		return nil
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues come back ascending; the first vector is trivial.
	embedding := make([][]float64, n)
	var maxAbs float64
	for i := range embedding {
		embedding[i] = make([]float64, dims)
		for d := 0; d < dims; d++ {
			v := vectors.At(i, d+1)
			embedding[i][d] = v
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
	}
	if maxAbs == 0 {
		return nil
	}
	expansion := 10 / maxAbs
	for _, p := range embedding {
		for d := range p {
			p[d] = p[d]*expansion + rng.NormFloat64()*1e-4
		}
	}
	return embedding
}

func connected(g *sparseGraph) bool {
	if g.n == 0 {
		return false
	}
	seen := make([]bool, g.n)
	seen[0] = true
	stack := []int{0}
	count := 1
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for j, w := range g.rows[top] {
			if w > 0 && !seen[j] {
				seen[j] = true
				count++
				stack = append(stack, j)
			}
		}
	}
	return count == g.n
}
