package clustering

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// minDistance keeps lambda = 1/distance finite for duplicate points.
const minDistance = 1e-12

// HDBSCANConfig holds configuration for HDBSCAN clustering
type HDBSCANConfig struct {
	MinClusterSize int // Smallest group of items that counts as a cluster
	MinSamples     int // Neighbourhood size (self included) that makes a point a core point
}

// DefaultHDBSCANConfig returns the defaults used for insight clustering
func DefaultHDBSCANConfig() HDBSCANConfig {
	return HDBSCANConfig{
		MinClusterSize: 5,
		MinSamples:     3,
	}
}

// Validate checks the parameters.
func (c HDBSCANConfig) Validate() error {
	if c.MinClusterSize < 2 {
		return fmt.Errorf("min cluster size must be at least 2, got %d", c.MinClusterSize)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("min samples must be at least 1, got %d", c.MinSamples)
	}
	return nil
}

// Result is the outcome of one HDBSCAN run.
type Result struct {
	Labels      []int // one per input point, NoiseLabel for noise
	NumClusters int
	NoiseCount  int
}

// HDBSCAN runs density-based clustering with Euclidean distance and
// excess-of-mass cluster selection. The root of the condensed tree is never
// selected, so a dataset without any split is all noise.
func HDBSCAN(points [][]float64, config HDBSCANConfig) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	n := len(points)
	for i := 1; i < n; i++ {
		if len(points[i]) != len(points[0]) {
			return nil, fmt.Errorf("point %d has %d dimensions, expected %d", i, len(points[i]), len(points[0]))
		}
	}

	result := &Result{Labels: make([]int, n)}
	if n < config.MinClusterSize || n < 2 {
		for i := range result.Labels {
			result.Labels[i] = NoiseLabel
		}
		result.NoiseCount = n
		return result, nil
	}

	core := coreDistances(points, config.MinSamples)
	edges := minimumSpanningTree(points, core)
	hierarchy := singleLinkage(edges, n)
	condensed := condenseTree(hierarchy, n, config.MinClusterSize)
	selected := selectClustersEOM(condensed, n)
	result.Labels = labelPoints(condensed, selected, n)

	result.NumClusters = len(selected)
	for _, l := range result.Labels {
		if l == NoiseLabel {
			result.NoiseCount++
		}
	}
	return result, nil
}

func euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// coreDistances returns, per point, the distance to its minSamples-th
// nearest point with the point itself counted as the first.
func coreDistances(points [][]float64, minSamples int) []float64 {
	n := len(points)
	k := minSamples
	if k > n {
		k = n
	}
	core := make([]float64, n)
	row := make([]float64, n)
	for i := range points {
		for j := range points {
			row[j] = euclidean(points[i], points[j])
		}
		sorted := append([]float64(nil), row...)
		sort.Float64s(sorted)
		core[i] = sorted[k-1]
	}
	return core
}

type mstEdge struct {
	a, b   int
	weight float64
}

// minimumSpanningTree runs Prim's algorithm over the complete
// mutual-reachability graph and returns the n-1 edges sorted by weight.
func minimumSpanningTree(points [][]float64, core []float64) []mstEdge {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := math.Max(euclidean(points[current], points[j]), math.Max(core[current], core[j]))
			if d < best[j] {
				best[j] = d
				from[j] = current
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, weight: best[next]})
		current = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })
	return edges
}

// linkage is one merge of the single-linkage dendrogram. Leaves are 0..n-1,
// merge i creates node n+i.
type linkage struct {
	left, right int
	distance    float64
	size        int
}

func singleLinkage(edges []mstEdge, n int) []linkage {
	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		if i < n {
			size[i] = 1
		}
	}
	find := func(x int) int {
		root := x
		for parent[root] != root {
			root = parent[root]
		}
		for parent[x] != root {
			parent[x], x = root, parent[x]
		}
		return root
	}

	hierarchy := make([]linkage, 0, n-1)
	next := n
	for _, e := range edges {
		a, b := find(e.a), find(e.b)
		hierarchy = append(hierarchy, linkage{left: a, right: b, distance: e.weight, size: size[a] + size[b]})
		parent[a], parent[b] = next, next
		size[next] = size[a] + size[b]
		next++
	}
	return hierarchy
}

// condensedEdge links a cluster to a child cluster (child >= n) or to a
// point that falls out of it (child < n) at the given lambda.
type condensedEdge struct {
	parent, child int
	lambda        float64
	size          int
}

func condenseTree(hierarchy []linkage, n, minClusterSize int) []condensedEdge {
	root := 2*n - 2
	nodeSize := func(node int) int {
		if node < n {
			return 1
		}
		return hierarchy[node-n].size
	}
	leavesOf := func(node int, visit func(int)) {
		stack := []int{node}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top < n {
				visit(top)
				continue
			}
			h := hierarchy[top-n]
			stack = append(stack, h.right, h.left)
		}
	}

	relabel := make(map[int]int, n)
	relabel[root] = n
	nextLabel := n + 1

	var result []condensedEdge
	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < n {
			continue
		}

		h := hierarchy[node-n]
		lambda := 1 / math.Max(h.distance, minDistance)
		label := relabel[node]
		leftSize, rightSize := nodeSize(h.left), nodeSize(h.right)

		fallOut := func(child int) {
			leavesOf(child, func(p int) {
				result = append(result, condensedEdge{parent: label, child: p, lambda: lambda, size: 1})
			})
		}

		switch {
		case leftSize >= minClusterSize && rightSize >= minClusterSize:
			relabel[h.left] = nextLabel
			result = append(result, condensedEdge{parent: label, child: nextLabel, lambda: lambda, size: leftSize})
			nextLabel++
			relabel[h.right] = nextLabel
			result = append(result, condensedEdge{parent: label, child: nextLabel, lambda: lambda, size: rightSize})
			nextLabel++
			queue = append(queue, h.left, h.right)
		case leftSize < minClusterSize && rightSize < minClusterSize:
			fallOut(h.left)
			fallOut(h.right)
		case leftSize < minClusterSize:
			relabel[h.right] = label
			fallOut(h.left)
			queue = append(queue, h.right)
		default:
			relabel[h.left] = label
			fallOut(h.right)
			queue = append(queue, h.left)
		}
	}
	return result
}

// stabilities computes sum((lambda_p - lambda_birth) * size) per cluster.
func stabilities(condensed []condensedEdge, n int) map[int]float64 {
	birth := map[int]float64{n: 0}
	stability := map[int]float64{n: 0}
	for _, e := range condensed {
		if e.child >= n {
			birth[e.child] = e.lambda
			stability[e.child] = 0
		}
	}
	for _, e := range condensed {
		stability[e.parent] += (e.lambda - birth[e.parent]) * float64(e.size)
	}
	return stability
}

// selectClustersEOM picks the excess-of-mass clusters, root excluded.
func selectClustersEOM(condensed []condensedEdge, n int) []int {
	stability := stabilities(condensed, n)
	children := make(map[int][]int)
	for _, e := range condensed {
		if e.child >= n {
			children[e.parent] = append(children[e.parent], e.child)
		}
	}

	nodes := make([]int, 0, len(stability))
	for c := range stability {
		if c != n {
			nodes = append(nodes, c)
		}
	}
	// Children always carry larger ids than their parent, so walking ids in
	// descending order visits every subtree before its root.
	sort.Sort(sort.Reverse(sort.IntSlice(nodes)))

	isCluster := make(map[int]bool, len(nodes))
	for _, c := range nodes {
		isCluster[c] = true
	}
	for _, node := range nodes {
		var subtree float64
		for _, child := range children[node] {
			subtree += stability[child]
		}
		if subtree > stability[node] {
			isCluster[node] = false
			stability[node] = subtree
			continue
		}
		stack := append([]int(nil), children[node]...)
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			isCluster[top] = false
			stack = append(stack, children[top]...)
		}
	}

	var selected []int
	for c, ok := range isCluster {
		if ok {
			selected = append(selected, c)
		}
	}
	sort.Ints(selected)
	return selected
}

// labelPoints maps each point to the selected cluster containing it, or noise.
// Labels are numbered 0..k-1 in ascending cluster id order.
func labelPoints(condensed []condensedEdge, selected []int, n int) []int {
	clusterParent := make(map[int]int)
	pointParent := make([]int, n)
	for _, e := range condensed {
		if e.child >= n {
			clusterParent[e.child] = e.parent
		} else {
			pointParent[e.child] = e.parent
		}
	}
	labelOf := make(map[int]int, len(selected))
	for i, c := range selected {
		labelOf[c] = i
	}

	labels := make([]int, n)
	for p := 0; p < n; p++ {
		labels[p] = NoiseLabel
		c := pointParent[p]
		for {
			if l, ok := labelOf[c]; ok {
				labels[p] = l
				break
			}
			up, ok := clusterParent[c]
			if !ok {
				break
			}
			c = up
		}
	}
	return labels
}
