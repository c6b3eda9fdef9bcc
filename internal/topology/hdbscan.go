package topology

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// Selection is the rule used to flatten the condensed cluster tree.
type Selection string

// Supported selection rules.
const (
	// SelectionEOM keeps the clusters with the largest excess of mass (stability).
	SelectionEOM Selection = "eom"
	// SelectionLeaf keeps the leaves of the condensed tree, giving finer clusters.
	SelectionLeaf Selection = "leaf"
)

const (
	noiseLabel = -1
	// minLinkDistance caps lambda for identical points.
	minLinkDistance = 1e-12
)

// ParseSelection validates a configured selection rule.
func ParseSelection(s string) (Selection, error) {
	switch sel := Selection(strings.ToLower(strings.TrimSpace(s))); sel {
	case SelectionEOM, SelectionLeaf:
		return sel, nil
	case "":
		return SelectionEOM, nil
	default:
		return "", fmt.Errorf("%w: unknown cluster selection %q", errors.ErrInvalidConfig, s)
	}
}

type hdbscanParams struct {
	minClusterSize int
	minSamples     int
	selection      Selection
	distance       DistanceFunc
}

type mstEdge struct {
	a, b   int
	weight float64
}

type linkageNode struct {
	left, right int
	dist        float64
	size        int
}

type condensedEdge struct {
	parent    int
	child     int
	lambda    float64
	childSize int
}

// clusterLabels runs HDBSCAN over points and returns one label per point,
// noiseLabel for noise and 0..k-1 for the selected clusters.
func clusterLabels(points [][]float32, p hdbscanParams) []int {
	n := len(points)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}

	if n < 2 || n < p.minClusterSize {
		return labels
	}

	core := coreDistances(points, p.minSamples, p.distance)
	edges := primMST(points, core, p.distance)
	tree := singleLinkage(edges, n)
	condensed, numLabels := condenseTree(tree, n, p.minClusterSize)
	stability := clusterStability(condensed, n, numLabels)

	var selected []bool
	if p.selection == SelectionLeaf {
		selected = selectLeaves(condensed, n, numLabels)
	} else {
		selected = selectEOM(condensed, stability, n, numLabels)
	}

	return labelPoints(condensed, selected, n, numLabels)
}

// coreDistances returns, per point, the distance to its k-th nearest neighbour
// counting the point itself.
func coreDistances(points [][]float32, k int, dist DistanceFunc) []float64 {
	n := len(points)
	if k < 1 {
		k = 1
	}

	if k > n {
		k = n
	}

	core := make([]float64, n)
	row := make([]float64, n)

	for i := range points {
		for j := range points {
			if i == j {
				row[j] = 0
				continue
			}

			row[j] = dist(points[i], points[j])
		}

		sorted := append([]float64(nil), row...)
		sort.Float64s(sorted)
		core[i] = sorted[k-1]
	}

	return core
}

func mutualReachability(points [][]float32, core []float64, dist DistanceFunc, i, j int) float64 {
	d := dist(points[i], points[j])

	return math.Max(d, math.Max(core[i], core[j]))
}

// primMST builds the minimum spanning tree of the mutual reachability graph
// without materialising the dense distance matrix.
func primMST(points [][]float32, core []float64, dist DistanceFunc) []mstEdge {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)

	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[current] = true

	for len(edges) < n-1 {
		next := -1

		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}

			if d := mutualReachability(points, core, dist, current, j); d < best[j] {
				best[j] = d
				from[j] = current
			}

			if next == -1 || best[j] < best[next] {
				next = j
			}
		}

		edges = append(edges, mstEdge{a: from[next], b: next, weight: best[next]})
		inTree[next] = true
		current = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	return edges
}

// singleLinkage turns sorted MST edges into a dendrogram. Node ids below n are
// points, node n+i is the i-th merge.
func singleLinkage(edges []mstEdge, n int) []linkageNode {
	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)

	for i := range parent {
		parent[i] = i
		if i < n {
			size[i] = 1
		}
	}

	var find func(int) int

	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}

		return x
	}

	tree := make([]linkageNode, 0, n-1)

	for i, e := range edges {
		a, b := find(e.a), find(e.b)
		node := n + i
		size[node] = size[a] + size[b]
		parent[a] = node
		parent[b] = node
		tree = append(tree, linkageNode{left: a, right: b, dist: e.weight, size: size[node]})
	}

	return tree
}

func nodeSize(tree []linkageNode, n, node int) int {
	if node < n {
		return 1
	}

	return tree[node-n].size
}

// subtree returns node and every descendant in the dendrogram.
func subtree(tree []linkageNode, n, node int) []int {
	out := []int{node}

	for i := 0; i < len(out); i++ {
		if cur := out[i]; cur >= n {
			out = append(out, tree[cur-n].left, tree[cur-n].right)
		}
	}

	return out
}

// condenseTree walks the dendrogram from the root and keeps only splits where
// both sides reach minClusterSize. Cluster labels start at n (the root).
func condenseTree(tree []linkageNode, n, minClusterSize int) ([]condensedEdge, int) {
	root := 2*n - 2
	relabel := make([]int, 2*n-1)
	ignore := make([]bool, 2*n-1)
	relabel[root] = n
	nextLabel := n + 1

	var out []condensedEdge

	fallOut := func(label, node int, lambda float64) {
		for _, sub := range subtree(tree, n, node) {
			if sub < n {
				out = append(out, condensedEdge{parent: label, child: sub, lambda: lambda, childSize: 1})
			}

			ignore[sub] = true
		}
	}

	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node < n || ignore[node] {
			continue
		}

		link := tree[node-n]
		queue = append(queue, link.left, link.right)

		lambda := 1 / math.Max(link.dist, minLinkDistance)
		label := relabel[node]
		leftSize := nodeSize(tree, n, link.left)
		rightSize := nodeSize(tree, n, link.right)

		switch {
		case leftSize >= minClusterSize && rightSize >= minClusterSize:
			relabel[link.left] = nextLabel
			out = append(out, condensedEdge{parent: label, child: nextLabel, lambda: lambda, childSize: leftSize})
			nextLabel++
			relabel[link.right] = nextLabel
			out = append(out, condensedEdge{parent: label, child: nextLabel, lambda: lambda, childSize: rightSize})
			nextLabel++
		case leftSize < minClusterSize && rightSize < minClusterSize:
			fallOut(label, link.left, lambda)
			fallOut(label, link.right, lambda)
		case leftSize < minClusterSize:
			relabel[link.right] = label
			fallOut(label, link.left, lambda)
		default:
			relabel[link.left] = label
			fallOut(label, link.right, lambda)
		}
	}

	return out, nextLabel - n
}

// clusterStability sums (lambda_p - lambda_birth) * size over each cluster's
// departures. Index i holds cluster label n+i.
func clusterStability(condensed []condensedEdge, n, numLabels int) []float64 {
	birth := make([]float64, numLabels)
	for _, e := range condensed {
		if e.child >= n {
			birth[e.child-n] = e.lambda
		}
	}

	stability := make([]float64, numLabels)
	for _, e := range condensed {
		stability[e.parent-n] += (e.lambda - birth[e.parent-n]) * float64(e.childSize)
	}

	return stability
}

func clusterChildren(condensed []condensedEdge, n, numLabels int) [][]int {
	children := make([][]int, numLabels)
	for _, e := range condensed {
		if e.child >= n {
			children[e.parent-n] = append(children[e.parent-n], e.child)
		}
	}

	return children
}

// selectEOM applies excess-of-mass selection bottom up. The root is never selected.
func selectEOM(condensed []condensedEdge, stability []float64, n, numLabels int) []bool {
	children := clusterChildren(condensed, n, numLabels)
	stab := append([]float64(nil), stability...)
	selected := make([]bool, numLabels)

	var deselect func(label int)

	deselect = func(label int) {
		for _, c := range children[label-n] {
			selected[c-n] = false
			deselect(c)
		}
	}

	// Children always carry larger labels than their parent.
	for label := n + numLabels - 1; label > n; label-- {
		var childSum float64
		for _, c := range children[label-n] {
			childSum += stab[c-n]
		}

		if len(children[label-n]) > 0 && childSum > stab[label-n] {
			stab[label-n] = childSum
			selected[label-n] = false

			continue
		}

		selected[label-n] = true
		deselect(label)
	}

	return selected
}

// selectLeaves keeps every non-root cluster without cluster children.
func selectLeaves(condensed []condensedEdge, n, numLabels int) []bool {
	children := clusterChildren(condensed, n, numLabels)
	selected := make([]bool, numLabels)

	for label := n + 1; label < n+numLabels; label++ {
		selected[label-n] = len(children[label-n]) == 0
	}

	return selected
}

// labelPoints maps each point to the selected ancestor of the cluster it fell out of.
func labelPoints(condensed []condensedEdge, selected []bool, n, numLabels int) []int {
	parentOf := make([]int, numLabels)
	for i := range parentOf {
		parentOf[i] = -1
	}

	for _, e := range condensed {
		if e.child >= n {
			parentOf[e.child-n] = e.parent
		}
	}

	compact := make([]int, numLabels)
	next := 0

	for i := range selected {
		compact[i] = noiseLabel
		if selected[i] {
			compact[i] = next
			next++
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}

	for _, e := range condensed {
		if e.child >= n {
			continue
		}

		for label := e.parent; label >= n; label = parentOf[label-n] {
			if selected[label-n] {
				labels[e.child] = compact[label-n]

				break
			}
		}
	}

	return labels
}
