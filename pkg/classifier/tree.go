package classifier

import (
	"math/rand"
	"sort"
)

// Node 决策树节点，Feature < 0 表示叶子
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"` // 叶子上的类别概率
}

// Tree 以数组形式存储的 CART 决策树，根节点下标为 0
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	classWeight []float64
	numClasses  int
	maxDepth    int // 0 表示不限制
	minSplit    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand

	nodes       []Node
	importances []float64
}

type split struct {
	feature   int
	threshold float64
	impurity  float64 // 子节点加权不纯度之和
	found     bool
}

func (b *treeBuilder) distribution(samples []int) ([]float64, float64) {
	dist := make([]float64, b.numClasses)
	total := 0.0
	for _, s := range samples {
		w := b.classWeight[b.y[s]]
		dist[b.y[s]] += w
		total += w
	}
	return dist, total
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	sum := 0.0
	for _, d := range dist {
		p := d / total
		sum += p * p
	}
	return 1 - sum
}

func (b *treeBuilder) makeLeaf(dist []float64, total float64) int {
	value := make([]float64, len(dist))
	for c, d := range dist {
		value[c] = d / total
	}
	b.nodes = append(b.nodes, Node{Feature: -1, Value: value})
	return len(b.nodes) - 1
}

// build 递归构建子树，返回子树根节点下标
func (b *treeBuilder) build(samples []int, depth int) int {
	dist, total := b.distribution(samples)
	impurity := gini(dist, total)
	n := len(samples)

	if impurity == 0 || n < b.minSplit || n < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return b.makeLeaf(dist, total)
	}

	best := b.bestSplit(samples)
	if !best.found || best.impurity >= impurity*total-1e-12 {
		return b.makeLeaf(dist, total)
	}
	b.importances[best.feature] += impurity*total - best.impurity

	var left, right []int
	for _, s := range samples {
		if b.X[s][best.feature] <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: best.feature, Threshold: best.threshold})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// bestSplit 按随机顺序考察特征，直到看过 maxFeatures 个在当前节点上非常数的特征，按加权 Gini 寻找最优切分点
func (b *treeBuilder) bestSplit(samples []int) split {
	numFeatures := len(b.X[0])
	order := b.rng.Perm(numFeatures)

	best := split{}
	sorted := make([]int, len(samples))
	leftDist := make([]float64, b.numClasses)
	rightDist := make([]float64, b.numClasses)
	visited := 0

	for _, f := range order {
		if visited >= b.maxFeatures {
			break
		}
		copy(sorted, samples)
		sort.SliceStable(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })
		if b.X[sorted[0]][f] == b.X[sorted[len(sorted)-1]][f] {
			continue
		}
		visited++

		for c := range leftDist {
			leftDist[c] = 0
			rightDist[c] = 0
		}
		leftW, rightW := 0.0, 0.0
		for _, s := range sorted {
			w := b.classWeight[b.y[s]]
			rightDist[b.y[s]] += w
			rightW += w
		}

		n := len(sorted)
		for i := 0; i < n-1; i++ {
			s := sorted[i]
			w := b.classWeight[b.y[s]]
			leftDist[b.y[s]] += w
			rightDist[b.y[s]] -= w
			leftW += w
			rightW -= w

			cur, next := b.X[s][f], b.X[sorted[i+1]][f]
			if cur == next {
				continue
			}
			if i+1 < b.minLeaf || n-i-1 < b.minLeaf {
				continue
			}
			imp := leftW*gini(leftDist, leftW) + rightW*gini(rightDist, rightW)
			if !best.found || imp < best.impurity {
				thr := cur + (next-cur)/2
				if thr >= next {
					thr = cur
				}
				best = split{feature: f, threshold: thr, impurity: imp, found: true}
			}
		}
	}
	return best
}
