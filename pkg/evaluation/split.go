// Package evaluation 分层划分与分类指标
package evaluation

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// groupByClass 按类别收集下标，类别按编码升序
func groupByClass(y []int) ([]int, map[int][]int) {
	groups := make(map[int][]int)
	for i, c := range y {
		groups[c] = append(groups[c], i)
	}
	classes := make([]int, 0, len(groups))
	for c := range groups {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes, groups
}

// StratifiedSplit 按类别比例划分训练集和测试集下标，每个样本数不少于 2 的类别在两侧都至少保留一个样本
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}
	rng := rand.New(rand.NewSource(seed))
	classes, groups := groupByClass(y)
	for _, c := range classes {
		idx := append([]int(nil), groups[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		n := len(idx)
		nTest := int(math.Round(float64(n) * testFraction))
		if n >= 2 {
			nTest = max(1, min(nTest, n-1))
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	if len(train) == 0 || len(test) == 0 {
		return nil, nil, fmt.Errorf("not enough samples to split: %d", len(y))
	}
	return train, test, nil
}

// Fold 一折交叉验证的训练与验证下标
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold 分层 k 折，每个类别的样本轮流分配到各折
func StratifiedKFold(y []int, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("folds must be at least 2, got %d", k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", len(y), k)
	}

	rng := rand.New(rand.NewSource(seed))
	assign := make([]int, len(y))
	classes, groups := groupByClass(y)
	next := 0
	for _, c := range classes {
		idx := append([]int(nil), groups[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			assign[i] = next % k
			next++
		}
	}

	folds := make([]Fold, k)
	for i, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds, nil
}

// Take 按下标取出子集
func Take[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
