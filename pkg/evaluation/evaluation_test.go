package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelsOf(counts map[int]int) []int {
	var y []int
	for c := 0; c < 10; c++ {
		for i := 0; i < counts[c]; i++ {
			y = append(y, c)
		}
	}
	return y
}

func countByClass(y []int, idx []int) map[int]int {
	out := make(map[int]int)
	for _, i := range idx {
		out[y[i]]++
	}
	return out
}

func TestStratifiedSplit(t *testing.T) {
	y := labelsOf(map[int]int{0: 70, 1: 20, 2: 10})

	train, test, err := StratifiedSplit(y, 0.3, 42)
	require.NoError(t, err)
	assert.Len(t, test, 30)
	assert.Len(t, train, 70)
	assert.Equal(t, map[int]int{0: 21, 1: 6, 2: 3}, countByClass(y, test))

	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		assert.False(t, seen[i], "下标重复: %d", i)
		seen[i] = true
	}
	assert.Len(t, seen, len(y))

	again, againTest, err := StratifiedSplit(y, 0.3, 42)
	require.NoError(t, err)
	assert.Equal(t, train, again)
	assert.Equal(t, test, againTest)
}

func TestStratifiedSplitSmallClass(t *testing.T) {
	y := labelsOf(map[int]int{0: 10, 1: 2})
	train, test, err := StratifiedSplit(y, 0.3, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, countByClass(y, test)[1])
	assert.Equal(t, 1, countByClass(y, train)[1])
}

func TestStratifiedSplitInvalid(t *testing.T) {
	_, _, err := StratifiedSplit([]int{0, 1}, 1.5, 1)
	assert.Error(t, err)
	_, _, err = StratifiedSplit([]int{0}, 0.3, 1)
	assert.Error(t, err)
}

func TestStratifiedKFold(t *testing.T) {
	y := labelsOf(map[int]int{0: 50, 1: 25, 2: 10})
	folds, err := StratifiedKFold(y, 5, 42)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	covered := make(map[int]int)
	for _, f := range folds {
		assert.Equal(t, len(y), len(f.Train)+len(f.Test))
		for _, i := range f.Test {
			covered[i]++
		}
		counts := countByClass(y, f.Test)
		assert.Equal(t, 10, counts[0])
		assert.Equal(t, 5, counts[1])
		assert.Equal(t, 2, counts[2])
	}
	assert.Len(t, covered, len(y))
	for _, n := range covered {
		assert.Equal(t, 1, n)
	}

	_, err = StratifiedKFold([]int{0, 1}, 5, 1)
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	yTrue := []int{0, 0, 0, 1, 1, 2}
	yPred := []int{0, 0, 1, 1, 1, 0}

	r, err := Evaluate(yTrue, yPred, 4)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/6.0, r.Accuracy, 1e-12)
	assert.Equal(t, [][]int{
		{2, 1, 0, 0},
		{0, 2, 0, 0},
		{1, 0, 0, 0},
		{0, 0, 0, 0},
	}, r.Confusion)

	require.Len(t, r.PerClass, 3, "未出现的类别不计入")
	c0, c1, c2 := r.PerClass[0], r.PerClass[1], r.PerClass[2]
	assert.InDelta(t, 2.0/3.0, c0.Precision, 1e-12)
	assert.InDelta(t, 2.0/3.0, c0.Recall, 1e-12)
	assert.InDelta(t, 2.0/3.0, c1.Precision, 1e-12)
	assert.InDelta(t, 1.0, c1.Recall, 1e-12)
	assert.InDelta(t, 0.8, c1.F1, 1e-12)
	assert.Equal(t, 0.0, c2.F1)

	assert.InDelta(t, (2.0/3.0+0.8+0)/3, r.MacroF1, 1e-12)
	assert.InDelta(t, (2.0/3.0*3+0.8*2)/6, r.WeightedF1, 1e-12)
}

func TestEvaluateErrors(t *testing.T) {
	_, err := Evaluate([]int{0}, []int{0, 1}, 2)
	assert.Error(t, err)
	_, err = Evaluate([]int{0}, []int{5}, 2)
	assert.Error(t, err)
}

func TestNewScorer(t *testing.T) {
	yTrue := []int{0, 1, 1, 1}
	yPred := []int{0, 1, 1, 0}

	for _, name := range []string{ScoringF1Macro, ScoringF1Weighted, ScoringAccuracy} {
		s, err := NewScorer(name)
		require.NoError(t, err)
		score := s(yTrue, yPred, 2)
		assert.Greater(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}

	_, err := NewScorer("roc_auc")
	assert.Error(t, err)
}

func TestTake(t *testing.T) {
	assert.Equal(t, []string{"c", "a"}, Take([]string{"a", "b", "c"}, []int{2, 0}))
}
