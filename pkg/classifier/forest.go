package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/evaluation"
	"golang.org/x/sync/errgroup"
)

// KindForest 随机森林的模型类型名
const KindForest = "random_forest"

// 超参数键名
const (
	ParamNEstimators     = "n_estimators"
	ParamMaxDepth        = "max_depth" // 0 表示不限制
	ParamMinSamplesSplit = "min_samples_split"
	ParamMinSamplesLeaf  = "min_samples_leaf"
	ParamMaxFeatures     = "max_features" // 0 表示 sqrt，-1 表示全部，正数为特征个数
	ParamBalanced        = "balanced"
	ParamSeed            = "seed"
	ParamNJobs           = "n_jobs"
)

// max_features 的特殊取值
const (
	MaxFeaturesSqrt = 0
	MaxFeaturesAll  = -1
)

func init() {
	Register(KindForest, func() Classifier { return &Forest{} })
}

// ForestParams 将配置中的分类器参数转换为超参数表
func ForestParams(cp config.ClassifierParams) Params {
	maxFeatures := MaxFeaturesSqrt
	if cp.MaxFeatures == "all" {
		maxFeatures = MaxFeaturesAll
	}
	balanced := 0.0
	if cp.Balanced {
		balanced = 1
	}
	return Params{
		ParamNEstimators:     float64(cp.NEstimators),
		ParamMaxDepth:        float64(cp.MaxDepth),
		ParamMinSamplesSplit: float64(cp.MinSamplesSplit),
		ParamMinSamplesLeaf:  float64(cp.MinSamplesLeaf),
		ParamMaxFeatures:     float64(maxFeatures),
		ParamBalanced:        balanced,
		ParamSeed:            float64(cp.Seed),
	}
}

// Forest 参考随机森林：自助采样 + 随机特征子集 + Gini 切分的 CART 集成，支持类别均衡权重
type Forest struct {
	Params      Params    `json:"params"`
	NumClasses  int       `json:"num_classes"`
	NumFeatures int       `json:"num_features"`
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"feature_importances"`
}

// NewForest 创建未训练的随机森林
func NewForest(p Params) (*Forest, error) {
	f := &Forest{Params: p.Clone()}
	if f.Params.Int(ParamNEstimators, 100) <= 0 {
		return nil, fmt.Errorf("%s must be positive", ParamNEstimators)
	}
	if f.Params.Int(ParamMaxDepth, 0) < 0 {
		return nil, fmt.Errorf("%s must not be negative", ParamMaxDepth)
	}
	if f.Params.Int(ParamMinSamplesLeaf, 1) < 1 {
		return nil, fmt.Errorf("%s must be at least 1", ParamMinSamplesLeaf)
	}
	return f, nil
}

// ForestFactory 随机森林的 Factory
func ForestFactory(p Params) (Classifier, error) {
	return NewForest(p)
}

func (f *Forest) Kind() string {
	return KindForest
}

func (f *Forest) maxFeatures(numFeatures int) int {
	m := f.Params.Int(ParamMaxFeatures, MaxFeaturesSqrt)
	switch {
	case m == MaxFeaturesSqrt:
		m = int(math.Sqrt(float64(numFeatures)))
	case m < 0 || m > numFeatures:
		m = numFeatures
	}
	return max(1, m)
}

// classWeights balanced 模式下权重为 n / (k * n_c)，k 为出现过的类别数
func (f *Forest) classWeights(y []int, numClasses int) []float64 {
	w := make([]float64, numClasses)
	for c := range w {
		w[c] = 1
	}
	if !f.Params.Bool(ParamBalanced, false) {
		return w
	}
	counts := make([]int, numClasses)
	for _, c := range y {
		counts[c]++
	}
	present := 0
	for _, n := range counts {
		if n > 0 {
			present++
		}
	}
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(y)) / float64(present*n)
		}
	}
	return w
}

// Fit 实现 Classifier，各棵树使用由 seed 派生的独立随机源并发构建，结果与并发度无关
func (f *Forest) Fit(ctx context.Context, X [][]float64, y []int, numClasses int) error {
	data := Dataset{X: X, Y: y, NumClasses: numClasses}
	if err := data.Validate(); err != nil {
		return err
	}

	nTrees := f.Params.Int(ParamNEstimators, 100)
	seed := int64(f.Params.Int(ParamSeed, 0))
	workers := f.Params.Int(ParamNJobs, 1)
	numFeatures := len(X[0])
	weights := f.classWeights(y, numClasses)

	trees := make([]Tree, nTrees)
	importances := make([][]float64, nTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for t := 0; t < nTrees; t++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seed*1_000_003 + int64(t)))
			samples := make([]int, len(X))
			for i := range samples {
				samples[i] = rng.Intn(len(X))
			}
			b := &treeBuilder{
				X:           X,
				y:           y,
				classWeight: weights,
				numClasses:  numClasses,
				maxDepth:    f.Params.Int(ParamMaxDepth, 0),
				minSplit:    max(2, f.Params.Int(ParamMinSamplesSplit, 2)),
				minLeaf:     max(1, f.Params.Int(ParamMinSamplesLeaf, 1)),
				maxFeatures: f.maxFeatures(numFeatures),
				rng:         rng,
				importances: make([]float64, numFeatures),
			}
			b.build(samples, 0)
			trees[t] = Tree{Nodes: b.nodes}
			importances[t] = normalize(b.importances)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := make([]float64, numFeatures)
	for _, imp := range importances {
		for j, v := range imp {
			total[j] += v
		}
	}

	f.NumClasses = numClasses
	f.NumFeatures = numFeatures
	f.Trees = trees
	f.Importances = normalize(total)
	return nil
}

func normalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	sum := 0.0
	for _, v := range xs {
		sum += v
	}
	if sum == 0 {
		return out
	}
	for i, v := range xs {
		out[i] = v / sum
	}
	return out
}

// PredictProba 实现 Classifier，取各棵树叶子概率的平均
func (f *Forest) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		p := make([]float64, f.NumClasses)
		for t := range f.Trees {
			for c, v := range f.Trees[t].leaf(x) {
				p[c] += v
			}
		}
		for c := range p {
			p[c] /= float64(len(f.Trees))
		}
		out[i] = p
	}
	return out
}

// Predict 实现 Classifier，概率相同时取编码较小的类别
func (f *Forest) Predict(X [][]float64) []int {
	probs := f.PredictProba(X)
	out := make([]int, len(probs))
	for i, p := range probs {
		out[i] = argmax(p)
	}
	return out
}

// FeatureImportances 实现 FeatureImportancer，平均不纯度下降，和为 1
func (f *Forest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

// Tune 实现 Tuner，在当前参数基础上做网格搜索
func (f *Forest) Tune(ctx context.Context, data Dataset, grid Grid, folds []evaluation.Fold, scorer evaluation.Scorer) (*SearchResult, error) {
	return GridSearch(ctx, ForestFactory, f.Params, grid, data, folds, scorer, f.Params.Int(ParamNJobs, 1))
}

func argmax(p []float64) int {
	best := 0
	for c := 1; c < len(p); c++ {
		if p[c] > p[best] {
			best = c
		}
	}
	return best
}
