package classifier

import (
	"context"
	"fmt"
	"sort"

	"github.com/haolipeng/ddos_flow_classifier/pkg/evaluation"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Grid 超参数网格，键为参数名，值为候选取值
type Grid map[string][]float64

// Combinations 按参数名排序后展开笛卡尔积，顺序确定
func (g Grid) Combinations() []Params {
	keys := make([]string, 0, len(g))
	for k, vs := range g {
		if len(vs) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	combos := []Params{{}}
	for _, k := range keys {
		next := make([]Params, 0, len(combos)*len(g[k]))
		for _, c := range combos {
			for _, v := range g[k] {
				p := c.Clone()
				p[k] = v
				next = append(next, p)
			}
		}
		combos = next
	}
	return combos
}

// CVResult 一组参数的交叉验证结果
type CVResult struct {
	Params Params    `json:"params"`
	Scores []float64 `json:"scores"`
	Mean   float64   `json:"mean"`
	Std    float64   `json:"std"`
}

// SearchResult 网格搜索结果，Results 与网格展开顺序一致
type SearchResult struct {
	Best      Params     `json:"best_params"`
	BestScore float64    `json:"best_score"`
	Results   []CVResult `json:"results"`
}

// CVHooks 交叉验证检查点回调，字段可为空；各折并发执行，回调必须是并发安全的
type CVHooks struct {
	FoldStart func(fold, total int)
	FoldEnd   func(fold, total int, score float64)
}

func (h *CVHooks) start(fold, total int) {
	if h != nil && h.FoldStart != nil {
		h.FoldStart(fold, total)
	}
}

func (h *CVHooks) end(fold, total int, score float64) {
	if h != nil && h.FoldEnd != nil {
		h.FoldEnd(fold, total, score)
	}
}

// CrossValidate 对一组参数做 k 折交叉验证，各折相互独立并发执行，只写各自的分数槽位
func CrossValidate(ctx context.Context, factory Factory, params Params, data Dataset, folds []evaluation.Fold, scorer evaluation.Scorer, workers int, hooks *CVHooks) (*CVResult, error) {
	res, err := evaluateAll(ctx, factory, []Params{params}, data, folds, scorer, workers, hooks)
	if err != nil {
		return nil, err
	}
	return &res[0], nil
}

// GridSearch 在全部参数组合上做交叉验证，选择平均分最高的组合，分数相同时取展开顺序靠前者
func GridSearch(ctx context.Context, factory Factory, base Params, grid Grid, data Dataset, folds []evaluation.Fold, scorer evaluation.Scorer, workers int) (*SearchResult, error) {
	combos := grid.Combinations()
	candidates := make([]Params, len(combos))
	for i, c := range combos {
		candidates[i] = base.Merge(c)
	}

	results, err := evaluateAll(ctx, factory, candidates, data, folds, scorer, workers, nil)
	if err != nil {
		return nil, err
	}

	best := 0
	for i := range results {
		if results[i].Mean > results[best].Mean {
			best = i
		}
	}
	logrus.WithFields(logrus.Fields{
		"combinations": len(results),
		"best":         results[best].Params.String(),
		"score":        results[best].Mean,
	}).Info("Grid search finished")

	return &SearchResult{
		Best:      results[best].Params,
		BestScore: results[best].Mean,
		Results:   results,
	}, nil
}

func evaluateAll(ctx context.Context, factory Factory, candidates []Params, data Dataset, folds []evaluation.Fold, scorer evaluation.Scorer, workers int, hooks *CVHooks) ([]CVResult, error) {
	if len(folds) == 0 {
		return nil, fmt.Errorf("no folds to evaluate")
	}
	if workers <= 0 {
		workers = 1
	}

	scores := make([][]float64, len(candidates))
	for i := range scores {
		scores[i] = make([]float64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for ci := range candidates {
		for fi := range folds {
			g.Go(func() error {
				hooks.start(fi+1, len(folds))
				score, err := fitAndScore(gctx, factory, candidates[ci], data, folds[fi], scorer)
				if err != nil {
					return fmt.Errorf("params %s fold %d: %w", candidates[ci], fi+1, err)
				}
				scores[ci][fi] = score
				hooks.end(fi+1, len(folds), score)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]CVResult, len(candidates))
	for i := range candidates {
		mean, std := stat.PopMeanStdDev(scores[i], nil)
		results[i] = CVResult{Params: candidates[i], Scores: scores[i], Mean: mean, Std: std}
	}
	return results, nil
}

func fitAndScore(ctx context.Context, factory Factory, params Params, data Dataset, fold evaluation.Fold, scorer evaluation.Scorer) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	model, err := factory(params)
	if err != nil {
		return 0, err
	}
	train := data.Subset(fold.Train)
	test := data.Subset(fold.Test)
	if err := model.Fit(ctx, train.X, train.Y, data.NumClasses); err != nil {
		return 0, err
	}
	return scorer(test.Y, model.Predict(test.X), data.NumClasses), nil
}
