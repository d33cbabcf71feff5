// Package trainer 分层划分、交叉验证、最终拟合与过拟合诊断
package trainer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/haolipeng/ddos_flow_classifier/pkg/classifier"
	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/evaluation"
	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// 诊断告警类型
const (
	WarnCVScoreHigh    = "cv_score_high"
	WarnTrainTestGap   = "train_test_gap"
	WarnTestAccuracy   = "test_accuracy_high"
	WarnClassDropped   = "class_dropped"
	WarnTuningFallback = "tuning_unsupported"
)

// Warning 非致命的诊断告警，总是与指标报告一起返回
type Warning struct {
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
}

// FeatureImportance 单个特征的重要性
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Report 训练诊断报告
type Report struct {
	ModelKind      string                   `json:"model_kind"`
	Params         classifier.Params        `json:"params"`
	LabelMap       *types.LabelMap          `json:"label_map"`
	Samples        int                      `json:"samples"`
	TrainSamples   int                      `json:"train_samples"`
	TestSamples    int                      `json:"test_samples"`
	ClassCounts    map[types.Label]int      `json:"class_counts"`
	DroppedClasses []types.Label            `json:"dropped_classes,omitempty"`
	CVScoring      string                   `json:"cv_scoring"`
	CVScores       []float64                `json:"cv_scores"`
	CVMean         float64                  `json:"cv_mean"`
	CVStd          float64                  `json:"cv_std"`
	TrainAccuracy  float64                  `json:"train_accuracy"`
	TestAccuracy   float64                  `json:"test_accuracy"`
	Test           *evaluation.Report       `json:"test"`
	Importances    []FeatureImportance      `json:"feature_importances,omitempty"`
	Search         *classifier.SearchResult `json:"grid_search,omitempty"`
	Warnings       []Warning                `json:"warnings"`
	Elapsed        time.Duration            `json:"elapsed"`
}

func (r *Report) warn(kind string, value float64, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: msg, Value: value})
	logrus.WithField("value", value).Warn(msg)
}

// HasWarning 是否包含指定类型的告警
func (r *Report) HasWarning(kind string) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// Result 训练产出
type Result struct {
	Model  classifier.Classifier
	Report *Report
}

// Trainer 模型训练器，本身无状态，可重复调用
type Trainer struct {
	cfg      *config.Config
	factory  classifier.Factory
	params   classifier.Params
	observer Observer
}

// Option 训练器选项
type Option func(*Trainer)

// WithObserver 追加进度观察者
func WithObserver(o Observer) Option {
	return func(t *Trainer) {
		if existing, ok := t.observer.(multiObserver); ok {
			t.observer = append(existing, o)
			return
		}
		t.observer = multiObserver{t.observer, o}
	}
}

// WithParams 覆盖分类器超参数
func WithParams(p classifier.Params) Option {
	return func(t *Trainer) {
		t.params = t.params.Merge(p)
	}
}

// New 创建训练器，factory 决定使用哪种分类器
func New(cfg *config.Config, factory classifier.Factory, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:      cfg,
		factory:  factory,
		params:   classifier.ForestParams(cfg.Classifier),
		observer: LogObserver{},
	}
	t.params[classifier.ParamNJobs] = float64(cfg.Trainer.Workers)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train 在已归一化的特征向量和标签上训练
func (t *Trainer) Train(ctx context.Context, X []features.Vector, labels []types.Label, lm *types.LabelMap) (*Result, error) {
	start := time.Now()
	if len(X) == 0 {
		return nil, types.ErrEmptyInput
	}
	if len(X) != len(labels) {
		return nil, fmt.Errorf("feature rows %d do not match labels %d", len(X), len(labels))
	}

	report := &Report{LabelMap: lm, ClassCounts: make(map[types.Label]int)}
	y := make([]int, len(labels))
	for i, l := range labels {
		code, err := lm.Encode(l)
		if err != nil {
			return nil, err
		}
		y[i] = code
		report.ClassCounts[l]++
	}

	keep := t.dropSmallClasses(labels, report)
	if len(keep) == 0 {
		return nil, fmt.Errorf("no class has at least %d samples", t.cfg.Trainer.MinClassSamples)
	}
	data := classifier.Dataset{
		X:          evaluation.Take(features.Matrix(X), keep),
		Y:          evaluation.Take(y, keep),
		NumClasses: lm.Len(),
	}
	report.Samples = len(data.Y)

	trainIdx, testIdx, err := evaluation.StratifiedSplit(data.Y, t.cfg.Trainer.TestFraction, t.cfg.Trainer.Seed)
	if err != nil {
		return nil, err
	}
	train, test := data.Subset(trainIdx), data.Subset(testIdx)
	report.TrainSamples, report.TestSamples = len(train.Y), len(test.Y)
	logrus.Infof("训练集: %d | 测试集: %d", report.TrainSamples, report.TestSamples)

	folds, err := evaluation.StratifiedKFold(train.Y, t.cfg.Trainer.Folds, t.cfg.Trainer.Seed)
	if err != nil {
		return nil, err
	}

	params := t.params
	if t.cfg.Trainer.GridSearch {
		params, err = t.tune(ctx, params, train, folds, report)
		if err != nil {
			return nil, err
		}
	}
	report.Params = params

	if err := t.crossValidate(ctx, params, train, folds, report); err != nil {
		return nil, err
	}

	model, err := t.factory(params)
	if err != nil {
		return nil, err
	}
	report.ModelKind = model.Kind()

	t.observer.OnFitStart(len(train.Y))
	fitStart := time.Now()
	if err := model.Fit(ctx, train.X, train.Y, data.NumClasses); err != nil {
		return nil, fmt.Errorf("fit final model: %w", err)
	}
	t.observer.OnFitEnd(len(train.Y), time.Since(fitStart))

	report.TrainAccuracy = evaluation.Accuracy(train.Y, model.Predict(train.X))
	report.Test, err = evaluation.Evaluate(test.Y, model.Predict(test.X), data.NumClasses)
	if err != nil {
		return nil, err
	}
	report.TestAccuracy = report.Test.Accuracy

	if fi, ok := model.(classifier.FeatureImportancer); ok {
		report.Importances = importances(fi.FeatureImportances())
	}

	t.diagnose(report)
	report.Elapsed = time.Since(start)
	return &Result{Model: model, Report: report}, nil
}

// dropSmallClasses 样本数不足的类别无法分层划分，整体剔除并告警，返回保留的行号
func (t *Trainer) dropSmallClasses(labels []types.Label, report *Report) []int {
	dropped := make(map[types.Label]bool)
	for _, l := range report.LabelMap.Labels {
		n := report.ClassCounts[l]
		if n > 0 && n < t.cfg.Trainer.MinClassSamples {
			dropped[l] = true
			report.DroppedClasses = append(report.DroppedClasses, l)
			report.warn(WarnClassDropped, float64(n), "类别 %s 只有 %d 个样本，已剔除", l, n)
		}
	}

	keep := make([]int, 0, len(labels))
	for i, l := range labels {
		if !dropped[l] {
			keep = append(keep, i)
		}
	}
	return keep
}

// tune 网格搜索完全交给分类器自身的调参机制，这里只提供网格和评分规则
func (t *Trainer) tune(ctx context.Context, params classifier.Params, train classifier.Dataset, folds []evaluation.Fold, report *Report) (classifier.Params, error) {
	candidate, err := t.factory(params)
	if err != nil {
		return nil, err
	}
	tuner, ok := candidate.(classifier.Tuner)
	if !ok {
		report.warn(WarnTuningFallback, 0, "分类器 %s 不支持超参数搜索，使用默认参数", candidate.Kind())
		return params, nil
	}

	scorer, err := evaluation.NewScorer(evaluation.ScoringF1Weighted)
	if err != nil {
		return nil, err
	}
	res, err := tuner.Tune(ctx, train, classifier.Grid(t.cfg.Trainer.Grid), folds, scorer)
	if err != nil {
		return nil, fmt.Errorf("grid search: %w", err)
	}
	report.Search = res
	return res.Best, nil
}

// crossValidate 在训练集上用宏平均 F1 估计泛化能力
func (t *Trainer) crossValidate(ctx context.Context, params classifier.Params, train classifier.Dataset, folds []evaluation.Fold, report *Report) error {
	scorer, err := evaluation.NewScorer(evaluation.ScoringF1Macro)
	if err != nil {
		return err
	}
	hooks := &classifier.CVHooks{
		FoldStart: t.observer.OnFoldStart,
		FoldEnd:   t.observer.OnFoldEnd,
	}
	cv, err := classifier.CrossValidate(ctx, t.factory, params, train, folds, scorer, t.cfg.Trainer.Workers, hooks)
	if err != nil {
		return fmt.Errorf("cross validation: %w", err)
	}
	report.CVScoring = evaluation.ScoringF1Macro
	report.CVScores = cv.Scores
	report.CVMean = cv.Mean
	report.CVStd = cv.Std
	logrus.Infof("CV F1-macro: %.3f (+/- %.3f)", cv.Mean, cv.Std*2)
	return nil
}

// diagnose 过拟合诊断，只产生告警，不会让训练失败
func (t *Trainer) diagnose(report *Report) {
	tc := t.cfg.Trainer
	if report.CVMean > tc.CVF1Warn {
		report.warn(WarnCVScoreHigh, report.CVMean,
			"交叉验证 F1 %.4f 高于 %.2f，启发式标签下分数过高，可能过拟合", report.CVMean, tc.CVF1Warn)
	}

	gap := report.TrainAccuracy - report.TestAccuracy
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap > tc.GapWarn:
		report.warn(WarnTrainTestGap, gap,
			"训练集与测试集准确率相差 %.4f，超过 %.2f，可能过拟合", gap, tc.GapWarn)
	case report.TestAccuracy > tc.AccuracyWarn:
		report.warn(WarnTestAccuracy, report.TestAccuracy,
			"测试集准确率 %.4f 高于 %.2f，数据可能过于简单", report.TestAccuracy, tc.AccuracyWarn)
	}
}

// importances 按重要性降序排列
func importances(values []float64) []FeatureImportance {
	out := make([]FeatureImportance, 0, len(values))
	for i, v := range values {
		if i >= features.Dim {
			break
		}
		out = append(out, FeatureImportance{Feature: features.Names[i], Importance: v})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}
