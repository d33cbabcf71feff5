package evaluation

import "fmt"

// ClassMetrics 单个类别的指标
type ClassMetrics struct {
	Class     int     `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report 一次评估的完整指标，Confusion[i][j] 表示真实类别 i 被预测为 j 的数量
type Report struct {
	Accuracy   float64        `json:"accuracy"`
	MacroF1    float64        `json:"macro_f1"`
	WeightedF1 float64        `json:"weighted_f1"`
	PerClass   []ClassMetrics `json:"per_class"`
	Confusion  [][]int        `json:"confusion_matrix"`
}

// Accuracy 准确率
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// Evaluate 计算 numClasses 个类别上的全部指标
// 宏平均只统计在真实值或预测值中出现过的类别，没有预测样本的类别精确率记为 0
func Evaluate(yTrue, yPred []int, numClasses int) (*Report, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("length mismatch: %d labels vs %d predictions", len(yTrue), len(yPred))
	}

	conf := make([][]int, numClasses)
	for i := range conf {
		conf[i] = make([]int, numClasses)
	}
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return nil, fmt.Errorf("class out of range at row %d: true=%d pred=%d", i, t, p)
		}
		conf[t][p]++
	}

	r := &Report{Accuracy: Accuracy(yTrue, yPred), Confusion: conf}
	present := 0
	total := 0
	for c := 0; c < numClasses; c++ {
		tp := conf[c][c]
		support, predicted := 0, 0
		for k := 0; k < numClasses; k++ {
			support += conf[c][k]
			predicted += conf[k][c]
		}
		if support == 0 && predicted == 0 {
			continue
		}
		m := ClassMetrics{Class: c, Support: support}
		if predicted > 0 {
			m.Precision = float64(tp) / float64(predicted)
		}
		if support > 0 {
			m.Recall = float64(tp) / float64(support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.PerClass = append(r.PerClass, m)
		r.MacroF1 += m.F1
		r.WeightedF1 += m.F1 * float64(support)
		present++
		total += support
	}
	if present > 0 {
		r.MacroF1 /= float64(present)
	}
	if total > 0 {
		r.WeightedF1 /= float64(total)
	}
	return r, nil
}

// Scorer 交叉验证评分函数
type Scorer func(yTrue, yPred []int, numClasses int) float64

// 评分规则名
const (
	ScoringF1Macro    = "f1_macro"
	ScoringF1Weighted = "f1_weighted"
	ScoringAccuracy   = "accuracy"
)

// NewScorer 根据名称返回评分函数
func NewScorer(name string) (Scorer, error) {
	switch name {
	case ScoringF1Macro:
		return func(yTrue, yPred []int, n int) float64 {
			r, err := Evaluate(yTrue, yPred, n)
			if err != nil {
				return 0
			}
			return r.MacroF1
		}, nil
	case ScoringF1Weighted:
		return func(yTrue, yPred []int, n int) float64 {
			r, err := Evaluate(yTrue, yPred, n)
			if err != nil {
				return 0
			}
			return r.WeightedF1
		}, nil
	case ScoringAccuracy:
		return func(yTrue, yPred []int, _ int) float64 {
			return Accuracy(yTrue, yPred)
		}, nil
	default:
		return nil, fmt.Errorf("unknown scoring rule: %q", name)
	}
}
