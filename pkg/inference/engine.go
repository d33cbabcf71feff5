// Package inference 使用持久化的配套制品对新流量打标签
package inference

import (
	"fmt"
	"sort"

	"github.com/haolipeng/ddos_flow_classifier/pkg/artifact"
	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// Prediction 单条输入记录的预测结果
type Prediction struct {
	Index      int
	Label      types.Label
	Confidence float64 // 最大类别概率
}

// FlowPrediction 流级汇总：流内多数标签及其平均置信度
type FlowPrediction struct {
	Key        flow.Key
	Label      types.Label
	Confidence float64
	Packets    int
}

// Result 一次推理的完整结果，Predictions 与输入记录一一对应
type Result struct {
	Records     *types.RecordSet
	Table       *flow.Table
	Features    []features.Vector // 归一化之前的原始特征
	Predictions []Prediction
	Flows       []FlowPrediction
	SetID       string
}

// Counts 各标签的预测数量
func (r *Result) Counts() map[types.Label]int {
	out := make(map[types.Label]int)
	for _, p := range r.Predictions {
		out[p.Label]++
	}
	return out
}

// Engine 推理引擎，只读地使用制品集，从不重新拟合
type Engine struct {
	set *artifact.Set
}

// NewEngine 校验制品集后创建推理引擎
func NewEngine(set *artifact.Set) (*Engine, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &Engine{set: set}, nil
}

// Infer 聚合 → 归一化 → 预测 → 解码，解码出未知编码时返回 UnmappedLabelError
func (e *Engine) Infer(rs *types.RecordSet) (*Result, error) {
	if rs.Len() == 0 {
		return nil, types.ErrEmptyInput
	}

	table := flow.Aggregate(rs)
	raw := features.VectorizeTable(table)
	X := features.Matrix(e.set.Normalizer.Apply(raw))

	probs := e.set.Model.PredictProba(X)
	codes := e.set.Model.Predict(X)
	if len(codes) != len(X) || len(probs) != len(X) {
		return nil, fmt.Errorf("classifier %s returned %d predictions and %d probability rows for %d samples",
			e.set.Model.Kind(), len(codes), len(probs), len(X))
	}

	res := &Result{
		Records:     rs,
		Table:       table,
		Features:    raw,
		Predictions: make([]Prediction, len(codes)),
		SetID:       e.set.ID,
	}
	for i, code := range codes {
		label, err := e.set.LabelMap.Decode(code)
		if err != nil {
			return nil, err
		}
		res.Predictions[i] = Prediction{Index: i, Label: label, Confidence: maxProb(probs[i])}
	}
	res.Flows = summarizeFlows(table, res.Predictions)

	logrus.WithFields(logrus.Fields{
		"records": rs.Len(),
		"flows":   len(table.Flows),
		"set_id":  e.set.ID,
	}).Info("Inference finished")
	return res, nil
}

func maxProb(p []float64) float64 {
	m := 0.0
	for _, v := range p {
		if v > m {
			m = v
		}
	}
	return m
}

// summarizeFlows 流内多数标签，票数相同按标签名排序取第一个
func summarizeFlows(table *flow.Table, preds []Prediction) []FlowPrediction {
	type tally struct {
		votes map[types.Label]int
		conf  map[types.Label]float64
		total int
	}
	byFlow := make(map[flow.Key]*tally, len(table.Flows))
	for i := range table.Observations {
		key := table.Observations[i].Flow.Key
		t, ok := byFlow[key]
		if !ok {
			t = &tally{votes: make(map[types.Label]int), conf: make(map[types.Label]float64)}
			byFlow[key] = t
		}
		t.votes[preds[i].Label]++
		t.conf[preds[i].Label] += preds[i].Confidence
		t.total++
	}

	out := make([]FlowPrediction, 0, len(table.Flows))
	for _, f := range table.Flows {
		t := byFlow[f.Key]
		labels := make([]types.Label, 0, len(t.votes))
		for l := range t.votes {
			labels = append(labels, l)
		}
		sort.Slice(labels, func(i, j int) bool {
			if t.votes[labels[i]] != t.votes[labels[j]] {
				return t.votes[labels[i]] > t.votes[labels[j]]
			}
			return labels[i] < labels[j]
		})
		best := labels[0]
		out = append(out, FlowPrediction{
			Key:        f.Key,
			Label:      best,
			Confidence: t.conf[best] / float64(t.votes[best]),
			Packets:    t.total,
		})
	}
	return out
}
