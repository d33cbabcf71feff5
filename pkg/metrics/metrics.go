package metrics

import (
	"time"

	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ddos_classifier"

// PipelineMetrics 流水线各阶段指标
type PipelineMetrics struct {
	RecordsIngested  prometheus.Counter
	ValueIssues      *prometheus.CounterVec // 按列统计被强制转换的非法值
	FlowsAggregated  prometheus.Counter
	LabelsAssigned   *prometheus.CounterVec
	Predictions      *prometheus.CounterVec
	PredictionConf   prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	StageErrors      *prometheus.CounterVec
	FoldScore        *prometheus.GaugeVec
	FitDuration      prometheus.Gauge
	TrainingWarnings *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New 创建并在独立的 Registry 上注册全部指标
func New() *PipelineMetrics {
	reg := prometheus.NewRegistry()
	m := &PipelineMetrics{
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_ingested_total",
			Help: "Packet records read from the input source.",
		}),
		ValueIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "value_issues_total",
			Help: "Garbled numeric values coerced to a sentinel, by column.",
		}, []string{"column"}),
		FlowsAggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flows_aggregated_total",
			Help: "Flows produced by the aggregator.",
		}),
		LabelsAssigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "labels_assigned_total",
			Help: "Heuristic training labels, by label.",
		}, []string{"label"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "predictions_total",
			Help: "Inference predictions, by label.",
		}, []string{"label"}),
		PredictionConf: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "prediction_confidence",
			Help:    "Max class probability of each prediction.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Wall time of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_errors_total",
			Help: "Pipeline stage failures, by stage.",
		}, []string{"stage"}),
		FoldScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cv_fold_score",
			Help: "Cross-validation score of each fold.",
		}, []string{"fold"}),
		FitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "final_fit_duration_seconds",
			Help: "Wall time of the final model fit.",
		}),
		TrainingWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "training_warnings_total",
			Help: "Overfitting diagnostics raised by the trainer, by kind.",
		}, []string{"kind"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.RecordsIngested, m.ValueIssues, m.FlowsAggregated, m.LabelsAssigned,
		m.Predictions, m.PredictionConf, m.StageDuration, m.StageErrors,
		m.FoldScore, m.FitDuration, m.TrainingWarnings,
	)
	return m
}

// ObserveStage 记录阶段耗时，err 非空时同时计入失败次数
func (m *PipelineMetrics) ObserveStage(stage types.Stage, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage.String()).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage.String()).Inc()
	}
}

// AddValueIssues 累加输入中的非法值计数
func (m *PipelineMetrics) AddValueIssues(issues types.ValueIssues) {
	for col, n := range issues {
		m.ValueIssues.WithLabelValues(col).Add(float64(n))
	}
}

// Gatherer 返回指标采集器
func (m *PipelineMetrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// WriteTextfile 以文本格式导出，供 node_exporter textfile collector 采集
func (m *PipelineMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}
