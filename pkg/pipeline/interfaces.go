package pipeline

import (
	"context"

	"github.com/haolipeng/ddos_flow_classifier/pkg/artifact"
	"github.com/haolipeng/ddos_flow_classifier/pkg/inference"
	"github.com/haolipeng/ddos_flow_classifier/pkg/metrics"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
)

// 流水线状态
const (
	StatusInitialized = "initialized"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Pipeline 定义批处理流水线接口
type Pipeline interface {
	// Train 读取一整张记录表，完成标注、归一化与训练，并持久化配套制品
	Train(ctx context.Context, rs *types.RecordSet) (*TrainingOutput, error)
	// Infer 使用已加载的制品集对记录表逐行预测
	Infer(ctx context.Context, rs *types.RecordSet, set *artifact.Set) (*inference.Result, error)
	// Metrics 获取流水线指标
	Metrics() *metrics.PipelineMetrics
	// Status 返回流水线状态
	Status() string
}
