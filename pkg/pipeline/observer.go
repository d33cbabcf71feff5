package pipeline

import (
	"strconv"
	"time"

	"github.com/haolipeng/ddos_flow_classifier/pkg/metrics"
)

// metricsObserver 把训练进度写入指标，交叉验证的各折并发回调
type metricsObserver struct {
	m *metrics.PipelineMetrics
}

func (o *metricsObserver) OnFoldStart(int, int) {}

func (o *metricsObserver) OnFoldEnd(fold, _ int, score float64) {
	o.m.FoldScore.WithLabelValues(strconv.Itoa(fold)).Set(score)
}

func (o *metricsObserver) OnFitStart(int) {}

func (o *metricsObserver) OnFitEnd(_ int, elapsed time.Duration) {
	o.m.FitDuration.Set(elapsed.Seconds())
}
