package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haolipeng/ddos_flow_classifier/pkg/classifier"
	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/trainer"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trafficCSV 生成四类流量各 flows*packets 行的 CSV
func trafficCSV(flows, packets int) string {
	var b strings.Builder
	b.WriteString("timestamp,src_ip,dst_ip,src_port,dst_port,protocol,length,tcp_flags\n")
	for i := 0; i < flows; i++ {
		for j := 0; j < packets; j++ {
			// 正常流量：10 秒内少量报文
			fmt.Fprintf(&b, "%.4f,10.1.0.%d,10.2.0.1,40000,8080,TCP,500,16\n", float64(j)*2, i+1)
			// UDP 洪泛：0.1 秒内的大报文
			fmt.Fprintf(&b, "%.4f,10.3.0.%d,10.4.0.1,5000,53,UDP,10000,0\n", float64(j)*0.005, i+1)
			// SYN 洪泛：全部携带 SYN
			fmt.Fprintf(&b, "%.4f,10.5.0.%d,10.6.0.1,6000,22,TCP,60,2\n", float64(j)*0.005, i+1)
			// HTTP 洪泛：极高包速率，没有 SYN
			fmt.Fprintf(&b, "%.5f,10.7.0.%d,10.8.0.1,7000,80,TCP,200,16\n", float64(j)*0.0005, i+1)
		}
	}
	return b.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Trainer.Folds = 3
	cfg.Trainer.Workers = 2
	cfg.Classifier.NEstimators = 10
	cfg.Classifier.MaxDepth = 6
	cfg.Classifier.MinSamplesSplit = 2
	cfg.Classifier.MinSamplesLeaf = 1
	dir := t.TempDir()
	cfg.Artifacts.Dir = filepath.Join(dir, "model")
	cfg.Output.Path = filepath.Join(dir, "predictions.csv")
	cfg.Output.ReportPath = filepath.Join(dir, "training_report.txt")
	cfg.Output.MetricsPath = filepath.Join(dir, "metrics.prom")
	return cfg
}

func writeInput(t *testing.T, cfg *config.Config, content string) {
	t.Helper()
	cfg.Input.Path = filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(cfg.Input.Path, []byte(content), 0644))
}

func TestTrainAndInfer(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, trafficCSV(5, 20))

	rs, err := ReadInput(cfg)
	require.NoError(t, err)
	require.Equal(t, 400, rs.Len())

	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusInitialized, p.Status())

	out, err := p.Train(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status())

	t.Run("启发式标签覆盖四个类别", func(t *testing.T) {
		counts := make(map[types.Label]int)
		for _, l := range out.Labels {
			counts[l]++
		}
		assert.Equal(t, map[types.Label]int{
			types.LabelBenign:    100,
			types.LabelUDPFlood:  100,
			types.LabelSYNFlood:  100,
			types.LabelHTTPFlood: 100,
		}, counts)
	})

	t.Run("制品元数据", func(t *testing.T) {
		meta := out.Set.Metadata
		assert.Equal(t, classifier.KindForest, meta.ModelType)
		assert.Equal(t, features.Names[:], meta.Features)
		assert.Equal(t, config.LabelingModeRules, meta.LabelingMode)
		assert.NotEmpty(t, meta.RulesHash)
		assert.Equal(t, types.DefaultLabelMap().Labels, meta.Classes)
		assert.True(t, out.Report.HasWarning(trainer.WarnCVScoreHigh))
	})

	t.Run("指标", func(t *testing.T) {
		m := p.Metrics()
		assert.Equal(t, 400.0, testutil.ToFloat64(m.RecordsIngested))
		assert.Equal(t, 20.0, testutil.ToFloat64(m.FlowsAggregated))
		assert.Equal(t, 100.0, testutil.ToFloat64(m.LabelsAssigned.WithLabelValues(string(types.LabelUDPFlood))))
		assert.Equal(t, 3, testutil.CollectAndCount(m.FoldScore))
	})

	t.Run("加载制品后推理", func(t *testing.T) {
		set, err := LoadArtifacts(cfg)
		require.NoError(t, err)
		assert.Equal(t, out.Set.ID, set.ID)

		res, err := p.Infer(context.Background(), rs, set)
		require.NoError(t, err)
		require.Len(t, res.Predictions, rs.Len())
		assert.Equal(t, set.ID, res.SetID)

		correct := 0
		for i, pred := range res.Predictions {
			if pred.Label == out.Labels[i] {
				correct++
			}
		}
		assert.Greater(t, float64(correct)/float64(rs.Len()), 0.95)
		for label, n := range res.Counts() {
			assert.Equal(t, float64(n), testutil.ToFloat64(p.Metrics().Predictions.WithLabelValues(string(label))))
		}
	})
}

func TestTrainServeParity(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, trafficCSV(4, 10))
	rs, err := ReadInput(cfg)
	require.NoError(t, err)

	out, err := RunTraining(context.Background(), cfg, rs)
	require.NoError(t, err)

	set, err := LoadArtifacts(cfg)
	require.NoError(t, err)

	// 推理路径重新聚合、向量化并使用持久化的归一化参数，必须复现训练时的输入
	served := set.Normalizer.Apply(features.VectorizeTable(flow.Aggregate(rs)))
	require.Len(t, served, len(out.Features))
	for i := range served {
		for j := range served[i] {
			assert.InDelta(t, out.Features[i][j], served[i][j], 1e-9, "row %d feature %s", i, features.Names[j])
		}
	}

	res, err := RunInference(context.Background(), cfg, rs)
	require.NoError(t, err)
	assert.Equal(t, out.Set.ID, res.SetID)

	t.Run("输出文件", func(t *testing.T) {
		report, err := os.ReadFile(cfg.Output.ReportPath)
		require.NoError(t, err)
		assert.Contains(t, string(report), out.Report.ModelKind)

		csv, err := os.ReadFile(cfg.Output.Path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
		assert.Len(t, lines, rs.Len()+1)
		assert.True(t, strings.HasSuffix(lines[0], "predicted_label,confidence"))

		prom, err := os.ReadFile(cfg.Output.MetricsPath)
		require.NoError(t, err)
		assert.Contains(t, string(prom), "ddos_classifier_predictions_total")
	})
}

func TestPipelineErrors(t *testing.T) {
	t.Run("缺少必需列返回SchemaError", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg, "src_ip,protocol\n10.0.0.1,TCP\n")
		_, err := ReadInput(cfg)
		var schemaErr *types.SchemaError
		require.True(t, errors.As(err, &schemaErr))
		assert.Contains(t, schemaErr.Missing, types.ColumnDstIP)
	})

	t.Run("空输入在读取阶段失败", func(t *testing.T) {
		p, err := NewPipeline(testConfig(t))
		require.NoError(t, err)
		_, err = p.Train(context.Background(), &types.RecordSet{})
		var stageErr *types.StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, types.StageIngest, stageErr.Stage)
		assert.ErrorIs(t, err, types.ErrEmptyInput)
		assert.Equal(t, StatusFailed, p.Status())
	})

	t.Run("取消的上下文", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg, trafficCSV(2, 5))
		rs, err := ReadInput(cfg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = RunTraining(ctx, cfg, rs)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("制品目录不存在", func(t *testing.T) {
		cfg := testConfig(t)
		_, err := LoadArtifacts(cfg)
		var stageErr *types.StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, types.StagePersist, stageErr.Stage)
	})

	t.Run("非法配置", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Labeling.Mode = "oracle"
		_, err := NewPipeline(cfg)
		assert.Error(t, err)
	})

	t.Run("不落盘时不写制品目录", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg, trafficCSV(3, 10))
		rs, err := ReadInput(cfg)
		require.NoError(t, err)

		p, err := NewPipeline(cfg, WithoutPersist())
		require.NoError(t, err)
		out, err := p.Train(context.Background(), rs)
		require.NoError(t, err)
		assert.NotNil(t, out.Set)
		_, err = os.Stat(cfg.Artifacts.Dir)
		assert.True(t, os.IsNotExist(err))
	})
}
