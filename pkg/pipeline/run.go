package pipeline

import (
	"context"

	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/inference"
	"github.com/haolipeng/ddos_flow_classifier/pkg/sink"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// RunTraining 训练入口：训练、持久化制品、写训练报告和指标文件
func RunTraining(ctx context.Context, cfg *config.Config, rs *types.RecordSet, opts ...Option) (*TrainingOutput, error) {
	p, err := NewPipeline(cfg, opts...)
	if err != nil {
		return nil, err
	}
	out, err := p.Train(ctx, rs)
	if err != nil {
		writeMetrics(cfg, p)
		return nil, err
	}

	if cfg.Output.ReportPath != "" {
		if err := sink.WriteReportFile(cfg.Output.ReportPath, out.Report); err != nil {
			return nil, err
		}
	}
	writeMetrics(cfg, p)
	return out, nil
}

// RunInference 推理入口：加载制品、逐行预测、写出带预测列的结果
func RunInference(ctx context.Context, cfg *config.Config, rs *types.RecordSet, opts ...Option) (*inference.Result, error) {
	p, err := NewPipeline(cfg, opts...)
	if err != nil {
		return nil, err
	}
	set, err := LoadArtifacts(cfg)
	if err != nil {
		return nil, err
	}
	res, err := p.Infer(ctx, rs, set)
	if err != nil {
		writeMetrics(cfg, p)
		return nil, err
	}

	if cfg.Output.Path != "" {
		csvOpts := sink.CSVOptions{IncludeFeatures: cfg.Output.IncludeFeatures}
		if err := sink.WriteCSVFile(cfg.Output.Path, res, csvOpts); err != nil {
			return nil, err
		}
	}
	for label, n := range res.Counts() {
		logrus.WithField("label", label).Infof("%d records", n)
	}
	writeMetrics(cfg, p)
	return res, nil
}

// writeMetrics 指标导出失败不影响主流程
func writeMetrics(cfg *config.Config, p Pipeline) {
	if cfg.Output.MetricsPath == "" {
		return
	}
	if err := p.Metrics().WriteTextfile(cfg.Output.MetricsPath); err != nil {
		logrus.Warnf("Failed to write metrics to %s: %v", cfg.Output.MetricsPath, err)
	}
}
