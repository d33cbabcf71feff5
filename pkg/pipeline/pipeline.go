package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haolipeng/ddos_flow_classifier/pkg/artifact"
	"github.com/haolipeng/ddos_flow_classifier/pkg/classifier"
	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/inference"
	"github.com/haolipeng/ddos_flow_classifier/pkg/labeling"
	"github.com/haolipeng/ddos_flow_classifier/pkg/metrics"
	"github.com/haolipeng/ddos_flow_classifier/pkg/normalizer"
	"github.com/haolipeng/ddos_flow_classifier/pkg/source"
	"github.com/haolipeng/ddos_flow_classifier/pkg/trainer"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// TrainingOutput 一次训练的全部产出
type TrainingOutput struct {
	Set      *artifact.Set
	Report   *trainer.Report
	Table    *flow.Table
	Labels   []types.Label
	Features []features.Vector // 归一化之后、送入训练器的特征
}

type pipeline struct {
	cfg       *config.Config
	factory   classifier.Factory
	observers []trainer.Observer
	metrics   *metrics.PipelineMetrics
	persist   bool
	mu        sync.Mutex
	status    string
	startTime time.Time
}

// Option 流水线选项
type Option func(*pipeline)

// WithFactory 替换分类器实现，默认使用随机森林
func WithFactory(f classifier.Factory) Option {
	return func(p *pipeline) { p.factory = f }
}

// WithObserver 追加训练进度观察者
func WithObserver(o trainer.Observer) Option {
	return func(p *pipeline) { p.observers = append(p.observers, o) }
}

// WithMetrics 使用外部创建的指标集合
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *pipeline) { p.metrics = m }
}

// WithoutPersist 训练后不写制品目录
func WithoutPersist() Option {
	return func(p *pipeline) { p.persist = false }
}

func NewPipeline(cfg *config.Config, opts ...Option) (Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	p := &pipeline{
		cfg:     cfg,
		factory: classifier.ForestFactory,
		persist: true,
		status:  StatusInitialized,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p, nil
}

func (p *pipeline) Metrics() *metrics.PipelineMetrics {
	return p.metrics
}

// Status 实现Pipeline接口的Status方法
func (p *pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *pipeline) setStatus(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// begin 同一时刻只允许一次运行
func (p *pipeline) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		return fmt.Errorf("pipeline already running")
	}
	p.status = StatusRunning
	p.startTime = time.Now()
	return nil
}

func (p *pipeline) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.status = StatusFailed
		return
	}
	p.status = StatusCompleted
	logrus.Infof("Pipeline completed in %v", time.Since(p.startTime))
}

// runStage 执行单个阶段，记录耗时，失败时包装为 StageError
func (p *pipeline) runStage(ctx context.Context, stage types.Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return types.NewStageError(stage, err)
	}
	logrus.Debugf("Stage %s started", stage)
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(stage, time.Since(start), err)
	if err != nil {
		logrus.Errorf("Stage %s failed: %v", stage, err)
		return types.NewStageError(stage, err)
	}
	logrus.Infof("Stage %s finished in %v", stage, time.Since(start))
	return nil
}

func (p *pipeline) ingest(ctx context.Context, rs *types.RecordSet) error {
	return p.runStage(ctx, types.StageIngest, func() error {
		if rs == nil || rs.Len() == 0 {
			return types.ErrEmptyInput
		}
		p.metrics.RecordsIngested.Add(float64(rs.Len()))
		p.metrics.AddValueIssues(rs.Issues)
		if n := rs.Issues.Total(); n > 0 {
			logrus.Warnf("%d garbled numeric values coerced to sentinel", n)
		}
		return nil
	})
}

func (p *pipeline) Train(ctx context.Context, rs *types.RecordSet) (out *TrainingOutput, err error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer func() { p.finish(err) }()

	if err := p.ingest(ctx, rs); err != nil {
		return nil, err
	}
	out = &TrainingOutput{}

	if err := p.runStage(ctx, types.StageFlowAggregation, func() error {
		out.Table = flow.Aggregate(rs)
		p.metrics.FlowsAggregated.Add(float64(len(out.Table.Flows)))
		logrus.Infof("Aggregated %d records into %d flows", rs.Len(), len(out.Table.Flows))
		return nil
	}); err != nil {
		return nil, err
	}

	var labeler labeling.Labeler
	if err := p.runStage(ctx, types.StageLabeling, func() error {
		var err error
		labeler, err = labeling.New(p.cfg)
		if err != nil {
			return err
		}
		out.Labels = labeling.LabelTable(labeler, out.Table)
		for _, l := range out.Labels {
			p.metrics.LabelsAssigned.WithLabelValues(string(l)).Inc()
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var raw []features.Vector
	if err := p.runStage(ctx, types.StageVectorize, func() error {
		raw = features.VectorizeTable(out.Table)
		return nil
	}); err != nil {
		return nil, err
	}

	var norm *normalizer.State
	if err := p.runStage(ctx, types.StageNormalize, func() error {
		var err error
		norm, err = normalizer.Fit(raw)
		if err != nil {
			return err
		}
		out.Features = norm.Apply(raw)
		return nil
	}); err != nil {
		return nil, err
	}

	var res *trainer.Result
	if err := p.runStage(ctx, types.StageTraining, func() error {
		opts := []trainer.Option{trainer.WithObserver(&metricsObserver{m: p.metrics})}
		for _, o := range p.observers {
			opts = append(opts, trainer.WithObserver(o))
		}
		var err error
		res, err = trainer.New(p.cfg, p.factory, opts...).Train(ctx, out.Features, out.Labels, labeler.LabelMap())
		if err != nil {
			return err
		}
		for _, w := range res.Report.Warnings {
			p.metrics.TrainingWarnings.WithLabelValues(w.Kind).Inc()
		}
		return nil
	}); err != nil {
		return nil, err
	}
	out.Report = res.Report
	out.Set = artifact.NewSet(res.Model, norm, labeler.LabelMap(), p.metadata(labeler, res.Report))

	if p.persist {
		if err := p.runStage(ctx, types.StagePersist, func() error {
			return artifact.Save(p.cfg.Artifacts.Dir, out.Set)
		}); err != nil {
			return nil, err
		}
		logrus.Infof("Artifact set %s saved to %s", out.Set.ID, p.cfg.Artifacts.Dir)
	}
	return out, nil
}

func (p *pipeline) metadata(labeler labeling.Labeler, r *trainer.Report) artifact.Metadata {
	meta := artifact.Metadata{
		ModelType:     r.ModelKind,
		Features:      features.Names[:],
		TrainAccuracy: r.TrainAccuracy,
		TestAccuracy:  r.TestAccuracy,
		CVScoreMean:   r.CVMean,
		CVScoreStd:    r.CVStd,
		Classes:       labeler.LabelMap().Labels,
		ModelParams:   r.Params,
		LabelingMode:  p.cfg.Labeling.Mode,
	}
	if rl, ok := labeler.(*labeling.RuleLabeler); ok {
		meta.RulesHash = rl.Hash()
	}
	for _, w := range r.Warnings {
		meta.Warnings = append(meta.Warnings, w.Message)
	}
	return meta
}

func (p *pipeline) Infer(ctx context.Context, rs *types.RecordSet, set *artifact.Set) (res *inference.Result, err error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer func() { p.finish(err) }()

	if err := p.ingest(ctx, rs); err != nil {
		return nil, err
	}
	if err := p.runStage(ctx, types.StageInference, func() error {
		engine, err := inference.NewEngine(set)
		if err != nil {
			return err
		}
		res, err = engine.Infer(rs)
		if err != nil {
			return err
		}
		p.metrics.FlowsAggregated.Add(float64(len(res.Table.Flows)))
		for _, pred := range res.Predictions {
			p.metrics.Predictions.WithLabelValues(string(pred.Label)).Inc()
			p.metrics.PredictionConf.Observe(pred.Confidence)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// ReadInput 按配置的格式读取输入文件
func ReadInput(cfg *config.Config) (*types.RecordSet, error) {
	switch cfg.Input.Format {
	case config.InputFormatCSV:
		return source.ReadCSVFile(cfg.Input.Path)
	case config.InputFormatPcap:
		return source.ReadPcapFile(cfg.Input.Path)
	default:
		return nil, fmt.Errorf("unsupported input format: %q", cfg.Input.Format)
	}
}

// LoadArtifacts 从制品目录加载配套制品，任何不一致都拒绝
func LoadArtifacts(cfg *config.Config) (*artifact.Set, error) {
	set, err := artifact.Load(cfg.Artifacts.Dir)
	if err != nil {
		return nil, types.NewStageError(types.StagePersist, err)
	}
	logrus.Infof("Loaded artifact set %s (%s, label map %s)", set.ID, set.Metadata.ModelType, set.LabelMap.Version)
	return set, nil
}
