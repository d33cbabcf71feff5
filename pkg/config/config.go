package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 标注模式
const (
	LabelingModeRules = "rules"
	LabelingModeScore = "score"
)

// 输入格式
const (
	InputFormatCSV  = "csv"
	InputFormatPcap = "pcap"
)

// Thresholds 启发式标注使用的阈值，所有调用点共用同一份命名常量
type Thresholds struct {
	UDPFloodByteRate   float64 `yaml:"udp_flood_byte_rate"`
	SYNFloodPacketRate float64 `yaml:"syn_flood_packet_rate"`
	SYNFloodMaxDur     float64 `yaml:"syn_flood_max_duration"`
	HTTPFloodPktRate   float64 `yaml:"http_flood_packet_rate"`
}

// 阈值规范值，规则标注器与评分标注器的攻击子类型判定共用
const (
	DefaultUDPFloodByteRate   = 1_000_000.0
	DefaultSYNFloodPacketRate = 100.0
	DefaultSYNFloodMaxDur     = 1.0
	DefaultHTTPFloodPktRate   = 1000.0
)

// DefaultThresholds 返回规范阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		UDPFloodByteRate:   DefaultUDPFloodByteRate,
		SYNFloodPacketRate: DefaultSYNFloodPacketRate,
		SYNFloodMaxDur:     DefaultSYNFloodMaxDur,
		HTTPFloodPktRate:   DefaultHTTPFloodPktRate,
	}
}

// ClassifierParams 参考随机森林的超参数
type ClassifierParams struct {
	NEstimators     int    `yaml:"n_estimators"`
	MaxDepth        int    `yaml:"max_depth"` // 0 表示不限制
	MinSamplesSplit int    `yaml:"min_samples_split"`
	MinSamplesLeaf  int    `yaml:"min_samples_leaf"`
	MaxFeatures     string `yaml:"max_features"` // sqrt | all
	Balanced        bool   `yaml:"balanced"`
	Seed            int64  `yaml:"seed"`
}

type Config struct {
	Log struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		Filename   string `yaml:"filename"`
		MaxAge     int    `yaml:"max_age"`     // 小时
		RotateTime int    `yaml:"rotate_time"` // 小时
	} `yaml:"log"`

	Input struct {
		Path   string `yaml:"path"`
		Format string `yaml:"format"`
	} `yaml:"input"`

	Labeling struct {
		Mode       string     `yaml:"mode"`
		RulesFile  string     `yaml:"rules_file"`
		Seed       int64      `yaml:"seed"`
		Thresholds Thresholds `yaml:"thresholds"`
	} `yaml:"labeling"`

	Trainer struct {
		TestFraction    float64              `yaml:"test_fraction"`
		Folds           int                  `yaml:"folds"`
		Seed            int64                `yaml:"seed"`
		Workers         int                  `yaml:"workers"`
		GridSearch      bool                 `yaml:"grid_search"`
		Grid            map[string][]float64 `yaml:"grid"`
		CVF1Warn        float64              `yaml:"cv_f1_warn"`
		GapWarn         float64              `yaml:"gap_warn"`
		AccuracyWarn    float64              `yaml:"accuracy_warn"`
		MinClassSamples int                  `yaml:"min_class_samples"`
	} `yaml:"trainer"`

	Classifier ClassifierParams `yaml:"classifier"`

	Artifacts struct {
		Dir string `yaml:"dir"`
	} `yaml:"artifacts"`

	Output struct {
		Path            string `yaml:"path"`
		ReportPath      string `yaml:"report_path"`
		IncludeFeatures bool   `yaml:"include_features"`
		MetricsPath     string `yaml:"metrics_path"` // 为空则不导出
	} `yaml:"output"`
}

// Default 返回带默认值的配置，YAML 中未出现的字段保持默认
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "WARN"
	cfg.Log.Dir = "logs"
	cfg.Log.Filename = "ddos_flow_classifier.log"
	cfg.Log.MaxAge = 24
	cfg.Log.RotateTime = 1

	cfg.Input.Format = InputFormatCSV

	cfg.Labeling.Mode = LabelingModeRules
	cfg.Labeling.Seed = 42
	cfg.Labeling.Thresholds = DefaultThresholds()

	cfg.Trainer.TestFraction = 0.3
	cfg.Trainer.Folds = 5
	cfg.Trainer.Seed = 42
	cfg.Trainer.Workers = 4
	cfg.Trainer.CVF1Warn = 0.98
	cfg.Trainer.GapWarn = 0.05
	cfg.Trainer.AccuracyWarn = 0.98
	cfg.Trainer.MinClassSamples = 2
	cfg.Trainer.Grid = map[string][]float64{
		"n_estimators":      {100, 200},
		"max_depth":         {10, 20, 0},
		"min_samples_split": {2, 5},
		"min_samples_leaf":  {1, 2},
	}

	cfg.Classifier = ClassifierParams{
		NEstimators:     50,
		MaxDepth:        8,
		MinSamplesSplit: 20,
		MinSamplesLeaf:  10,
		MaxFeatures:     "sqrt",
		Balanced:        true,
		Seed:            42,
	}

	cfg.Artifacts.Dir = "model"
	cfg.Output.Path = "resultados_inferencia.csv"
	cfg.Output.ReportPath = "training_report.txt"
	return cfg
}

func (c *Config) Validate() error {
	switch c.Labeling.Mode {
	case LabelingModeRules, LabelingModeScore:
	default:
		return fmt.Errorf("unsupported labeling mode: %q", c.Labeling.Mode)
	}
	switch c.Input.Format {
	case InputFormatCSV, InputFormatPcap:
	default:
		return fmt.Errorf("unsupported input format: %q", c.Input.Format)
	}
	if c.Trainer.TestFraction <= 0 || c.Trainer.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in (0, 1), got %v", c.Trainer.TestFraction)
	}
	if c.Trainer.Folds < 2 {
		return fmt.Errorf("folds must be at least 2, got %d", c.Trainer.Folds)
	}
	if c.Trainer.Workers <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.Trainer.MinClassSamples < 2 {
		return fmt.Errorf("min class samples must be at least 2")
	}
	if c.Classifier.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be positive")
	}
	if c.Classifier.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir is required")
	}
	return nil
}

// RotationTime 日志切割间隔
func (c *Config) RotationTime() time.Duration {
	return time.Duration(c.Log.RotateTime) * time.Hour
}

// MaxLogAge 日志最大保存时间
func (c *Config) MaxLogAge() time.Duration {
	return time.Duration(c.Log.MaxAge) * time.Hour
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
