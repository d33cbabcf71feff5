package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/pipeline"
	"github.com/haolipeng/ddos_flow_classifier/pkg/trainer"
)

const (
	modeTrain = "train"
	modeInfer = "infer"
)

func InitLogger(cfg *config.Config) error {
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	logrus.SetFormatter(formatter)

	var level logrus.Level
	var err error
	var logWriter *rotates.RotateLogs

	switch cfg.Log.Level {
	case "DEBUG":
		level = logrus.DebugLevel
	case "WARN":
		level = logrus.WarnLevel
	case "INFO":
		level = logrus.InfoLevel
	case "ERROR":
		level = logrus.ErrorLevel
	case "FATAL":
		level = logrus.FatalLevel
	case "PANIC":
		level = logrus.PanicLevel
	default:
		level = logrus.WarnLevel //默认
	}
	logrus.SetLevel(level)

	//1、日志目录不存在则创建
	if _, err := os.Stat(cfg.Log.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
			return err
		}
	}
	logFileName := path.Join(cfg.Log.Dir, cfg.Log.Filename)

	//2、日志切割功能，按时间来切割，windows 不支持软链接
	rotateOpts := []rotates.Option{
		rotates.WithMaxAge(cfg.MaxLogAge()),          //文件最大保存时间
		rotates.WithRotationTime(cfg.RotationTime()), //文件切割间隔
	}
	if runtime.GOOS != "windows" {
		rotateOpts = append(rotateOpts, rotates.WithLinkName(logFileName))
	}
	logWriter, err = rotates.New(logFileName+".%Y%m%d%H%M", rotateOpts...)
	if err != nil {
		return err
	}

	//3、不同的日志级别写入同一个切割文件
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})

	logrus.AddHook(lfHook)
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file.")
	mode := flag.String("mode", modeTrain, "Operating mode: 'train' to fit and persist a model, 'infer' to label new traffic.")
	input := flag.String("input", "", "Input file, overrides input.path.")
	format := flag.String("format", "", "Input format (csv|pcap), overrides input.format.")
	artifacts := flag.String("artifacts", "", "Artifact directory, overrides artifacts.dir.")
	output := flag.String("output", "", "Inference output CSV, overrides output.path.")
	flag.Parse()

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *input != "" {
		cfg.Input.Path = *input
	}
	if *format != "" {
		cfg.Input.Format = *format
	}
	if *artifacts != "" {
		cfg.Artifacts.Dir = *artifacts
	}
	if *output != "" {
		cfg.Output.Path = *output
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Input.Path == "" {
		fmt.Println("Input file is required: set input.path or pass -input")
		flag.Usage()
		os.Exit(1)
	}

	// 初始化日志
	if err := InitLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 收到中断信号时取消训练
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rs, err := pipeline.ReadInput(cfg)
	if err != nil {
		logrus.Fatalf("Failed to read input %s: %v", cfg.Input.Path, err)
	}
	logrus.Infof("Read %d records from %s", rs.Len(), cfg.Input.Path)

	switch *mode {
	case modeTrain:
		out, err := pipeline.RunTraining(ctx, cfg, rs)
		if err != nil {
			logrus.Fatalf("Training failed: %v", err)
		}
		r := out.Report
		fmt.Printf("Artifact set %s saved to %s\n", out.Set.ID, cfg.Artifacts.Dir)
		fmt.Printf("CV %s: %.3f (+/- %.3f) | train acc %.3f | test acc %.3f\n",
			r.CVScoring, r.CVMean, r.CVStd*2, r.TrainAccuracy, r.TestAccuracy)
		for _, w := range r.Warnings {
			fmt.Printf("WARNING [%s]: %s\n", w.Kind, w.Message)
		}
		if r.HasWarning(trainer.WarnCVScoreHigh) || r.HasWarning(trainer.WarnTestAccuracy) {
			fmt.Println("Near-perfect scores usually mean the labels leak from the features.")
		}
	case modeInfer:
		res, err := pipeline.RunInference(ctx, cfg, rs)
		if err != nil {
			logrus.Fatalf("Inference failed: %v", err)
		}
		fmt.Printf("Labeled %d records in %d flows with artifact set %s\n", len(res.Predictions), len(res.Flows), res.SetID)
		for label, n := range res.Counts() {
			fmt.Printf("  %-12s %d\n", label, n)
		}
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}
