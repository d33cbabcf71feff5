// Package sink 推理结果与训练报告的输出
package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/inference"
	"github.com/sirupsen/logrus"
)

// 输出追加的列
const (
	ColumnPredictedLabel = "predicted_label"
	ColumnConfidence     = "confidence"
	calculatedSuffix     = "_calculated"
)

// CSVOptions CSV 输出选项
type CSVOptions struct {
	// IncludeFeatures 追加 <feature>_calculated 列，输出归一化前的原始特征
	IncludeFeatures bool
}

// WriteCSV 输出原始输入行，并追加预测标签和置信度列
func WriteCSV(w io.Writer, res *inference.Result, opts CSVOptions) error {
	cw := csv.NewWriter(w)

	header := append([]string{}, res.Records.Header...)
	header = append(header, ColumnPredictedLabel, ColumnConfidence)
	if opts.IncludeFeatures {
		for _, name := range features.Names {
			header = append(header, name+calculatedSuffix)
		}
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, p := range res.Predictions {
		var row []string
		if i < len(res.Records.Rows) {
			row = append(row, res.Records.Rows[i]...)
		}
		row = append(row, string(p.Label), strconv.FormatFloat(p.Confidence, 'f', 6, 64))
		if opts.IncludeFeatures {
			for _, v := range res.Features[i] {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile 写入文件，父目录不存在时创建
func WriteCSVFile(path string, res *inference.Result, opts CSVOptions) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteCSV(f, res, opts); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path": path,
		"rows": len(res.Predictions),
	}).Info("Inference output written")
	return f.Close()
}

func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		logrus.Errorf("Failed to create output file: %v", err)
		return nil, err
	}
	return f, nil
}
