package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/haolipeng/ddos_flow_classifier/pkg/trainer"
	"github.com/sirupsen/logrus"
)

// WriteReport 输出人类可读的训练诊断报告
func WriteReport(w io.Writer, r *trainer.Report) error {
	bw := &errWriter{w: w}
	line := strings.Repeat("=", 60)

	bw.printf("%s\nTRAINING REPORT\n%s\n", line, line)
	bw.printf("model: %s %s\n", r.ModelKind, r.Params)
	bw.printf("label map: %s\n", r.LabelMap.Version)
	bw.printf("samples: %d (train %d / test %d)\n", r.Samples, r.TrainSamples, r.TestSamples)
	if len(r.DroppedClasses) > 0 {
		bw.printf("dropped classes: %v\n", r.DroppedClasses)
	}
	bw.printf("\nCV %s: %.3f (+/- %.3f)\n", r.CVScoring, r.CVMean, r.CVStd*2)
	bw.printf("train accuracy: %.4f\n", r.TrainAccuracy)
	bw.printf("test accuracy:  %.4f\n", r.TestAccuracy)
	bw.printf("gap:            %.4f\n", abs(r.TrainAccuracy-r.TestAccuracy))

	if r.Test != nil {
		bw.printf("\nCLASSIFICATION REPORT (TEST)\n")
		tw := tabwriter.NewWriter(bw, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "class\tprecision\trecall\tf1\tsupport\t")
		for _, m := range r.Test.PerClass {
			fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", r.LabelMap.Labels[m.Class], m.Precision, m.Recall, m.F1, m.Support)
		}
		fmt.Fprintf(tw, "macro f1\t\t\t%.2f\t\t\n", r.Test.MacroF1)
		fmt.Fprintf(tw, "weighted f1\t\t\t%.2f\t\t\n", r.Test.WeightedF1)
		bw.check(tw.Flush())

		bw.printf("\nCONFUSION MATRIX (rows: true, cols: predicted)\n")
		tw = tabwriter.NewWriter(bw, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprint(tw, "\t")
		for _, l := range r.LabelMap.Labels {
			fmt.Fprintf(tw, "%s\t", l)
		}
		fmt.Fprintln(tw)
		for i, row := range r.Test.Confusion {
			fmt.Fprintf(tw, "%s\t", r.LabelMap.Labels[i])
			for _, n := range row {
				fmt.Fprintf(tw, "%d\t", n)
			}
			fmt.Fprintln(tw)
		}
		bw.check(tw.Flush())
	}

	if len(r.Importances) > 0 {
		bw.printf("\nFEATURE IMPORTANCES\n")
		for _, fi := range r.Importances {
			bw.printf("%-20s | %.4f\n", fi.Feature, fi.Importance)
		}
	}

	if r.Search != nil {
		bw.printf("\nGRID SEARCH: best %s score %.4f over %d combinations\n",
			r.Search.Best, r.Search.BestScore, len(r.Search.Results))
	}

	bw.printf("\nDIAGNOSTICS\n")
	if len(r.Warnings) == 0 {
		bw.printf("no warnings\n")
	}
	for _, warn := range r.Warnings {
		bw.printf("WARNING [%s] %s\n", warn.Kind, warn.Message)
	}
	return bw.err
}

// WriteReportJSON 输出 JSON 格式的训练报告
func WriteReportJSON(w io.Writer, r *trainer.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteReportFile 按扩展名选择格式，.json 输出 JSON，其余输出文本
func WriteReportFile(path string, r *trainer.Report) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = WriteReportJSON(f, r)
	} else {
		err = WriteReport(f, r)
	}
	if err != nil {
		return err
	}
	logrus.WithField("path", path).Info("Training report written")
	return f.Close()
}

// errWriter 记录第一个写入错误，之后的写入全部跳过
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(e, format, args...)
}

func (e *errWriter) check(err error) {
	if e.err == nil {
		e.err = err
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
