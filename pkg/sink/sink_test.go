package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haolipeng/ddos_flow_classifier/pkg/classifier"
	"github.com/haolipeng/ddos_flow_classifier/pkg/evaluation"
	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/inference"
	"github.com/haolipeng/ddos_flow_classifier/pkg/trainer"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *inference.Result {
	var v features.Vector
	v[features.ByteRate] = 1234.5
	return &inference.Result{
		Records: &types.RecordSet{
			Header: []string{"src_ip", "dst_ip", "length"},
			Rows:   [][]string{{"10.0.0.1", "10.0.0.2", "60"}, {"10.0.0.3", "10.0.0.4", "x"}},
		},
		Features: []features.Vector{v, {}},
		Predictions: []inference.Prediction{
			{Index: 0, Label: types.LabelBenign, Confidence: 0.9},
			{Index: 1, Label: types.LabelUDPFlood, Confidence: 0.55},
		},
	}
}

func readAll(t *testing.T, data string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResult(), CSVOptions{}))

	rows := readAll(t, buf.String())
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"src_ip", "dst_ip", "length", "predicted_label", "confidence"}, rows[0])
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.4", "x", "UDP-Flood", "0.550000"}, rows[2])
}

func TestWriteCSVWithFeatures(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResult(), CSVOptions{IncludeFeatures: true}))

	rows := readAll(t, buf.String())
	require.Len(t, rows[0], 5+features.Dim)
	assert.Equal(t, "flow_duration_calculated", rows[0][5])
	assert.Equal(t, "protocol_calculated", rows[0][len(rows[0])-1])
	assert.Equal(t, "1234.5", rows[1][5+features.ByteRate])
}

func sampleReport() *trainer.Report {
	lm := types.DefaultLabelMap()
	test, _ := evaluation.Evaluate([]int{0, 0, 1, 2}, []int{0, 0, 1, 1}, lm.Len())
	return &trainer.Report{
		ModelKind:     classifier.KindForest,
		Params:        classifier.Params{classifier.ParamNEstimators: 50},
		LabelMap:      lm,
		Samples:       10,
		TrainSamples:  6,
		TestSamples:   4,
		CVScoring:     evaluation.ScoringF1Macro,
		CVScores:      []float64{0.9, 0.8},
		CVMean:        0.85,
		CVStd:         0.05,
		TrainAccuracy: 1,
		TestAccuracy:  0.75,
		Test:          test,
		Importances:   []trainer.FeatureImportance{{Feature: "byte_rate", Importance: 0.7}},
		Warnings:      []trainer.Warning{{Kind: trainer.WarnTrainTestGap, Message: "gap too large", Value: 0.25}},
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleReport()))
	out := buf.String()

	for _, want := range []string{
		"TRAINING REPORT",
		"CV f1_macro: 0.850 (+/- 0.100)",
		"test accuracy:  0.7500",
		"CONFUSION MATRIX",
		"SYN-Flood",
		"byte_rate",
		"WARNING [train_test_gap] gap too large",
	} {
		assert.Contains(t, out, want)
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "nested", "report.json")
	require.NoError(t, WriteReportFile(jsonPath, sampleReport()))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 0.75, decoded["test_accuracy"])

	textPath := filepath.Join(dir, "report.txt")
	require.NoError(t, WriteReportFile(textPath, sampleReport()))
	data, err = os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FEATURE IMPORTANCES")
}
