package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	m := New()
	m.ObserveStage(types.StageLabeling, 10*time.Millisecond, nil)
	m.ObserveStage(types.StageLabeling, 20*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageErrors.WithLabelValues(types.StageLabeling.String())))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestAddValueIssues(t *testing.T) {
	m := New()
	issues := types.ValueIssues{}
	issues.Add("length")
	issues.Add("length")
	issues.Add("dst_port")
	m.AddValueIssues(issues)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValueIssues.WithLabelValues("length")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValueIssues.WithLabelValues("dst_port")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordsIngested.Add(42)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "ddos_classifier_records_ingested_total 42"))
}
