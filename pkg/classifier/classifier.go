// Package classifier 定义可替换的分类器能力边界，并提供参考随机森林实现
//
// 流水线只依赖 Classifier 接口，任何实现了 fit/predict/predict_proba 的模型都可以替换进来。
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haolipeng/ddos_flow_classifier/pkg/evaluation"
)

// Classifier 分类器能力
type Classifier interface {
	// Fit 在特征矩阵 X 与类别编码 y 上训练，类别编码取值范围为 [0, numClasses)
	Fit(ctx context.Context, X [][]float64, y []int, numClasses int) error
	Predict(X [][]float64) []int
	// PredictProba 每行返回 numClasses 个类别概率
	PredictProba(X [][]float64) [][]float64
	// Kind 模型类型名，用于持久化后还原
	Kind() string
}

// FeatureImportancer 可以给出特征重要性的分类器
type FeatureImportancer interface {
	FeatureImportances() []float64
}

// Tuner 具备自身超参数搜索机制的分类器，调用方只提供网格和评分规则
type Tuner interface {
	Tune(ctx context.Context, data Dataset, grid Grid, folds []evaluation.Fold, scorer evaluation.Scorer) (*SearchResult, error)
}

// Dataset 训练数据
type Dataset struct {
	X          [][]float64
	Y          []int
	NumClasses int
}

// Validate 检查数据形状
func (d Dataset) Validate() error {
	if len(d.X) == 0 {
		return fmt.Errorf("empty training set")
	}
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("feature rows %d do not match labels %d", len(d.X), len(d.Y))
	}
	if d.NumClasses < 1 {
		return fmt.Errorf("num classes must be positive")
	}
	width := len(d.X[0])
	for i, row := range d.X {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		if d.Y[i] < 0 || d.Y[i] >= d.NumClasses {
			return fmt.Errorf("row %d has class %d outside [0, %d)", i, d.Y[i], d.NumClasses)
		}
	}
	return nil
}

// Subset 按下标取子集
func (d Dataset) Subset(idx []int) Dataset {
	out := Dataset{X: make([][]float64, len(idx)), Y: make([]int, len(idx)), NumClasses: d.NumClasses}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
	}
	return out
}

// Params 超参数，键名沿用常见的树模型命名
type Params map[string]float64

// Clone 拷贝
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge 返回叠加 overrides 后的新参数
func (p Params) Merge(overrides Params) Params {
	out := p.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Int 读取整数参数
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

// Bool 读取布尔参数，非 0 为真
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key]; ok {
		return v != 0
	}
	return def
}

// String 按键名排序输出，便于日志和报告
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%g", k, p[k])
	}
	return s + "}"
}

// Factory 按超参数构造未训练的分类器
type Factory func(p Params) (Classifier, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Classifier{}
)

// Register 注册可持久化的模型类型
func Register(kind string, newFn func() Classifier) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = newFn
}

// Unmarshal 按模型类型还原已训练的分类器
func Unmarshal(kind string, data []byte) (Classifier, error) {
	registryMu.RLock()
	newFn, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown classifier kind: %q", kind)
	}
	c := newFn()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode %s classifier: %w", kind, err)
	}
	return c, nil
}
