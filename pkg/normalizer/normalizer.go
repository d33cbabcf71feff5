// Package normalizer 特征清洗与标准化，拟合状态只在训练时计算一次，推理时原样复用
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// State 拟合得到的逐特征均值与缩放系数
type State struct {
	FeatureNames [features.Dim]string  `json:"feature_names"`
	Mean         [features.Dim]float64 `json:"mean"`
	Scale        [features.Dim]float64 `json:"scale"`
	Samples      int                   `json:"samples"`
}

// Clean ±Inf 先视为缺失，缺失值一律替换为 0
func Clean(v features.Vector) features.Vector {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
		}
	}
	return v
}

// Fit 在清洗后的训练向量上估计总体均值和标准差，标准差为 0 的特征缩放系数取 1
func Fit(vs []features.Vector) (*State, error) {
	if len(vs) == 0 {
		return nil, types.ErrEmptyInput
	}

	s := &State{FeatureNames: features.Names, Samples: len(vs)}
	cleaned := make([]features.Vector, len(vs))
	for i := range vs {
		cleaned[i] = Clean(vs[i])
	}
	col := make([]float64, len(vs))
	for j := 0; j < features.Dim; j++ {
		for i := range cleaned {
			col[i] = cleaned[i][j]
		}
		s.Mean[j], s.Scale[j] = meanStdDev(col)
	}
	return s, nil
}

// meanStdDev 先按最大绝对值缩放再求方差，速率类特征接近 float64 上限时平方不会溢出
// 标准差为 0 或非有限值时缩放系数取 1
func meanStdDev(col []float64) (float64, float64) {
	var peak float64
	for _, x := range col {
		peak = math.Max(peak, math.Abs(x))
	}
	if peak == 0 {
		return 0, 1
	}
	scaled := make([]float64, len(col))
	for i, x := range col {
		scaled[i] = x / peak
	}
	mean, std := stat.PopMeanStdDev(scaled, nil)
	mean, std = mean*peak, std*peak
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		std = 1
	}
	return mean, std
}

// Transform 标准化单个向量
func (s *State) Transform(v features.Vector) features.Vector {
	v = Clean(v)
	for j := range v {
		v[j] = (v[j] - s.Mean[j]) / s.Scale[j]
	}
	return v
}

// Apply 使用已拟合状态标准化一批向量，不会重新估计任何统计量
func (s *State) Apply(vs []features.Vector) []features.Vector {
	out := make([]features.Vector, len(vs))
	for i := range vs {
		out[i] = s.Transform(vs[i])
	}
	return out
}

// Validate 检查持久化状态与当前特征契约一致
func (s *State) Validate() error {
	if s.FeatureNames != features.Names {
		return fmt.Errorf("normalizer feature names %v do not match %v", s.FeatureNames, features.Names)
	}
	for j, sc := range s.Scale {
		if sc == 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return fmt.Errorf("normalizer scale for %s is invalid: %v", s.FeatureNames[j], sc)
		}
		if math.IsNaN(s.Mean[j]) || math.IsInf(s.Mean[j], 0) {
			return fmt.Errorf("normalizer mean for %s is invalid: %v", s.FeatureNames[j], s.Mean[j])
		}
	}
	return nil
}

// Fingerprint 拟合状态的内容指纹
func (s *State) Fingerprint() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
