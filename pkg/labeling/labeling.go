// Package labeling 为没有真实标注的流量合成训练标签
package labeling

import (
	"fmt"
	"math/rand"

	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
)

// Labeler 观测到标签的映射，必须是全函数：每条观测恰好得到一个封闭枚举中的标签
type Labeler interface {
	Label(o *flow.Observation) types.Label
	// LabelMap 该标注器可能产出的全部标签对应的编码映射
	LabelMap() *types.LabelMap
}

// LabelTable 按输入顺序为聚合结果中的每条观测打标签
func LabelTable(l Labeler, t *flow.Table) []types.Label {
	labels := make([]types.Label, len(t.Observations))
	for i := range t.Observations {
		labels[i] = l.Label(&t.Observations[i])
	}
	return labels
}

// New 根据配置创建标注器
func New(cfg *config.Config) (Labeler, error) {
	th := cfg.Labeling.Thresholds
	switch cfg.Labeling.Mode {
	case config.LabelingModeRules:
		rules := DefaultRules()
		if cfg.Labeling.RulesFile != "" {
			loaded, err := LoadRules(cfg.Labeling.RulesFile)
			if err != nil {
				return nil, err
			}
			rules = loaded
		}
		return NewRuleLabeler(rules, th)
	case config.LabelingModeScore:
		return NewScoreLabeler(th, rand.New(rand.NewSource(cfg.Labeling.Seed))), nil
	default:
		return nil, fmt.Errorf("unsupported labeling mode: %q", cfg.Labeling.Mode)
	}
}
