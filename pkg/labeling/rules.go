package labeling

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"gopkg.in/yaml.v3"
)

// 规则状态
const (
	RuleStateEnable  = "enable"
	RuleStateDisable = "disable"
)

// Rule 一条标注规则，Expression 是返回 bool 的 CEL 表达式
type Rule struct {
	RuleID      string      `yaml:"rule_id"`
	State       string      `yaml:"state"` // enable/disable
	Label       types.Label `yaml:"label"`
	Expression  string      `yaml:"expression"`
	Description string      `yaml:"description"`
}

// ruleFile 规则文件结构，规则按文件中的顺序求值
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules 内置规则集，求值顺序即优先级
func DefaultRules() []Rule {
	return []Rule{
		{
			RuleID:      "udp_flood",
			State:       RuleStateEnable,
			Label:       types.LabelUDPFlood,
			Expression:  `protocol == "UDP" && byte_rate > udp_flood_byte_rate`,
			Description: "UDP 字节速率超过阈值",
		},
		{
			RuleID:      "syn_flood",
			State:       RuleStateEnable,
			Label:       types.LabelSYNFlood,
			Expression:  `protocol == "TCP" && tcp_syn == 1 && flow_duration < syn_flood_max_duration && packet_rate > syn_flood_packet_rate`,
			Description: "短时携带 SYN 的高包速率 TCP 流",
		},
		{
			RuleID:      "http_flood",
			State:       RuleStateEnable,
			Label:       types.LabelHTTPFlood,
			Expression:  `dst_port in [80, 443] && packet_rate > http_flood_packet_rate`,
			Description: "访问 80/443 端口的高包速率流",
		},
	}
}

// LoadRules 从 YAML 文件加载规则列表
func LoadRules(filePath string) ([]Rule, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("解析YAML失败: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("规则文件 %s 中没有任何规则", filePath)
	}

	seen := make(map[string]bool, len(rf.Rules))
	for i, r := range rf.Rules {
		if r.RuleID == "" {
			return nil, fmt.Errorf("第 %d 条规则缺少 rule_id", i+1)
		}
		if seen[r.RuleID] {
			return nil, fmt.Errorf("规则ID重复: %s", r.RuleID)
		}
		seen[r.RuleID] = true
		if r.State == "" {
			rf.Rules[i].State = RuleStateEnable
		}
	}
	return rf.Rules, nil
}

// calculateExpressionHash 计算表达式的哈希值
func calculateExpressionHash(expression string) string {
	sum := sha256.Sum256([]byte(expression))
	return hex.EncodeToString(sum[:])
}

// RulesHash 规则集指纹，随模型元数据一起持久化，用于追溯训练标签的来源
func RulesHash(rules []Rule) string {
	h := sha256.New()
	for _, r := range rules {
		fmt.Fprintf(h, "%s|%s|%s|%s\n", r.RuleID, r.State, r.Label, calculateExpressionHash(r.Expression))
	}
	return hex.EncodeToString(h.Sum(nil))
}
