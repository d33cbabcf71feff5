package labeling

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// RuleLabeler 基于 CEL 规则的确定性标注器，按顺序求值，第一条命中的规则决定标签，均未命中为 Benign
type RuleLabeler struct {
	rules      []compiledRule
	thresholds config.Thresholds
	labelMap   *types.LabelMap
	hash       string
}

// newEnv 声明规则中可用的全部变量
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		// 观测字段
		cel.Variable("protocol", cel.StringType),
		cel.Variable("flow_duration", cel.DoubleType),
		cel.Variable("packet_rate", cel.DoubleType),
		cel.Variable("byte_rate", cel.DoubleType),
		cel.Variable("src_ip_count", cel.IntType),
		cel.Variable("dst_ip_count", cel.IntType),
		cel.Variable("tcp_syn", cel.IntType),
		cel.Variable("flow_tcp_syn", cel.IntType),
		cel.Variable("packet_count", cel.IntType),
		cel.Variable("length", cel.DoubleType),
		cel.Variable("dst_port", cel.IntType),

		// 阈值
		cel.Variable("udp_flood_byte_rate", cel.DoubleType),
		cel.Variable("syn_flood_packet_rate", cel.DoubleType),
		cel.Variable("syn_flood_max_duration", cel.DoubleType),
		cel.Variable("http_flood_packet_rate", cel.DoubleType),
	)
}

// NewRuleLabeler 编译规则，任何一条规则编译失败都返回错误
func NewRuleLabeler(rules []Rule, th config.Thresholds) (*RuleLabeler, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create cel env failed: %w", err)
	}

	l := &RuleLabeler{thresholds: th, labelMap: types.DefaultLabelMap(), hash: RulesHash(rules)}
	for _, r := range rules {
		if !r.Label.Valid() {
			return nil, fmt.Errorf("rule %s has unknown label %q", r.RuleID, r.Label)
		}
		if r.Label == types.LabelDDoSOther {
			l.labelMap = types.RealisticLabelMap()
		}
		if r.State != RuleStateEnable {
			logrus.Debugf("规则 %s 未启用，跳过", r.RuleID)
			continue
		}
		program, err := compileRuleToProgram(env, r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s failed: %w", r.RuleID, err)
		}
		l.rules = append(l.rules, compiledRule{rule: r, program: program})
	}
	return l, nil
}

// compileRuleToProgram 编译CEL规则
func compileRuleToProgram(env *cel.Env, expression string) (cel.Program, error) {
	ast, iss := env.Compile(expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile expression failed: %w", iss.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %w", err)
	}
	return program, nil
}

// Label 实现 Labeler
func (l *RuleLabeler) Label(o *flow.Observation) types.Label {
	vars := l.buildEvalVars(o)
	for _, cr := range l.rules {
		matched, err := evaluateRule(cr.program, vars)
		if err != nil {
			// 求值失败视为未命中，保证全函数性质
			logrus.Warnf("规则 %s 求值失败: %v", cr.rule.RuleID, err)
			continue
		}
		if matched {
			return cr.rule.Label
		}
	}
	return types.LabelBenign
}

// LabelMap 实现 Labeler
func (l *RuleLabeler) LabelMap() *types.LabelMap {
	return l.labelMap
}

// Hash 规则集指纹
func (l *RuleLabeler) Hash() string {
	return l.hash
}

// buildEvalVars 根据观测构建评估变量
func (l *RuleLabeler) buildEvalVars(o *flow.Observation) map[string]interface{} {
	return map[string]interface{}{
		"protocol":      o.Protocol.String(),
		"flow_duration": o.Flow.Duration,
		"packet_rate":   o.Flow.PacketRate,
		"byte_rate":     o.Flow.ByteRate,
		"src_ip_count":  int64(o.SrcIPCount),
		"dst_ip_count":  int64(o.DstIPCount),
		"tcp_syn":       int64(o.TCPSyn),
		"flow_tcp_syn":  int64(o.Flow.TCPSyn),
		"packet_count":  int64(o.Flow.PacketCount),
		"length":        o.Length,
		"dst_port":      portValue(o.DstPort),

		"udp_flood_byte_rate":    l.thresholds.UDPFloodByteRate,
		"syn_flood_packet_rate":  l.thresholds.SYNFloodPacketRate,
		"syn_flood_max_duration": l.thresholds.SYNFloodMaxDur,
		"http_flood_packet_rate": l.thresholds.HTTPFloodPktRate,
	}
}

// portValue 端口缺失或无法解析时取 -1，不会命中任何端口条件
func portValue(p float64) int64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return -1
	}
	return int64(p)
}

// evaluateRule 执行规则程序并校验结果类型
func evaluateRule(program cel.Program, vars map[string]interface{}) (bool, error) {
	result, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate rule failed: %w", err)
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule result is not boolean: %v", result.Value())
	}
	return matched, nil
}
