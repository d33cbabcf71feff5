package labeling

import (
	"math/rand"
	"sync"

	"github.com/haolipeng/ddos_flow_classifier/pkg/config"
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
)

// 可疑度评分的信号阈值
const (
	scorePacketRateHigh   = 1000.0
	scorePacketRateMedium = 500.0
	scoreByteRateHigh     = 1_000_000.0
	scoreByteRateMedium   = 500_000.0
	scoreShortDuration    = 0.1
	scoreLongDuration     = 3600.0
	scoreSYNMaxDuration   = 1.0
	scoreSrcIPFanout      = 10000
	scoreDstIPFanin       = 1000
	scoreJitter           = 0.5
)

// 评分分档
const (
	ScoreAttack    = 4.0
	ScoreGreyZone  = 2.5
	GreyAttackProb = 0.3
)

// amplificationPorts DNS/NTP/SNMP 反射放大常用端口
var amplificationPorts = map[int64]bool{53: true, 123: true, 161: true}

var greyZoneLabels = []types.Label{types.LabelUDPFlood, types.LabelSYNFlood, types.LabelHTTPFlood}

// ScoreLabeler 对 7 个信号加权求和并叠加随机扰动，按分数分档决定标签
//
// 随机源由调用方注入，固定种子即可复现。同一个实例的多次调用共享随机序列，因此结果依赖调用顺序。
type ScoreLabeler struct {
	mu         sync.Mutex
	rng        *rand.Rand
	thresholds config.Thresholds
}

// NewScoreLabeler 创建评分标注器，rng 不能为空
func NewScoreLabeler(th config.Thresholds, rng *rand.Rand) *ScoreLabeler {
	return &ScoreLabeler{rng: rng, thresholds: th}
}

// Score 计算不含随机扰动的可疑度
func Score(o *flow.Observation) float64 {
	f := o.Flow
	score := 0.0

	switch {
	case f.PacketRate > scorePacketRateHigh:
		score += 2
	case f.PacketRate > scorePacketRateMedium:
		score += 1
	}

	switch {
	case f.ByteRate > scoreByteRateHigh:
		score += 2
	case f.ByteRate > scoreByteRateMedium:
		score += 1
	}

	if f.Duration < scoreShortDuration || f.Duration > scoreLongDuration {
		score += 1
	}

	if o.TCPSyn == 1 && f.Duration < scoreSYNMaxDuration {
		score += 2
	}

	if o.SrcIPCount > scoreSrcIPFanout {
		score += 1
	}
	if o.DstIPCount > scoreDstIPFanin {
		score += 1
	}

	if o.Protocol == types.ProtocolUDP && amplificationPorts[portValue(o.DstPort)] {
		score += 1
	}
	return score
}

// Label 实现 Labeler
func (l *ScoreLabeler) Label(o *flow.Observation) types.Label {
	l.mu.Lock()
	defer l.mu.Unlock()

	score := Score(o) + (l.rng.Float64()*2-1)*scoreJitter

	switch {
	case score >= ScoreAttack:
		return l.attackType(o)
	case score >= ScoreGreyZone:
		if l.rng.Float64() < GreyAttackProb {
			return greyZoneLabels[l.rng.Intn(len(greyZoneLabels))]
		}
		return types.LabelBenign
	default:
		return types.LabelBenign
	}
}

// attackType 高分观测的攻击子类型判定，阈值与规则标注器共用
func (l *ScoreLabeler) attackType(o *flow.Observation) types.Label {
	f := o.Flow
	port := portValue(o.DstPort)
	switch {
	case o.Protocol == types.ProtocolUDP && f.ByteRate > l.thresholds.UDPFloodByteRate:
		return types.LabelUDPFlood
	case o.TCPSyn == 1 && f.PacketRate > l.thresholds.SYNFloodPacketRate:
		return types.LabelSYNFlood
	case (port == 80 || port == 443) && f.PacketRate > l.thresholds.HTTPFloodPktRate:
		return types.LabelHTTPFlood
	default:
		return types.LabelDDoSOther
	}
}

// LabelMap 实现 Labeler
func (l *ScoreLabeler) LabelMap() *types.LabelMap {
	return types.RealisticLabelMap()
}
