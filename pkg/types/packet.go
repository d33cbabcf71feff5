package types

import (
	"math"
	"strings"
)

// Protocol 传输层协议分类
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
)

// ParseProtocol 将协议名或 IANA 协议号映射为 Protocol，无法识别的一律视为 ProtocolUnknown
func ParseProtocol(name string) Protocol {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TCP", "6":
		return ProtocolTCP
	case "UDP", "17":
		return ProtocolUDP
	case "ICMP", "ICMPV6", "1", "58":
		return ProtocolICMP
	default:
		return ProtocolUnknown
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolICMP:
		return "ICMP"
	default:
		return "unknown"
	}
}

// TCP 标志位
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
	TCPFlagECE uint8 = 0x40
	TCPFlagCWR uint8 = 0x80
)

// PacketRecord 表示一条原始数据包记录，由外部数据源产生，处理过程中只读
// 数值列无法解析时以 NaN 作为哨兵值保留，后续由特征归一化统一置 0
type PacketRecord struct {
	Timestamp float64 // Unix 秒，NaN 表示缺失
	SrcIP     string
	DstIP     string
	SrcPort   float64
	DstPort   float64
	Protocol  Protocol
	Length    float64 // 字节数
	TCPFlags  uint8
}

// HasTimestamp 判断该记录是否带有有效时间戳
func (r *PacketRecord) HasTimestamp() bool {
	return !math.IsNaN(r.Timestamp) && !math.IsInf(r.Timestamp, 0)
}

// HasSYN 判断是否携带 SYN 标志位
func (r *PacketRecord) HasSYN() bool {
	return r.TCPFlags&TCPFlagSYN != 0
}

// 输入列名，列名本身属于对外契约
const (
	ColumnTimestamp = "timestamp"
	ColumnSrcIP     = "src_ip"
	ColumnDstIP     = "dst_ip"
	ColumnSrcPort   = "src_port"
	ColumnDstPort   = "dst_port"
	ColumnProtocol  = "protocol"
	ColumnLength    = "length"
	ColumnTCPFlags  = "tcp_flags"
)

// RequiredColumns 缺失任意一列都会导致 SchemaError
var RequiredColumns = []string{ColumnSrcIP, ColumnDstIP, ColumnLength, ColumnProtocol, ColumnDstPort}

// RecordSet 表示一次调用处理的整张输入表
// Header/Rows 保留原始文本，推理阶段据此输出增加预测列后的原始行
type RecordSet struct {
	Header       []string
	Rows         [][]string
	Records      []PacketRecord
	HasTimestamp bool // 输入是否包含 timestamp 列
	HasTCPFlags  bool // 输入是否包含 tcp_flags 列
	Issues       ValueIssues
}

// Len 返回记录条数
func (rs *RecordSet) Len() int {
	return len(rs.Records)
}

// ValueIssues 统计每一列被强制转换为哨兵值的次数，非致命
type ValueIssues map[string]int

// Add 记录一次数值转换问题
func (v ValueIssues) Add(column string) {
	v[column]++
}

// Total 返回问题总数
func (v ValueIssues) Total() int {
	total := 0
	for _, n := range v {
		total += n
	}
	return total
}

// Stage 表示处理阶段
type Stage int

const (
	StageIngest          Stage = iota + 1 //数据读取
	StageFlowAggregation                  //流聚合
	StageLabeling                         //启发式标注
	StageVectorize                        //特征向量化
	StageNormalize                        //特征归一化
	StageTraining                         //模型训练
	StagePersist                          //模型持久化
	StageInference                        //推理
)

func (s Stage) String() string {
	switch s {
	case StageIngest:
		return "ingest"
	case StageFlowAggregation:
		return "flow_aggregation"
	case StageLabeling:
		return "labeling"
	case StageVectorize:
		return "vectorize"
	case StageNormalize:
		return "normalize"
	case StageTraining:
		return "training"
	case StagePersist:
		return "persist"
	case StageInference:
		return "inference"
	default:
		return "unknown"
	}
}
