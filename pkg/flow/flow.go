// Package flow 将数据包记录按 (src_ip, dst_ip) 聚合为流并计算流级统计量
//
// 流键是无序 IP 对而不是五元组：同一对主机之间的多条逻辑连接会合并为一条流，这是已知的简化。
package flow

import (
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
)

// Epsilon 速率计算分母中的平滑项，保证瞬时流的速率有限
const Epsilon = 1e-6

// Key 无序 IP 对，A <= B
type Key struct {
	A string
	B string
}

// NewKey 构造规范化的流键，(x, y) 与 (y, x) 得到同一个键
func NewKey(src, dst string) Key {
	if dst < src {
		src, dst = dst, src
	}
	return Key{A: src, B: dst}
}

func (k Key) String() string {
	return k.A + "<->" + k.B
}

// Flow 一条流的聚合统计，只在聚合时计算一次，之后只读
type Flow struct {
	Key         Key
	PacketCount int
	ByteCount   float64
	Duration    float64 // 秒，恒 >= 0
	PacketRate  float64
	ByteRate    float64
	TCPSyn      int // 流内任一报文携带 SYN 即为 1
	Protocols   map[types.Protocol]int
}

// Observation 单条数据包记录在所属流上下文中的视图，是标注和分类的基本单元
// 流级统计量广播到每一行，length/dst_port/protocol/tcp_syn 取自该数据包本身
type Observation struct {
	Index      int // 在输入记录集中的行号
	Flow       *Flow
	SrcIP      string
	DstIP      string
	SrcIPCount int // 全量输入中该源 IP 的报文数
	DstIPCount int // 全量输入中该目的 IP 的报文数
	Length     float64
	DstPort    float64
	Protocol   types.Protocol
	TCPSyn     int
}

// Table 一次聚合调用的完整结果
type Table struct {
	Flows        []*Flow       // 按流键排序
	Observations []Observation // 与输入记录一一对应
	SrcIPCounts  map[string]int
	DstIPCounts  map[string]int
}

// FlowByKey 按流键查找
func (t *Table) FlowByKey(k Key) (*Flow, bool) {
	for _, f := range t.Flows {
		if f.Key == k {
			return f, true
		}
	}
	return nil, false
}
