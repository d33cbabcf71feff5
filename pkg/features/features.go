// Package features 定义分类器输入特征向量的契约
//
// 特征集合及顺序是训练和推理所有生产方与分类器之间的契约，增删字段必须同时修改所有生产方。
package features

import (
	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
)

// Dim 特征维度
const Dim = 9

// 特征下标
const (
	FlowDuration = iota
	PacketRate
	ByteRate
	SrcIPCount
	DstIPCount
	TCPSyn
	Length
	DstPort
	ProtocolCode
)

// Names 特征名，顺序与 Vector 下标一致
var Names = [Dim]string{
	"flow_duration",
	"packet_rate",
	"byte_rate",
	"src_ip_count",
	"dst_ip_count",
	"tcp_syn",
	"length",
	"dst_port",
	"protocol",
}

// Vector 固定 9 维特征向量
type Vector [Dim]float64

// protocolCodes 协议编码表，训练和推理共用
var protocolCodes = map[types.Protocol]float64{
	types.ProtocolTCP:  1,
	types.ProtocolUDP:  2,
	types.ProtocolICMP: 3,
}

// EncodeProtocol 协议编码，无法识别的协议编码为 0
func EncodeProtocol(p types.Protocol) float64 {
	return protocolCodes[p]
}

// Vectorize 由观测生成原始（未归一化）特征向量
func Vectorize(o *flow.Observation) Vector {
	var v Vector
	v[FlowDuration] = o.Flow.Duration
	v[PacketRate] = o.Flow.PacketRate
	v[ByteRate] = o.Flow.ByteRate
	v[SrcIPCount] = float64(o.SrcIPCount)
	v[DstIPCount] = float64(o.DstIPCount)
	v[TCPSyn] = float64(o.TCPSyn)
	v[Length] = o.Length
	v[DstPort] = o.DstPort
	v[ProtocolCode] = EncodeProtocol(o.Protocol)
	return v
}

// VectorizeTable 对聚合结果的每条观测生成特征向量，顺序与输入记录一致
func VectorizeTable(t *flow.Table) []Vector {
	out := make([]Vector, len(t.Observations))
	for i := range t.Observations {
		out[i] = Vectorize(&t.Observations[i])
	}
	return out
}

// Matrix 转换为分类器使用的二维切片
func Matrix(vs []Vector) [][]float64 {
	out := make([][]float64, len(vs))
	for i := range vs {
		row := make([]float64, Dim)
		copy(row, vs[i][:])
		out[i] = row
	}
	return out
}
