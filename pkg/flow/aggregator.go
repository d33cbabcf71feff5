package flow

import (
	"math"
	"sort"

	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// Aggregate 将记录集聚合为流
// 纯函数：不持有跨调用状态，训练和推理走同一条路径，输出只取决于输入
// 没有 timestamp 列时所有流时长为 0，速率退化为计数除以 Epsilon；没有 tcp_flags 列时 tcp_syn 恒为 0
func Aggregate(rs *types.RecordSet) *Table {
	srcCounts, dstCounts := countIPs(rs.Records)

	type acc struct {
		flow    *Flow
		minTS   float64
		maxTS   float64
		hasTS   bool
		members []int
	}
	accs := make(map[Key]*acc)

	for i := range rs.Records {
		rec := &rs.Records[i]
		key := NewKey(rec.SrcIP, rec.DstIP)
		a, ok := accs[key]
		if !ok {
			a = &acc{flow: &Flow{Key: key, Protocols: make(map[types.Protocol]int)}}
			accs[key] = a
		}

		a.members = append(a.members, i)
		a.flow.PacketCount++
		// 无法解析的长度不参与求和
		if !math.IsNaN(rec.Length) {
			a.flow.ByteCount += rec.Length
		}
		a.flow.Protocols[rec.Protocol]++
		if rs.HasTCPFlags && rec.HasSYN() {
			a.flow.TCPSyn = 1
		}
		if rs.HasTimestamp && rec.HasTimestamp() {
			if !a.hasTS {
				a.minTS, a.maxTS, a.hasTS = rec.Timestamp, rec.Timestamp, true
			} else {
				a.minTS = math.Min(a.minTS, rec.Timestamp)
				a.maxTS = math.Max(a.maxTS, rec.Timestamp)
			}
		}
	}

	table := &Table{
		Flows:        make([]*Flow, 0, len(accs)),
		Observations: make([]Observation, len(rs.Records)),
		SrcIPCounts:  srcCounts,
		DstIPCounts:  dstCounts,
	}

	for _, a := range accs {
		f := a.flow
		if a.hasTS && f.PacketCount > 1 {
			f.Duration = a.maxTS - a.minTS
		}
		f.PacketRate = float64(f.PacketCount) / (f.Duration + Epsilon)
		f.ByteRate = f.ByteCount / (f.Duration + Epsilon)
		table.Flows = append(table.Flows, f)
	}
	sort.Slice(table.Flows, func(i, j int) bool {
		ki, kj := table.Flows[i].Key, table.Flows[j].Key
		if ki.A != kj.A {
			return ki.A < kj.A
		}
		return ki.B < kj.B
	})

	for _, a := range accs {
		for _, i := range a.members {
			rec := &rs.Records[i]
			syn := 0
			if rs.HasTCPFlags && rec.HasSYN() {
				syn = 1
			}
			table.Observations[i] = Observation{
				Index:      i,
				Flow:       a.flow,
				SrcIP:      rec.SrcIP,
				DstIP:      rec.DstIP,
				SrcIPCount: srcCounts[rec.SrcIP],
				DstIPCount: dstCounts[rec.DstIP],
				Length:     rec.Length,
				DstPort:    rec.DstPort,
				Protocol:   rec.Protocol,
				TCPSyn:     syn,
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"records": rs.Len(),
		"flows":   len(table.Flows),
	}).Debug("Aggregated flows")
	return table
}

// countIPs 单独一遍扫描得到全局 IP 计数，结果只读地供每条流使用
func countIPs(records []types.PacketRecord) (map[string]int, map[string]int) {
	src := make(map[string]int)
	dst := make(map[string]int)
	for i := range records {
		src[records[i].SrcIP]++
		dst[records[i].DstIP]++
	}
	return src, dst
}
