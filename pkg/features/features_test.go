package features

import (
	"testing"

	"github.com/haolipeng/ddos_flow_classifier/pkg/flow"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesOrder(t *testing.T) {
	assert.Equal(t, [Dim]string{
		"flow_duration", "packet_rate", "byte_rate",
		"src_ip_count", "dst_ip_count", "tcp_syn",
		"length", "dst_port", "protocol",
	}, Names)
}

func TestEncodeProtocol(t *testing.T) {
	assert.Equal(t, 1.0, EncodeProtocol(types.ProtocolTCP))
	assert.Equal(t, 2.0, EncodeProtocol(types.ProtocolUDP))
	assert.Equal(t, 3.0, EncodeProtocol(types.ProtocolICMP))
	assert.Equal(t, 0.0, EncodeProtocol(types.ProtocolUnknown))
}

func TestVectorizeTable(t *testing.T) {
	rs := &types.RecordSet{
		HasTimestamp: true,
		HasTCPFlags:  true,
		Records: []types.PacketRecord{
			{Timestamp: 1, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Protocol: types.ProtocolTCP, DstPort: 443, Length: 100, TCPFlags: types.TCPFlagSYN},
			{Timestamp: 2, SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Protocol: types.ProtocolTCP, DstPort: 443, Length: 300},
		},
	}
	vs := VectorizeTable(flow.Aggregate(rs))
	require.Len(t, vs, 2)

	v := vs[1]
	assert.InDelta(t, 1.0, v[FlowDuration], 1e-12)
	assert.InDelta(t, 2.0, v[PacketRate], 1e-5)
	assert.InDelta(t, 400.0, v[ByteRate], 1e-3)
	assert.Equal(t, 2.0, v[SrcIPCount])
	assert.Equal(t, 2.0, v[DstIPCount])
	assert.Equal(t, 0.0, v[TCPSyn])
	assert.Equal(t, 300.0, v[Length])
	assert.Equal(t, 443.0, v[DstPort])
	assert.Equal(t, 1.0, v[ProtocolCode])
	assert.Equal(t, 1.0, vs[0][TCPSyn])

	m := Matrix(vs)
	require.Len(t, m, 2)
	assert.Len(t, m[0], Dim)
	m[0][0] = -1
	assert.NotEqual(t, -1.0, vs[0][0], "Matrix 必须拷贝数据")
}
