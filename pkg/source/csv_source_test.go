package source

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := `timestamp,src_ip,dst_ip,src_port,dst_port,protocol,length,tcp_flags
1.0,10.0.0.1,10.0.0.2,40000,80,TCP,100,2
2.0,10.0.0.1,10.0.0.2,40000,80,TCP,100,16
2024-01-01 00:00:01.5,10.0.0.3,10.0.0.4,5000,53,UDP,512,0
`
	rs, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 3, rs.Len())
	assert.True(t, rs.HasTimestamp)
	assert.True(t, rs.HasTCPFlags)
	assert.Equal(t, 0, rs.Issues.Total())

	first := rs.Records[0]
	assert.Equal(t, "10.0.0.1", first.SrcIP)
	assert.Equal(t, "10.0.0.2", first.DstIP)
	assert.Equal(t, types.ProtocolTCP, first.Protocol)
	assert.Equal(t, 100.0, first.Length)
	assert.Equal(t, 80.0, first.DstPort)
	assert.True(t, first.HasSYN())
	assert.False(t, rs.Records[1].HasSYN())

	third := rs.Records[2]
	assert.Equal(t, types.ProtocolUDP, third.Protocol)
	assert.InDelta(t, 1704067201.5, third.Timestamp, 1e-6)

	// 原始行保留，用于推理输出
	assert.Equal(t, "10.0.0.3", rs.Rows[2][1])
}

func TestReadCSVMissingRequiredColumns(t *testing.T) {
	input := "timestamp,src_ip,protocol\n1,10.0.0.1,TCP\n"
	_, err := ReadCSV(strings.NewReader(input))

	var schemaErr *types.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"dst_ip", "length", "dst_port"}, schemaErr.Missing)
	assert.Contains(t, err.Error(), "dst_ip")
}

func TestReadCSVEmptyInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	var schemaErr *types.SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestReadCSVOptionalColumnsAbsent(t *testing.T) {
	input := "src_ip,dst_ip,dst_port,protocol,length\n10.0.0.1,10.0.0.2,80,TCP,60\n"
	rs, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.False(t, rs.HasTimestamp)
	assert.False(t, rs.HasTCPFlags)
	assert.True(t, math.IsNaN(rs.Records[0].Timestamp))
	assert.Equal(t, uint8(0), rs.Records[0].TCPFlags)
}

func TestReadCSVGarbledValues(t *testing.T) {
	input := "src_ip,dst_ip,dst_port,protocol,length,tcp_flags\n" +
		"10.0.0.1,10.0.0.2,http,TCP,abc,???\n" +
		"10.0.0.1,10.0.0.2,80,TCP\n"
	rs, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())

	assert.True(t, math.IsNaN(rs.Records[0].Length))
	assert.True(t, math.IsNaN(rs.Records[0].DstPort))
	assert.Equal(t, uint8(0), rs.Records[0].TCPFlags)
	// 第二行缺少 length 单元格
	assert.True(t, math.IsNaN(rs.Records[1].Length))

	assert.Equal(t, 2, rs.Issues[types.ColumnLength])
	assert.Equal(t, 1, rs.Issues[types.ColumnDstPort])
	assert.Equal(t, 1, rs.Issues[types.ColumnTCPFlags])
}

func TestParseTCPFlags(t *testing.T) {
	testCases := []struct {
		in    string
		want  uint8
		valid bool
	}{
		{"2", 0x02, true},
		{"18", 0x12, true},
		{"0x02", 0x02, true},
		{"2.0", 0x02, true},
		{"SYN", 0x02, true},
		{"SYN|ACK", 0x12, true},
		{"syn,ack", 0x12, true},
		{"SA", 0x12, true},
		{"", 0, true},
		{"SEC", 0xC2, true},
		{"SYN|ECE", 0x42, true},
		{"SYN,CWR", 0x82, true},
		{"NS SYN", 0x02, true},
		{"0x0102", 0x02, true},
		{"258", 0x02, true},
		{"256", 0, true},
		{"65536", 0, false},
		{"SYN|XYZ", 0x02, false},
		{"XYZ", 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, valid := ParseTCPFlags(tc.in)
			assert.Equal(t, tc.valid, valid)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadCSVECNFlagsKeepSYN(t *testing.T) {
	input := "timestamp,src_ip,dst_ip,dst_port,protocol,length,tcp_flags\n" +
		"1.0,10.0.0.1,10.0.0.2,22,TCP,60,SEC\n" +
		"1.1,10.0.0.1,10.0.0.2,22,TCP,60,SYN|ECE|BOGUS\n"
	rs, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.True(t, rs.Records[0].HasSYN())
	// 无法识别的标志计入问题统计，但不清除 SYN 位
	assert.True(t, rs.Records[1].HasSYN())
	assert.Equal(t, 1, rs.Issues[types.ColumnTCPFlags])
}

func TestReadCSVProtocolNumbers(t *testing.T) {
	input := "src_ip,dst_ip,dst_port,protocol,length\n" +
		"10.0.0.1,10.0.0.2,53,17,512\n" +
		"10.0.0.1,10.0.0.2,80,6,60\n" +
		"10.0.0.1,10.0.0.2,0,GRE,60\n"
	rs, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, types.ProtocolUDP, rs.Records[0].Protocol)
	assert.Equal(t, types.ProtocolTCP, rs.Records[1].Protocol)
	assert.Equal(t, types.ProtocolUnknown, rs.Records[2].Protocol)
	assert.Equal(t, 1, rs.Issues[types.ColumnProtocol])
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("1700000000.25")
	assert.True(t, ok)
	assert.Equal(t, 1700000000.25, ts)

	ts, ok = ParseTimestamp("2024-01-01T00:00:00Z")
	assert.True(t, ok)
	assert.Equal(t, 1704067200.0, ts)

	ts, ok = ParseTimestamp("yesterday")
	assert.False(t, ok)
	assert.True(t, math.IsNaN(ts))
}
