package source

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func writeTestPcap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipTCP := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ipTCP))

	ipUDP := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 3), DstIP: net.IPv4(10, 0, 0, 4)}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ipUDP))

	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 9},
	}
	ethARP := &layers.Ethernet{SrcMAC: eth.SrcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}

	base := time.Unix(1700000000, 0)
	frames := [][]byte{
		serialize(t, eth, ipTCP, tcp),
		serialize(t, eth, ipUDP, udp, gopacket.Payload(make([]byte, 100))),
		serialize(t, ethARP, arp),
	}
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * 500 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestReadPcapFile(t *testing.T) {
	rs, err := ReadPcapFile(writeTestPcap(t))
	require.NoError(t, err)

	// ARP 报文被跳过
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, pcapColumns, rs.Header)
	assert.True(t, rs.HasTimestamp)
	assert.True(t, rs.HasTCPFlags)

	syn := rs.Records[0]
	assert.Equal(t, "10.0.0.1", syn.SrcIP)
	assert.Equal(t, "10.0.0.2", syn.DstIP)
	assert.Equal(t, types.ProtocolTCP, syn.Protocol)
	assert.Equal(t, 80.0, syn.DstPort)
	assert.True(t, syn.HasSYN())
	assert.InDelta(t, 1700000000.0, syn.Timestamp, 1e-6)

	dns := rs.Records[1]
	assert.Equal(t, types.ProtocolUDP, dns.Protocol)
	assert.Equal(t, 53.0, dns.DstPort)
	assert.Equal(t, 14.0+20+8+100, dns.Length)
	assert.InDelta(t, 1700000000.5, dns.Timestamp, 1e-6)

	// 转换后的行可以再次被 CSV 契约解析
	assert.Equal(t, "UDP", rs.Rows[1][5])
	assert.Equal(t, "2", rs.Rows[0][7])
}

func TestReadPcapFileMissing(t *testing.T) {
	_, err := ReadPcapFile(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}
