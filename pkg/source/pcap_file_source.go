package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// pcap 转换输出的列，与 CSV 输入契约保持一致
var pcapColumns = []string{
	types.ColumnTimestamp,
	types.ColumnSrcIP,
	types.ColumnDstIP,
	types.ColumnSrcPort,
	types.ColumnDstPort,
	types.ColumnProtocol,
	types.ColumnLength,
	types.ColumnTCPFlags,
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// ReadPcapFile 读取 pcap/pcapng 文件并转换为记录集，非 IP 报文直接跳过
func ReadPcapFile(filename string) (*types.RecordSet, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", filename, err)
	}

	var (
		reader   packetReader
		linkType layers.LinkType
	)
	// pcapng 以 Section Header Block 0x0A0D0D0A 开头
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng reader: %w", err)
		}
		reader, linkType = ng, ng.LinkType()
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcap reader: %w", err)
		}
		reader, linkType = r, r.LinkType()
	}

	rs, skipped, err := readPackets(reader, linkType)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"file":    filename,
		"records": rs.Len(),
		"skipped": skipped,
	}).Info("Converted pcap packets to records")
	return rs, nil
}

func readPackets(reader packetReader, linkType layers.LinkType) (*types.RecordSet, int, error) {
	rs := &types.RecordSet{
		Header:       append([]string(nil), pcapColumns...),
		HasTimestamp: true,
		HasTCPFlags:  true,
		Issues:       make(types.ValueIssues),
	}

	skipped := 0
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to read packet %d: %w", rs.Len()+skipped+1, err)
		}

		packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		rec, ok := recordFromPacket(packet, ci)
		if !ok {
			skipped++
			continue
		}

		rs.Records = append(rs.Records, rec)
		rs.Rows = append(rs.Rows, recordRow(&rec))
	}
	return rs, skipped, nil
}

func recordFromPacket(packet gopacket.Packet, ci gopacket.CaptureInfo) (types.PacketRecord, bool) {
	rec := types.PacketRecord{
		Timestamp: float64(ci.Timestamp.UnixNano()) / 1e9,
		Length:    float64(ci.Length),
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		rec.SrcIP, rec.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		rec.SrcIP, rec.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return rec, false
	}

	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		rec.Protocol = types.ProtocolTCP
		rec.SrcPort, rec.DstPort = float64(l.SrcPort), float64(l.DstPort)
		rec.TCPFlags = tcpFlags(l)
	case *layers.UDP:
		rec.Protocol = types.ProtocolUDP
		rec.SrcPort, rec.DstPort = float64(l.SrcPort), float64(l.DstPort)
	default:
		if packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil {
			rec.Protocol = types.ProtocolICMP
		}
	}
	return rec, true
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= types.TCPFlagFIN
	}
	if tcp.SYN {
		flags |= types.TCPFlagSYN
	}
	if tcp.RST {
		flags |= types.TCPFlagRST
	}
	if tcp.PSH {
		flags |= types.TCPFlagPSH
	}
	if tcp.ACK {
		flags |= types.TCPFlagACK
	}
	if tcp.URG {
		flags |= types.TCPFlagURG
	}
	if tcp.ECE {
		flags |= types.TCPFlagECE
	}
	if tcp.CWR {
		flags |= types.TCPFlagCWR
	}
	return flags
}

func recordRow(rec *types.PacketRecord) []string {
	protocol := rec.Protocol.String()
	if rec.Protocol == types.ProtocolUnknown {
		protocol = ""
	}
	return []string{
		strconv.FormatFloat(rec.Timestamp, 'f', 6, 64),
		rec.SrcIP,
		rec.DstIP,
		strconv.FormatFloat(rec.SrcPort, 'f', -1, 64),
		strconv.FormatFloat(rec.DstPort, 'f', -1, 64),
		protocol,
		strconv.FormatFloat(rec.Length, 'f', -1, 64),
		strconv.Itoa(int(rec.TCPFlags)),
	}
}
