package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// 支持的时间戳文本格式，pyshark 导出的 sniff_time 为第二种
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ReadCSVFile 从文件读取列式记录集
func ReadCSVFile(filename string) (*types.RecordSet, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file %s: %w", filename, err)
	}
	defer f.Close()

	rs, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"file":    filename,
		"records": rs.Len(),
		"issues":  rs.Issues.Total(),
	}).Info("Loaded packet records")
	return rs, nil
}

// ReadCSV 读取带表头的 CSV 记录集
// 缺少必需列时返回 SchemaError 且不做任何部分处理；数值列中的非法值记为 NaN 并计入 Issues
func ReadCSV(r io.Reader) (*types.RecordSet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &types.SchemaError{Missing: append([]string(nil), types.RequiredColumns...)}
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	var missing []string
	for _, col := range types.RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &types.SchemaError{Missing: missing}
	}

	rs := &types.RecordSet{
		Header: header,
		Issues: make(types.ValueIssues),
	}
	_, rs.HasTimestamp = index[types.ColumnTimestamp]
	_, rs.HasTCPFlags = index[types.ColumnTCPFlags]

	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		rs.Rows = append(rs.Rows, row)
		rs.Records = append(rs.Records, parseRow(row, index, rs.Issues))
	}

	if n := rs.Issues.Total(); n > 0 {
		logrus.WithField("issues", map[string]int(rs.Issues)).Warnf("Coerced %d invalid values to missing", n)
	}
	return rs, nil
}

func parseRow(row []string, index map[string]int, issues types.ValueIssues) types.PacketRecord {
	cell := func(col string) (string, bool) {
		i, ok := index[col]
		if !ok {
			return "", false
		}
		if i >= len(row) {
			return "", true
		}
		return strings.TrimSpace(row[i]), true
	}

	rec := types.PacketRecord{Timestamp: math.NaN()}

	rec.SrcIP, _ = cell(types.ColumnSrcIP)
	rec.DstIP, _ = cell(types.ColumnDstIP)

	// 无法识别的协议退化为 unknown，计入问题统计
	v, _ := cell(types.ColumnProtocol)
	if rec.Protocol = types.ParseProtocol(v); rec.Protocol == types.ProtocolUnknown {
		issues.Add(types.ColumnProtocol)
	}

	rec.Length = parseNumber(cell, types.ColumnLength, issues)
	rec.DstPort = parseNumber(cell, types.ColumnDstPort, issues)
	if _, ok := index[types.ColumnSrcPort]; ok {
		rec.SrcPort = parseNumber(cell, types.ColumnSrcPort, issues)
	}

	if v, ok := cell(types.ColumnTimestamp); ok {
		ts, valid := ParseTimestamp(v)
		if !valid {
			issues.Add(types.ColumnTimestamp)
		}
		rec.Timestamp = ts
	}

	if v, ok := cell(types.ColumnTCPFlags); ok {
		flags, valid := ParseTCPFlags(v)
		if !valid {
			issues.Add(types.ColumnTCPFlags)
		}
		rec.TCPFlags = flags
	}

	return rec
}

func parseNumber(cell func(string) (string, bool), col string, issues types.ValueIssues) float64 {
	v, _ := cell(col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) {
		issues.Add(col)
		return math.NaN()
	}
	return f
}

// ParseTimestamp 解析 Unix 秒或常见时间文本，失败时返回 NaN
func ParseTimestamp(v string) (float64, bool) {
	if v == "" {
		return math.NaN(), false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
	}
	return math.NaN(), false
}

// ParseTCPFlags 解析 TCP 标志位
// 支持十进制整数、0x 十六进制、以及标志名集合（"SYN|ACK"、"SYN,ACK" 或紧凑形式 "SA"）
// 整数按 9 位标志字段解析后只保留低 8 位，NS 位被忽略
// 遇到无法识别的标志时返回 false，但已经解析出的标志位保留
func ParseTCPFlags(v string) (uint8, bool) {
	if v == "" {
		return 0, true
	}
	if n, err := strconv.ParseUint(v, 0, 16); err == nil {
		return uint8(n & 0xFF), true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 0xFFFF && f == math.Trunc(f) {
		return uint8(uint16(f) & 0xFF), true
	}

	names := strings.FieldsFunc(strings.ToUpper(v), func(r rune) bool {
		return r == '|' || r == ',' || r == ' ' || r == '+'
	})
	var flags uint8
	valid := true
	for _, name := range names {
		if bit, ok := flagNames[name]; ok {
			flags |= bit
			continue
		}
		// 紧凑形式，每个字母代表一个标志位
		for _, c := range name {
			bit, ok := flagLetters[c]
			if !ok {
				valid = false
				continue
			}
			flags |= bit
		}
	}
	return flags, valid
}

// NS 位不在 8 位标志字节内，只识别不记录
var flagNames = map[string]uint8{
	"FIN": types.TCPFlagFIN,
	"SYN": types.TCPFlagSYN,
	"RST": types.TCPFlagRST,
	"PSH": types.TCPFlagPSH,
	"ACK": types.TCPFlagACK,
	"URG": types.TCPFlagURG,
	"ECE": types.TCPFlagECE,
	"CWR": types.TCPFlagCWR,
	"NS":  0,
}

var flagLetters = map[rune]uint8{
	'F': types.TCPFlagFIN,
	'S': types.TCPFlagSYN,
	'R': types.TCPFlagRST,
	'P': types.TCPFlagPSH,
	'A': types.TCPFlagACK,
	'U': types.TCPFlagURG,
	'E': types.TCPFlagECE,
	'C': types.TCPFlagCWR,
	'N': 0,
}
