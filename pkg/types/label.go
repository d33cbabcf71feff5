package types

import "fmt"

// Label 流量标签，取值为封闭枚举
type Label string

const (
	LabelBenign    Label = "Benign"
	LabelUDPFlood  Label = "UDP-Flood"
	LabelSYNFlood  Label = "SYN-Flood"
	LabelHTTPFlood Label = "HTTP-Flood"
	LabelDDoSOther Label = "DDoS-Other"
)

// AllLabels 全部合法标签
var AllLabels = []Label{LabelBenign, LabelUDPFlood, LabelSYNFlood, LabelHTTPFlood, LabelDDoSOther}

// Valid 判断标签是否属于封闭枚举
func (l Label) Valid() bool {
	for _, v := range AllLabels {
		if v == l {
			return true
		}
	}
	return false
}

// 标签映射版本
const (
	LabelMapV1          = "v1"
	LabelMapV2Realistic = "v2-realistic"
)

// LabelMap 标签与整数编码的双向映射，编码即为 Labels 中的下标
// 该映射与模型、归一化器一起作为带版本的制品持久化
type LabelMap struct {
	Version string  `json:"version"`
	Labels  []Label `json:"labels"`
}

// DefaultLabelMap 规则标注使用的四分类映射
func DefaultLabelMap() *LabelMap {
	return &LabelMap{
		Version: LabelMapV1,
		Labels:  []Label{LabelBenign, LabelUDPFlood, LabelSYNFlood, LabelHTTPFlood},
	}
}

// RealisticLabelMap 评分标注使用的映射，额外包含 DDoS-Other
func RealisticLabelMap() *LabelMap {
	return &LabelMap{
		Version: LabelMapV2Realistic,
		Labels:  []Label{LabelBenign, LabelUDPFlood, LabelSYNFlood, LabelHTTPFlood, LabelDDoSOther},
	}
}

// Encode 标签编码
func (m *LabelMap) Encode(label Label) (int, error) {
	for i, l := range m.Labels {
		if l == label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("label %q is not present in label map %q", label, m.Version)
}

// Decode 整数解码，未知编码返回 UnmappedLabelError，绝不回退到默认标签
func (m *LabelMap) Decode(code int) (Label, error) {
	if code < 0 || code >= len(m.Labels) {
		return "", &UnmappedLabelError{Code: code, MapVersion: m.Version}
	}
	return m.Labels[code], nil
}

// Len 返回映射中的标签数量
func (m *LabelMap) Len() int {
	return len(m.Labels)
}

// Validate 检查映射中没有重复或非法标签
func (m *LabelMap) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("label map version is empty")
	}
	seen := make(map[Label]bool, len(m.Labels))
	for _, l := range m.Labels {
		if !l.Valid() {
			return fmt.Errorf("label map %q contains unknown label %q", m.Version, l)
		}
		if seen[l] {
			return fmt.Errorf("label map %q contains duplicate label %q", m.Version, l)
		}
		seen[l] = true
	}
	return nil
}
