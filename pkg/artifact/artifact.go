// Package artifact 持久化训练产出的配套制品：分类器、归一化状态和标签映射
//
// 三者共享同一个制品集 ID，加载时逐一校验内容哈希和 ID，任何不匹配都会被拒绝。
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/haolipeng/ddos_flow_classifier/pkg/classifier"
	"github.com/haolipeng/ddos_flow_classifier/pkg/features"
	"github.com/haolipeng/ddos_flow_classifier/pkg/normalizer"
	"github.com/haolipeng/ddos_flow_classifier/pkg/types"
	"github.com/sirupsen/logrus"
)

// 制品文件名
const (
	ManifestFile   = "manifest.json"
	ModelFile      = "model.json"
	NormalizerFile = "normalizer.json"
	LabelMapFile   = "label_map.json"
	MetadataFile   = "metadata.json"
)

// FormatVersion 制品目录格式版本
const FormatVersion = 1

// Metadata 训练元数据，只用于追溯，不参与推理
type Metadata struct {
	ModelType     string            `json:"model_type"`
	Features      []string          `json:"features"`
	TrainAccuracy float64           `json:"train_accuracy"`
	TestAccuracy  float64           `json:"test_accuracy"`
	CVScoreMean   float64           `json:"cv_score_mean"`
	CVScoreStd    float64           `json:"cv_score_std"`
	Classes       []types.Label     `json:"classes"`
	ModelParams   classifier.Params `json:"model_params"`
	LabelingMode  string            `json:"labeling_mode"`
	RulesHash     string            `json:"rules_hash,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Set 一组配套制品
type Set struct {
	ID         string
	CreatedAt  time.Time
	Model      classifier.Classifier
	Normalizer *normalizer.State
	LabelMap   *types.LabelMap
	Metadata   Metadata
}

// NewSet 为一次训练的产出分配新的制品集 ID
func NewSet(model classifier.Classifier, norm *normalizer.State, lm *types.LabelMap, meta Metadata) *Set {
	return &Set{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Model:      model,
		Normalizer: norm,
		LabelMap:   lm,
		Metadata:   meta,
	}
}

// Validate 检查制品集内部是否自洽：特征契约一致，模型输出的类别数与标签映射一致
func (s *Set) Validate() error {
	if s.Model == nil || s.Normalizer == nil || s.LabelMap == nil {
		return errors.New("artifact set is incomplete")
	}
	if err := s.LabelMap.Validate(); err != nil {
		return &types.ArtifactMismatchError{Artifact: LabelMapFile, Expected: "valid label map", Actual: err.Error()}
	}
	if err := s.Normalizer.Validate(); err != nil {
		return &types.ArtifactMismatchError{Artifact: NormalizerFile, Expected: "feature contract", Actual: err.Error()}
	}
	sample := s.Model.PredictProba([][]float64{make([]float64, features.Dim)})
	if len(sample) != 1 || len(sample[0]) != s.LabelMap.Len() {
		actual := 0
		if len(sample) == 1 {
			actual = len(sample[0])
		}
		return &types.ArtifactMismatchError{
			Artifact: ModelFile,
			Expected: fmt.Sprintf("%d classes (label map %s)", s.LabelMap.Len(), s.LabelMap.Version),
			Actual:   fmt.Sprintf("%d classes", actual),
		}
	}
	return nil
}

// manifest 制品目录清单
type manifest struct {
	FormatVersion   int               `json:"format_version"`
	SetID           string            `json:"set_id"`
	CreatedAt       time.Time         `json:"created_at"`
	ModelKind       string            `json:"model_kind"`
	LabelMapVersion string            `json:"label_map_version"`
	Fingerprint     string            `json:"normalizer_fingerprint"`
	Files           map[string]string `json:"files"` // 文件名 -> sha256
}

// envelope 每个制品文件都携带所属制品集 ID
type envelope struct {
	SetID   string          `json:"set_id"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Save 将制品集写入目录，目录不存在时创建
func Save(dir string, s *Set) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	m := manifest{
		FormatVersion:   FormatVersion,
		SetID:           s.ID,
		CreatedAt:       s.CreatedAt,
		ModelKind:       s.Model.Kind(),
		LabelMapVersion: s.LabelMap.Version,
		Fingerprint:     s.Normalizer.Fingerprint(),
		Files:           make(map[string]string),
	}

	parts := []struct {
		name    string
		kind    string
		payload interface{}
	}{
		{ModelFile, s.Model.Kind(), s.Model},
		{NormalizerFile, "", s.Normalizer},
		{LabelMapFile, "", s.LabelMap},
		{MetadataFile, "", s.Metadata},
	}
	for _, p := range parts {
		payload, err := json.Marshal(p.payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.name, err)
		}
		data, err := json.MarshalIndent(envelope{SetID: s.ID, Kind: p.kind, Payload: payload}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, p.name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p.name, err)
		}
		m.Files[p.name] = digest(data)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	// 清单最后写入，中途失败的目录无法被加载
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"dir":       dir,
		"set_id":    s.ID,
		"label_map": s.LabelMap.Version,
	}).Info("Artifact set saved")
	return nil
}

// Load 读取并校验制品集，任何文件哈希或制品集 ID 不匹配都返回 ArtifactMismatchError
func Load(dir string) (*Set, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.FormatVersion != FormatVersion {
		return nil, &types.ArtifactMismatchError{
			Artifact: ManifestFile,
			Expected: fmt.Sprintf("format %d", FormatVersion),
			Actual:   fmt.Sprintf("format %d", m.FormatVersion),
		}
	}

	s := &Set{ID: m.SetID, CreatedAt: m.CreatedAt}

	env, err := readPart(dir, ModelFile, &m)
	if err != nil {
		return nil, err
	}
	if env.Kind != m.ModelKind {
		return nil, &types.ArtifactMismatchError{Artifact: ModelFile, Expected: m.ModelKind, Actual: env.Kind}
	}
	if s.Model, err = classifier.Unmarshal(env.Kind, env.Payload); err != nil {
		return nil, err
	}

	if env, err = readPart(dir, NormalizerFile, &m); err != nil {
		return nil, err
	}
	s.Normalizer = &normalizer.State{}
	if err := json.Unmarshal(env.Payload, s.Normalizer); err != nil {
		return nil, fmt.Errorf("decode %s: %w", NormalizerFile, err)
	}
	if fp := s.Normalizer.Fingerprint(); fp != m.Fingerprint {
		return nil, &types.ArtifactMismatchError{Artifact: NormalizerFile, Expected: m.Fingerprint, Actual: fp}
	}

	if env, err = readPart(dir, LabelMapFile, &m); err != nil {
		return nil, err
	}
	s.LabelMap = &types.LabelMap{}
	if err := json.Unmarshal(env.Payload, s.LabelMap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", LabelMapFile, err)
	}
	if s.LabelMap.Version != m.LabelMapVersion {
		return nil, &types.ArtifactMismatchError{Artifact: LabelMapFile, Expected: m.LabelMapVersion, Actual: s.LabelMap.Version}
	}

	if env, err = readPart(dir, MetadataFile, &m); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, &s.Metadata); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MetadataFile, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"dir": dir, "set_id": s.ID}).Info("Artifact set loaded")
	return s, nil
}

// readPart 读取单个制品文件并校验哈希与制品集 ID
func readPart(dir, name string, m *manifest) (*envelope, error) {
	expected, ok := m.Files[name]
	if !ok {
		return nil, &types.ArtifactMismatchError{Artifact: name, Expected: "listed in manifest", Actual: "missing"}
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if actual := digest(data); actual != expected {
		return nil, &types.ArtifactMismatchError{Artifact: name, Expected: expected, Actual: actual}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if env.SetID != m.SetID {
		return nil, &types.ArtifactMismatchError{Artifact: name, Expected: m.SetID, Actual: env.SetID}
	}
	return &env, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
