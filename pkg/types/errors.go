package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput 输入表没有任何记录
var ErrEmptyInput = errors.New("input record set is empty")

// StageError 标识出错的处理阶段
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline error at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func NewStageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// SchemaError 缺少必需的输入列，致命错误，不做任何部分处理
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// UnmappedLabelError 解码的整数不在标签映射中，通常意味着模型与标签映射版本不匹配
type UnmappedLabelError struct {
	Code       int
	MapVersion string
}

func (e *UnmappedLabelError) Error() string {
	return fmt.Sprintf("label code %d is not present in label map %q", e.Code, e.MapVersion)
}

// ArtifactMismatchError 模型、归一化器、标签映射不是同一次训练产出的配套制品
type ArtifactMismatchError struct {
	Artifact string
	Expected string
	Actual   string
}

func (e *ArtifactMismatchError) Error() string {
	return fmt.Sprintf("artifact %s does not belong to the loaded set: expected %q, got %q",
		e.Artifact, e.Expected, e.Actual)
}
