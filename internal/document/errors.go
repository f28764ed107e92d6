package document

import (
	"errors"
	"fmt"
)

// 文档提取阶段的错误类型
var (
	// ErrNotFound 路径不存在或不是普通文件
	ErrNotFound = errors.New("document not found")
	// ErrUnsupportedFormat 扩展名不是 .docx 或 .pdf
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrParse 容器损坏或无法读取
	ErrParse = errors.New("failed to parse document")
)

// Error 文档提取错误，同时携带错误类型和原始原因
type Error struct {
	Kind error  // ErrNotFound / ErrUnsupportedFormat / ErrParse
	Path string // 文件路径
	Err  error  // 原始错误（可能为空）
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Path)
}

// Unwrap 同时暴露错误类型和原因，便于errors.Is/errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newNotFoundError(path string, err error) error {
	return &Error{Kind: ErrNotFound, Path: path, Err: err}
}

func newUnsupportedError(path string) error {
	return &Error{Kind: ErrUnsupportedFormat, Path: path}
}

func newParseError(path string, err error) error {
	return &Error{Kind: ErrParse, Path: path, Err: err}
}
