package storage

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/report-checker/internal/document"
	"github.com/google/uuid"
)

var (
	// ErrFileNotFound 找不到指定ID的文件
	ErrFileNotFound = errors.New("file not found")
	// ErrUnsupportedFile 只接受docx和pdf报告
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
	Path     string // 内部存储路径(实现相关)
}

// Storage 上传报告的存储接口
// 可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Save 保存文件并返回文件信息
	Save(reader io.Reader, filename string) (FileInfo, error)

	// Get 获取文件内容
	Get(id string) (io.ReadCloser, error)

	// Materialize 返回可供解析器读取的本地路径
	// 调用方用完后必须调用cleanup
	Materialize(id string) (path string, cleanup func(), err error)

	// Delete 删除文件
	Delete(id string) error

	// List 列出所有文件
	List() ([]FileInfo, error)

	// Exists 检查文件是否存在
	Exists(id string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string // local 或 minio
	Local LocalConfig
	Minio MinioConfig
}

// NewStorage 根据配置创建存储实现
func NewStorage(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// checkFilename 检查上传文件名，返回规范化的小写扩展名
func checkFilename(filename string) (string, error) {
	if !document.IsSupported(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(filename))
	}
	return strings.ToLower(filepath.Ext(filename)), nil
}

// validID 文件ID均为uuid，其他输入直接视为不存在
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// idFromName 从存储文件名中取出ID
func idFromName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// getMimeType 根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch document.DetectContentType(filename) {
	case document.PDF:
		return "application/pdf"
	case document.Docx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
