package document

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Parser 文档解析器接口
// 负责将不同格式的文档容器解析为规范化的纯文本
type Parser interface {
	// Parse 解析文档，返回文本内容
	Parse(filePath string) (string, error)

	// ParseReader 从Reader解析文档，返回文本内容
	// filename仅用于错误信息
	ParseReader(r io.Reader, filename string) (string, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// Docx Word文档类型
	Docx ContentType = "docx"
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// Extract 读取文件并返回规范化文本
// 先检查文件是否存在，再按扩展名分派解析器
func Extract(filePath string) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", newNotFoundError(filePath, err)
	}
	if !info.Mode().IsRegular() {
		return "", newNotFoundError(filePath, nil)
	}

	parser, err := ParserFactory(filePath)
	if err != nil {
		return "", err
	}
	return parser.Parse(filePath)
}

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
func ParserFactory(filePath string) (Parser, error) {
	switch DetectContentType(filePath) {
	case Docx:
		return NewDocxParser(), nil
	case PDF:
		return NewPDFParser(), nil
	default:
		return nil, newUnsupportedError(filePath)
	}
}

// DetectContentType 根据文件扩展名检测内容类型，不区分大小写
func DetectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".docx":
		return Docx
	case ".pdf":
		return PDF
	default:
		return Unknown
	}
}

// IsSupported 判断文件名是否为受支持的容器格式
func IsSupported(filename string) bool {
	return DetectContentType(filename) != Unknown
}
