package document

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// 不在用户目录下生成pdfcpu配置文件
	api.DisableConfigDir()
}

// PDFParser PDF文档解析器
// 按页序线性提取文本，不尝试还原表格结构
type PDFParser struct {
	conf *model.Configuration
}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFParser{conf: conf}
}

// Parse 解析PDF文件并提取其文本内容
func (p *PDFParser) Parse(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", newParseError(filePath, err)
	}
	return p.parseBytes(data, filePath)
}

// ParseReader 从Reader解析PDF内容
func (p *PDFParser) ParseReader(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", newParseError(filename, err)
	}
	return p.parseBytes(data, filename)
}

func (p *PDFParser) parseBytes(data []byte, name string) (text string, err error) {
	// 先用pdfcpu校验容器结构，损坏的文件直接报解析错误
	if err := api.Validate(bytes.NewReader(data), p.conf); err != nil {
		return "", newParseError(name, err)
	}

	// ledongthuc/pdf 遇到异常内容流时可能panic
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = newParseError(name, fmt.Errorf("pdf text extraction panicked: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", newParseError(name, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", newParseError(name, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", newParseError(name, err)
	}
	return buf.String(), nil
}
