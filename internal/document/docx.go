package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	docxMainPart  = "word/document.xml"
	cellSeparator = " | "
)

// DocxParser Word文档解析器
// 只读取正文部分（word/document.xml），页眉页脚不参与提取
type DocxParser struct{}

// NewDocxParser 创建一个新的Word解析器
func NewDocxParser() Parser {
	return &DocxParser{}
}

// Parse 解析docx文件
func (p *DocxParser) Parse(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", newParseError(filePath, err)
	}
	return p.parseBytes(data, filePath)
}

// ParseReader 从Reader解析docx内容
func (p *DocxParser) ParseReader(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", newParseError(filename, err)
	}
	return p.parseBytes(data, filename)
}

func (p *DocxParser) parseBytes(data []byte, name string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", newParseError(name, err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == docxMainPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", newParseError(name, errors.New("word/document.xml not found"))
	}

	rc, err := part.Open()
	if err != nil {
		return "", newParseError(name, err)
	}
	defer rc.Close()

	body, err := readDocxBody(rc)
	if err != nil {
		return "", newParseError(name, err)
	}
	return body.render(), nil
}

// docxBody 正文中顶层的段落与表格
type docxBody struct {
	paragraphs []string
	tables     [][][]string // table -> row -> cell
}

// render 先输出非空段落，再逐行输出表格，单元格以 " | " 连接
func (b *docxBody) render() string {
	var sb strings.Builder
	for _, para := range b.paragraphs {
		if strings.TrimSpace(para) == "" {
			continue
		}
		sb.WriteString(para)
		sb.WriteString("\n")
	}

	for _, table := range b.tables {
		for _, row := range table {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) == 0 {
				continue
			}
			sb.WriteString(strings.Join(cells, cellSeparator))
			sb.WriteString("\n")
		}
	}

	return strings.TrimSpace(sb.String())
}

// readDocxBody 流式解析document.xml
// 嵌套表格与文本框中的文字归入其所在的顶层单元格或段落
func readDocxBody(r io.Reader) (*docxBody, error) {
	decoder := xml.NewDecoder(r)
	body := &docxBody{}

	var (
		tableDepth int
		paraDepth  int
		runDepth   int
		inText     bool
		para       strings.Builder
		cellParas  []string
		inCell     bool
	)

	currentTable := func() [][]string { return body.tables[len(body.tables)-1] }

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					body.tables = append(body.tables, nil)
				}
			case "tr":
				if tableDepth == 1 {
					body.tables[len(body.tables)-1] = append(currentTable(), nil)
				}
			case "tc":
				if tableDepth == 1 {
					inCell = true
					cellParas = cellParas[:0]
				}
			case "p":
				paraDepth++
				if paraDepth == 1 {
					para.Reset()
				}
			case "pPr", "rPr":
				// 属性中的制表位等定义不是正文
				if err := decoder.Skip(); err != nil {
					return nil, fmt.Errorf("decode document.xml: %w", err)
				}
			case "r":
				runDepth++
			case "t":
				inText = paraDepth > 0
			case "tab":
				if paraDepth > 0 && runDepth > 0 {
					para.WriteString("\t")
				}
			case "br", "cr":
				if paraDepth > 0 && runDepth > 0 {
					para.WriteString("\n")
				}
			}

		case xml.CharData:
			if inText {
				para.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				if runDepth > 0 {
					runDepth--
				}
			case "p":
				if paraDepth == 0 {
					continue
				}
				paraDepth--
				if paraDepth > 0 {
					continue
				}
				if tableDepth == 0 {
					body.paragraphs = append(body.paragraphs, para.String())
				} else if inCell {
					cellParas = append(cellParas, para.String())
				}
			case "tc":
				if tableDepth == 1 && inCell {
					table := currentTable()
					if len(table) == 0 {
						table = append(table, nil)
					}
					last := len(table) - 1
					table[last] = append(table[last], strings.Join(cellParas, "\n"))
					body.tables[len(body.tables)-1] = table
					inCell = false
				}
			case "tbl":
				if tableDepth > 0 {
					tableDepth--
				}
			}
		}
	}

	return body, nil
}
