package report

import (
	"errors"
	"regexp"
	"strings"
)

// Label 标签文本到字段的映射
type Label struct {
	Field Field  // 对应字段
	Text  string // 报告中的标签文字，不含分隔符
}

// DefaultLabels 报告中使用的中文标签
var DefaultLabels = []Label{
	{Field: FieldCustomerName, Text: "客户名称"},
	{Field: FieldCustomerAddress, Text: "客户地址"},
	{Field: FieldSampleName, Text: "样品名称"},
	{Field: FieldModelNumber, Text: "型号"},
	{Field: FieldMaterialNumber, Text: "料号"},
	{Field: FieldCustomerReference, Text: "客户参考信息"},
	{Field: FieldSampleType, Text: "样品类型"},
}

// DefaultSeparators 标签与值之间的分隔符
var DefaultSeparators = []string{"："}

// 标签分隔符之后、可选竖线前后的空白，不跨行
const inlineSpace = `[\t\f\r \p{Zs}]*`

// ExtractorConfig 字段提取器配置
type ExtractorConfig struct {
	Labels     []Label  // 标签表
	Separators []string // 标签后的分隔符
}

// ExtractorOption 提取器配置选项
type ExtractorOption func(*ExtractorConfig)

// WithLabels 替换标签表
func WithLabels(labels []Label) ExtractorOption {
	return func(c *ExtractorConfig) {
		c.Labels = labels
	}
}

// WithSeparators 替换标签分隔符，例如同时接受全角和半角冒号
func WithSeparators(separators ...string) ExtractorOption {
	return func(c *ExtractorConfig) {
		c.Separators = separators
	}
}

// Extractor 基于正则的字段提取器
// 所有标签编译成一个交替模式，对文本只做一次从左到右的扫描
type Extractor struct {
	pattern *regexp.Regexp
	groups  []Field // 第i个捕获组对应的字段
}

// NewExtractor 创建字段提取器
func NewExtractor(opts ...ExtractorOption) (*Extractor, error) {
	cfg := &ExtractorConfig{
		Labels:     DefaultLabels,
		Separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Labels) == 0 {
		return nil, errors.New("extractor requires at least one label")
	}

	var seps []string
	for _, s := range cfg.Separators {
		if s != "" {
			seps = append(seps, regexp.QuoteMeta(s))
		}
	}
	if len(seps) == 0 {
		return nil, errors.New("extractor requires at least one separator")
	}
	sepPattern := "(?:" + strings.Join(seps, "|") + ")"

	alternatives := make([]string, 0, len(cfg.Labels))
	groups := make([]Field, 0, len(cfg.Labels))
	for _, label := range cfg.Labels {
		if strings.TrimSpace(label.Text) == "" {
			return nil, errors.New("extractor label text cannot be empty")
		}
		alternatives = append(alternatives,
			"(?:"+regexp.QuoteMeta(label.Text)+sepPattern+inlineSpace+`\|?`+inlineSpace+`([^\n|]*))`)
		groups = append(groups, label.Field)
	}

	pattern, err := regexp.Compile(strings.Join(alternatives, "|"))
	if err != nil {
		return nil, err
	}

	return &Extractor{pattern: pattern, groups: groups}, nil
}

// Extract 从规范化文本中提取字段
// 同一标签多次出现时以最后一次为准；文本中没有的字段保持未设置
func (e *Extractor) Extract(text string) *Record {
	record := &Record{}

	for _, loc := range e.pattern.FindAllStringSubmatchIndex(text, -1) {
		for i, field := range e.groups {
			start, end := loc[2*(i+1)], loc[2*(i+1)+1]
			if start < 0 {
				continue
			}
			record.Set(field, strings.TrimSpace(text[start:end]))
			break
		}
	}

	return record
}

// Pattern 返回编译后的正则表达式文本
func (e *Extractor) Pattern() string {
	return e.pattern.String()
}
