package report

import "strings"

// nullValue 字段缺失时在提示词中的占位文本
const nullValue = "null"

var promptLabels = map[Field]string{
	FieldCustomerName:      "客户名称",
	FieldCustomerAddress:   "客户地址",
	FieldSampleName:        "样品名称",
	FieldModelNumber:       "型号",
	FieldMaterialNumber:    "料号",
	FieldCustomerReference: "客户参考信息",
	FieldSampleType:        "样品类型",
}

// AssemblePrompt 将记录渲染为用户消息
// 固定顺序，每行 "<标签>：<值>"，缺失字段写作 null，内容不做转义
func AssemblePrompt(record *Record) string {
	if record == nil {
		record = &Record{}
	}

	lines := make([]string, 0, len(Fields))
	for _, field := range Fields {
		value, ok := record.Get(field)
		if !ok {
			value = nullValue
		}
		lines = append(lines, promptLabels[field]+"："+value)
	}
	return strings.Join(lines, "\n")
}
