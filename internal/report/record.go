package report

// Field 报告中可提取的业务字段
type Field int

const (
	FieldCustomerName Field = iota
	FieldCustomerAddress
	FieldSampleName
	FieldModelNumber
	FieldMaterialNumber
	FieldCustomerReference
	FieldSampleType
)

// Fields 按提示词渲染顺序排列的全部字段
var Fields = []Field{
	FieldCustomerName,
	FieldCustomerAddress,
	FieldSampleName,
	FieldModelNumber,
	FieldMaterialNumber,
	FieldCustomerReference,
	FieldSampleType,
}

var fieldKeys = map[Field]string{
	FieldCustomerName:      "customerName",
	FieldCustomerAddress:   "customerAddress",
	FieldSampleName:        "sampleName",
	FieldModelNumber:       "modelNumber",
	FieldMaterialNumber:    "materialNumber",
	FieldCustomerReference: "customerReference",
	FieldSampleType:        "sampleType",
}

// String 返回字段的JSON键名
func (f Field) String() string {
	if key, ok := fieldKeys[f]; ok {
		return key
	}
	return "unknown"
}

// Record 从报告文本中提取出的结构化信息
// 字段为nil表示文本中没有出现对应标签，空字符串表示标签存在但值为空
type Record struct {
	CustomerName      *string `json:"customerName"`      // 客户名称
	CustomerAddress   *string `json:"customerAddress"`   // 客户地址
	SampleName        *string `json:"sampleName"`        // 样品名称
	ModelNumber       *string `json:"modelNumber"`       // 型号
	MaterialNumber    *string `json:"materialNumber"`    // 料号
	CustomerReference *string `json:"customerReference"` // 客户参考信息
	SampleType        *string `json:"sampleType"`        // 样品类型
}

func (r *Record) slot(f Field) **string {
	switch f {
	case FieldCustomerName:
		return &r.CustomerName
	case FieldCustomerAddress:
		return &r.CustomerAddress
	case FieldSampleName:
		return &r.SampleName
	case FieldModelNumber:
		return &r.ModelNumber
	case FieldMaterialNumber:
		return &r.MaterialNumber
	case FieldCustomerReference:
		return &r.CustomerReference
	case FieldSampleType:
		return &r.SampleType
	default:
		return nil
	}
}

// Get 返回字段值，第二个返回值表示字段是否存在
func (r *Record) Get(f Field) (string, bool) {
	p := r.slot(f)
	if p == nil || *p == nil {
		return "", false
	}
	return **p, true
}

// Set 设置字段值，覆盖之前的值
func (r *Record) Set(f Field, value string) {
	if p := r.slot(f); p != nil {
		v := value
		*p = &v
	}
}
