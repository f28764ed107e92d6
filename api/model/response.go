package model

import "github.com/fyerfyer/report-checker/internal/report"

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// ReportParseResponse 字段解析响应
type ReportParseResponse struct {
	Record *report.Record `json:"record"` // 提取出的字段，缺失字段为null
	Prompt string         `json:"prompt"` // 组装好的用户消息
}

// UsageInfo token用量
type UsageInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ReportCheckResponse 合规检查响应
type ReportCheckResponse struct {
	Record    *report.Record `json:"record"`               // 提取出的字段
	Report    string         `json:"report"`               // 模型生成的报告(markdown)
	HTML      string         `json:"html,omitempty"`       // format=html 时的渲染结果
	Provider  string         `json:"provider"`             // 提供方
	Model     string         `json:"model"`                // 模型名
	RequestID string         `json:"request_id,omitempty"` // 服务端请求ID
	Usage     UsageInfo      `json:"usage"`                // token用量
	ElapsedMS int64          `json:"elapsed_ms"`           // 耗时(毫秒)
	Cached    bool           `json:"cached"`               // 是否命中缓存
}

// ReportUploadResponse 报告上传响应
type ReportUploadResponse struct {
	FileID   string `json:"file_id"`   // 文件ID
	FileName string `json:"filename"`  // 文件名
	Size     int64  `json:"size"`      // 文件大小
	MimeType string `json:"mime_type"` // MIME类型
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status          string   `json:"status"`
	Providers       []string `json:"providers"`
	DefaultProvider string   `json:"default_provider"`
}
