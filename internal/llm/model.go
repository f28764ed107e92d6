package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`    // 角色
	Content string      `json:"content"` // 内容
}

// SystemMessage 创建系统消息
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage 创建用户消息
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// TongyiRequest 通义千问请求结构
type TongyiRequest struct {
	Model      string              `json:"model"`                // 模型名称
	Input      *TongyiRequestInput `json:"input"`                // 输入内容
	Parameters *TongyiParameters   `json:"parameters,omitempty"` // 可选参数
}

// TongyiRequestInput 请求输入内容
type TongyiRequestInput struct {
	Messages []Message `json:"messages"` // 消息列表
}

// TongyiParameters 请求参数
type TongyiParameters struct {
	Temperature  *float32 `json:"temperature,omitempty"`   // 采样温度
	TopP         *float32 `json:"top_p,omitempty"`         // 核采样概率阈值
	TopK         *int     `json:"top_k,omitempty"`         // 生成候选集大小
	MaxTokens    *int     `json:"max_tokens,omitempty"`    // 最大生成Token数
	ResultFormat string   `json:"result_format,omitempty"` // 返回格式，message或text
}

// TongyiResponse 通义千问响应结构
type TongyiResponse struct {
	StatusCode int          `json:"status_code"` // 状态码
	RequestID  string       `json:"request_id"`  // 请求ID
	Code       string       `json:"code"`        // 错误码(如果有)
	Message    string       `json:"message"`     // 错误消息(如果有)
	Output     TongyiOutput `json:"output"`      // 输出结果
	Usage      TongyiUsage  `json:"usage"`       // 资源使用情况
}

// TongyiOutput 输出结构
type TongyiOutput struct {
	Text         *string        `json:"text"`          // 文本输出(当result_format为text时)
	FinishReason *string        `json:"finish_reason"` // 结束原因
	Choices      []TongyiChoice `json:"choices"`       // 选择列表(当result_format为message时)
}

// TongyiChoice 输出选择
type TongyiChoice struct {
	FinishReason string  `json:"finish_reason"` // 结束原因
	Message      Message `json:"message"`       // 消息内容
}

// TongyiUsage 资源使用情况
type TongyiUsage struct {
	InputTokens  int `json:"input_tokens"`  // 输入token数
	OutputTokens int `json:"output_tokens"` // 输出token数
	TotalTokens  int `json:"total_tokens"`  // 总token数
}

// ArkRequest 火山方舟对话请求（OpenAI兼容格式）
type ArkRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	TopP        *float32  `json:"top_p,omitempty"`
}

// ArkMessage 方舟返回的消息，推理模型会额外返回思考内容
type ArkMessage struct {
	Role             MessageRole `json:"role"`
	Content          string      `json:"content"`
	ReasoningContent string      `json:"reasoning_content,omitempty"`
}

// ArkChoice 方舟同步响应中的候选
type ArkChoice struct {
	Index        int        `json:"index"`
	Message      ArkMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// ArkUsage 方舟资源使用情况
type ArkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ArkResponse 方舟同步响应
type ArkResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Created int64         `json:"created"`
	Choices []ArkChoice   `json:"choices"`
	Usage   ArkUsage      `json:"usage"`
	Error   *apiErrorBody `json:"error,omitempty"`
}

// ArkStreamChoice 流式响应中的增量候选
type ArkStreamChoice struct {
	Index        int        `json:"index"`
	Delta        ArkMessage `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ArkStreamChunk 流式响应的一个数据块
type ArkStreamChunk struct {
	ID      string            `json:"id"`
	Model   string            `json:"model"`
	Choices []ArkStreamChoice `json:"choices"`
	Usage   *ArkUsage         `json:"usage,omitempty"`
	Error   *apiErrorBody     `json:"error,omitempty"`
}

// Usage 统一的token用量
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response 统一的响应结构
// 只使用第一个候选的内容
type Response struct {
	Text         string    // 生成的文本
	Messages     []Message // 返回的候选消息
	RequestID    string    // 服务端请求ID
	FinishReason string    // 结束原因
	Usage        Usage     // token用量
	TokenCount   int       // 使用的token总数
	ModelName    string    // 使用的模型名称
	FinishTime   time.Time // 完成时间
}

// Model 常用模型名称
const (
	ModelQwenTurbo = "qwen-turbo" // 通义千问-Turbo模型（较快，基础能力）
	ModelQwenPlus  = "qwen-plus"  // 通义千问-Plus模型（平衡速度和性能）
	ModelQwenMax   = "qwen-max"   // 通义千问-Max模型（高级能力，速度较慢）

	ModelDeepSeekR1 = "deepseek-r1-250120" // 方舟上的DeepSeek-R1
	ModelDeepSeekV3 = "deepseek-v3-241226" // 方舟上的DeepSeek-V3
)
