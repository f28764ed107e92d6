package llm

import (
	"errors"
	"fmt"
)

// ErrGenerationFailed 所有生成阶段错误都匹配该哨兵错误
// 可通过 errors.Is(err, ErrGenerationFailed) 与文档读取错误区分
var ErrGenerationFailed = errors.New("generation failed")

// LLMError 大模型调用错误类型
type LLMError struct {
	Code    int    // 错误码
	Message string // 错误消息
	Cause   error  // 最后一次失败的底层原因
}

// Error 实现error接口
func (e LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm error (code=%d): %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm error (code=%d): %s", e.Code, e.Message)
}

// Unwrap 返回底层原因
func (e LLMError) Unwrap() error {
	return e.Cause
}

// Is 使所有LLMError都匹配ErrGenerationFailed
func (e LLMError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥（鉴权失败）
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限或配额不足
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyPrompt    = 1007 // 提示词为空
	ErrCodeContentFilter  = 1008 // 内容安全过滤
	ErrCodeModelOverload  = 1009 // 模型过载
	ErrCodeContextTooLong = 1010 // 上下文过长
	ErrCodeClientClosed   = 1011 // 客户端已关闭
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyPrompt    = "prompt cannot be empty"
	ErrMsgNetworkError   = "network connection error"
	ErrMsgContentFilter  = "content filtered due to safety concerns"
	ErrMsgModelOverload  = "model is currently overloaded"
	ErrMsgContextTooLong = "context length exceeds model's maximum"
	ErrMsgClientClosed   = "client has been closed"
)

// NewLLMError 创建新的大模型错误
func NewLLMError(code int, message string) LLMError {
	return LLMError{
		Code:    code,
		Message: message,
	}
}

// WrapError 包装普通错误为LLM错误，保留原始错误作为原因
func WrapError(err error, code int) LLMError {
	if err == nil {
		return LLMError{Code: code, Message: "unknown error"}
	}

	// 如果已经是LLMError类型，则直接返回
	var llmErr LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}

	return LLMError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// ErrorCode 返回错误对应的错误码，非LLMError返回0
func ErrorCode(err error) int {
	var llmErr LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Code
	}
	return 0
}
