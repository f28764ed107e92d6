package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// 通义千问API端点
	defaultTongyiEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	defaultTongyiModel    = ModelQwenPlus
)

// TongyiClient 通义千问(DashScope)大模型客户端实现
type TongyiClient struct {
	cfg       *Config
	endpoint  string
	transport *transport
}

// NewTongyiClient 创建新的通义千问大模型客户端
func NewTongyiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 验证API密钥
	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultTongyiEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultTongyiModel
	}

	return &TongyiClient{
		cfg:       cfg,
		endpoint:  endpoint,
		transport: newTransport("tongyi", cfg),
	}, nil
}

// Name 返回模型名称
func (c *TongyiClient) Name() string {
	return c.cfg.Model
}

// Close 释放HTTP连接
func (c *TongyiClient) Close() error {
	return c.transport.close()
}

// Chat 进行多轮对话
func (c *TongyiClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	opts := resolveChatOptions(c.cfg, options)

	req := &TongyiRequest{
		Model: c.cfg.Model,
		Input: &TongyiRequestInput{
			Messages: messages,
		},
		Parameters: &TongyiParameters{
			ResultFormat: "message", // 使用结构化返回格式
			MaxTokens:    opts.MaxTokens,
			Temperature:  opts.Temperature,
			TopP:         opts.TopP,
			TopK:         opts.TopK,
		},
	}

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.processResponse(resp)
}

// sendRequest 发送API请求并解析响应
func (c *TongyiClient) sendRequest(ctx context.Context, req *TongyiRequest) (*TongyiResponse, error) {
	resp, release, err := c.transport.post(ctx, c.endpoint, req, acceptJSON)
	if err != nil {
		return nil, err
	}
	defer release()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transport.readError(ctx, err)
	}

	var tongyiResp TongyiResponse
	if err := json.Unmarshal(body, &tongyiResp); err != nil {
		return nil, LLMError{Code: ErrCodeServerError, Message: "failed to parse response", Cause: err}
	}

	// 检查API返回的错误
	if tongyiResp.Code != "" {
		return nil, NewLLMError(classifyStatus(http.StatusBadRequest, tongyiResp.Code),
			fmt.Sprintf("API error: %s (%s)", tongyiResp.Message, tongyiResp.Code))
	}

	return &tongyiResp, nil
}

// processResponse 处理通义千问的响应
func (c *TongyiClient) processResponse(resp *TongyiResponse) (*Response, error) {
	result := &Response{
		ModelName:  c.cfg.Model,
		RequestID:  resp.RequestID,
		TokenCount: resp.Usage.TotalTokens,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		FinishTime: time.Now(),
	}

	if len(resp.Output.Choices) > 0 {
		// 处理消息格式输出
		choice := resp.Output.Choices[0]
		result.Text = choice.Message.Content
		result.FinishReason = choice.FinishReason
		for _, ch := range resp.Output.Choices {
			result.Messages = append(result.Messages, ch.Message)
		}
	} else if resp.Output.Text != nil {
		// 处理文本格式输出
		result.Text = *resp.Output.Text
		if resp.Output.FinishReason != nil {
			result.FinishReason = *resp.Output.FinishReason
		}
	} else {
		return nil, NewLLMError(ErrCodeServerError, "empty response from API")
	}

	return result, nil
}

// 在包初始化时注册通义千问客户端
func init() {
	RegisterClient("tongyi", NewTongyiClient)
	RegisterClient("dashscope", NewTongyiClient)
}
