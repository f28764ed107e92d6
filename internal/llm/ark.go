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
	// 火山方舟OpenAI兼容的对话端点
	defaultArkEndpoint = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	defaultArkModel    = ModelDeepSeekR1
)

// ArkClient 火山方舟大模型客户端，支持同步和流式对话
type ArkClient struct {
	cfg       *Config
	endpoint  string
	transport *transport
}

var _ StreamClient = (*ArkClient)(nil)

// NewArkClient 创建火山方舟客户端
func NewArkClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultArkEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultArkModel
	}

	return &ArkClient{
		cfg:       cfg,
		endpoint:  endpoint,
		transport: newTransport("ark", cfg),
	}, nil
}

// Name 返回模型名称
func (c *ArkClient) Name() string {
	return c.cfg.Model
}

// Close 释放HTTP连接，进行中的请求会被中断
func (c *ArkClient) Close() error {
	return c.transport.close()
}

func (c *ArkClient) buildRequest(messages []Message, stream bool, options []ChatOption) *ArkRequest {
	opts := resolveChatOptions(c.cfg, options)
	return &ArkRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
}

// Chat 同步对话，返回第一个候选的内容
func (c *ArkClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	resp, release, err := c.transport.post(ctx, c.endpoint, c.buildRequest(messages, false, options), acceptJSON)
	if err != nil {
		return nil, err
	}
	defer release()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transport.readError(ctx, err)
	}

	var arkResp ArkResponse
	if err := json.Unmarshal(body, &arkResp); err != nil {
		return nil, LLMError{Code: ErrCodeServerError, Message: "failed to parse response", Cause: err}
	}
	if arkResp.Error != nil {
		return nil, NewLLMError(classifyStatus(http.StatusBadRequest, arkResp.Error.Code),
			fmt.Sprintf("API error: %s (%s)", arkResp.Error.Message, arkResp.Error.Code))
	}

	return c.processResponse(&arkResp)
}

func (c *ArkClient) processResponse(resp *ArkResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, NewLLMError(ErrCodeServerError, "empty response from API")
	}

	result := &Response{
		Text:         resp.Choices[0].Message.Content,
		RequestID:    resp.ID,
		FinishReason: resp.Choices[0].FinishReason,
		ModelName:    c.cfg.Model,
		TokenCount:   resp.Usage.TotalTokens,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		FinishTime: time.Now(),
	}
	for _, choice := range resp.Choices {
		result.Messages = append(result.Messages, Message{
			Role:    choice.Message.Role,
			Content: choice.Message.Content,
		})
	}
	return result, nil
}

// ChatStream 流式对话
// 只有建立连接阶段会重试，流开始后的错误直接由Recv返回
func (c *ArkClient) ChatStream(ctx context.Context, messages []Message, options ...ChatOption) (*Stream, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	resp, release, err := c.transport.post(ctx, c.endpoint, c.buildRequest(messages, true, options), acceptEventStream)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, resp, release, c.transport), nil
}

// ChatStreamAsync 后台流式对话，片段按顺序交给handler
func (c *ArkClient) ChatStreamAsync(ctx context.Context, messages []Message, handler FragmentHandler, options ...ChatOption) *AsyncStream {
	return startAsync(func() (*Stream, error) {
		return c.ChatStream(ctx, messages, options...)
	}, handler)
}

func init() {
	RegisterClient("ark", NewArkClient)
	RegisterClient("volcengine", NewArkClient)
}
