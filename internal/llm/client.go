package llm

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Client 大模型客户端接口
// 负责处理与大语言模型的交互
type Client interface {
	// Chat 进行多轮对话，返回第一个候选的完整文本
	Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error)

	// Name 返回模型名称
	Name() string

	// Close 释放连接池等客户端资源，关闭后不可再用
	Close() error
}

// FragmentHandler 流式片段回调，按到达顺序依次调用
type FragmentHandler func(fragment string)

// StreamClient 支持流式输出的客户端
type StreamClient interface {
	Client

	// ChatStream 发起流式对话，调用方通过Recv逐个读取片段
	ChatStream(ctx context.Context, messages []Message, options ...ChatOption) (*Stream, error)

	// ChatStreamAsync 在后台读取流并回调handler，立即返回
	ChatStreamAsync(ctx context.Context, messages []Message, handler FragmentHandler, options ...ChatOption) *AsyncStream
}

// Config 大模型客户端配置
type Config struct {
	APIKey         string         // API密钥
	BaseURL        string         // API完整端点
	Model          string         // 模型名称
	Timeout        time.Duration  // 单次请求总超时
	ConnectTimeout time.Duration  // 建立连接超时
	MaxRetries     int            // 失败后的最大重试次数
	RetryBackoff   time.Duration  // 重试退避基数
	MaxTokens      int            // 最大生成Token数，0表示使用服务端默认
	Temperature    float32        // 采样温度(0.0-2.0)，0表示使用服务端默认
	TopP           float32        // 核采样概率阈值(0.0-1.0)，0表示使用服务端默认
	Logger         *logrus.Logger // 日志
}

const (
	defaultTimeout        = 120 * time.Second
	defaultConnectTimeout = 20 * time.Second
	defaultMaxRetries     = 2
	defaultRetryBackoff   = 100 * time.Millisecond
)

// DefaultConfig 返回默认配置
// 端点和模型为空，由各个提供方填充自己的默认值
func DefaultConfig() *Config {
	return &Config{
		Timeout:        defaultTimeout,
		ConnectTimeout: defaultConnectTimeout,
		MaxRetries:     defaultMaxRetries,
		RetryBackoff:   defaultRetryBackoff,
	}
}

// Option 客户端配置选项函数类型
type Option func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL 设置API端点
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithConnectTimeout 设置连接超时时间
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = timeout
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		c.MaxRetries = retries
	}
}

// WithRetryBackoff 设置重试退避基数
func WithRetryBackoff(backoff time.Duration) Option {
	return func(c *Config) {
		c.RetryBackoff = backoff
	}
}

// WithMaxTokens 设置最大生成Token数
func WithMaxTokens(tokens int) Option {
	return func(c *Config) {
		c.MaxTokens = tokens
	}
}

// WithTemperature 设置采样温度
func WithTemperature(temp float32) Option {
	return func(c *Config) {
		c.Temperature = temp
	}
}

// WithTopP 设置核采样概率阈值
func WithTopP(topP float32) Option {
	return func(c *Config) {
		c.TopP = topP
	}
}

// WithLogger 设置日志
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// NewConfig 创建一个新的配置并应用选项
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return cfg
}

// ChatOption 聊天请求的选项
type ChatOption func(*ChatOptions)

// ChatOptions 聊天请求的选项集合
type ChatOptions struct {
	MaxTokens   *int     // 最大生成Token数
	Temperature *float32 // 采样温度
	TopP        *float32 // 核采样概率阈值
	TopK        *int     // 生成候选集大小
}

// WithChatMaxTokens 设置聊天请求的最大Token数
func WithChatMaxTokens(tokens int) ChatOption {
	return func(o *ChatOptions) {
		o.MaxTokens = &tokens
	}
}

// WithChatTemperature 设置聊天请求的采样温度
func WithChatTemperature(temp float32) ChatOption {
	return func(o *ChatOptions) {
		o.Temperature = &temp
	}
}

// WithChatTopP 设置聊天请求的核采样概率阈值
func WithChatTopP(topP float32) ChatOption {
	return func(o *ChatOptions) {
		o.TopP = &topP
	}
}

// WithChatTopK 设置聊天请求的候选集大小
func WithChatTopK(topK int) ChatOption {
	return func(o *ChatOptions) {
		o.TopK = &topK
	}
}

// resolveChatOptions 合并请求级选项和客户端默认值
func resolveChatOptions(cfg *Config, options []ChatOption) *ChatOptions {
	opts := &ChatOptions{}
	for _, opt := range options {
		opt(opts)
	}

	if opts.MaxTokens == nil && cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		opts.MaxTokens = &maxTokens
	}
	if opts.Temperature == nil && cfg.Temperature > 0 {
		temp := cfg.Temperature
		opts.Temperature = &temp
	}
	if opts.TopP == nil && cfg.TopP > 0 {
		topP := cfg.TopP
		opts.TopP = &topP
	}
	return opts
}

// validateMessages 检查消息列表
func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return NewLLMError(ErrCodeInvalidRequest, "messages cannot be empty")
	}
	for _, m := range messages {
		if m.Role == RoleUser && m.Content == "" {
			return NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
		}
	}
	return nil
}

// Factory 大模型客户端工厂函数类型
type Factory func(opts ...Option) (Client, error)

// 全局注册的大模型客户端工厂函数
var clientFactories = make(map[string]Factory)

// RegisterClient 注册大模型客户端工厂函数
func RegisterClient(name string, factory Factory) {
	clientFactories[name] = factory
}

// NewClient 根据名称创建大模型客户端
func NewClient(name string, opts ...Option) (Client, error) {
	factory, exists := clientFactories[name]
	if !exists {
		return nil, NewLLMError(
			ErrCodeInvalidRequest,
			"llm client type not registered: "+name)
	}
	return factory(opts...)
}

// RegisteredClients 返回已注册的客户端名称
func RegisteredClients() []string {
	names := make([]string, 0, len(clientFactories))
	for name := range clientFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
