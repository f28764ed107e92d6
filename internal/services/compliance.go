package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyerfyer/report-checker/internal/document"
	"github.com/fyerfyer/report-checker/internal/llm"
	"github.com/fyerfyer/report-checker/internal/report"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownProvider 未配置的大模型提供方
	ErrUnknownProvider = errors.New("unknown llm provider")
	// ErrStreamingUnsupported 提供方不支持流式输出
	ErrStreamingUnsupported = errors.New("provider does not support streaming")
)

// CheckResult 一次合规检查的结果
type CheckResult struct {
	Record    *report.Record // 提取出的字段
	Prompt    string         // 发送给模型的用户消息
	Report    string         // 模型生成的合规报告
	Provider  string         // 使用的提供方
	Model     string         // 使用的模型
	RequestID string         // 服务端请求ID
	Usage     llm.Usage      // token用量
	Elapsed   time.Duration  // 总耗时
}

// ComplianceService 合规检查服务
// 依次完成文档读取、字段提取、提示词组装和模型调用
// 各阶段的错误原样返回，不做二次包装
type ComplianceService struct {
	extractor       *report.Extractor
	clients         map[string]llm.Client
	defaultProvider string
	logger          *logrus.Logger
}

// ComplianceOption 合规服务配置选项
type ComplianceOption func(*ComplianceService)

// WithExtractor 设置字段提取器
func WithExtractor(extractor *report.Extractor) ComplianceOption {
	return func(s *ComplianceService) {
		if extractor != nil {
			s.extractor = extractor
		}
	}
}

// WithClient 注册一个大模型客户端，名称用于按提供方选择
func WithClient(name string, client llm.Client) ComplianceOption {
	return func(s *ComplianceService) {
		s.clients[name] = client
	}
}

// WithDefaultProvider 设置默认提供方
func WithDefaultProvider(name string) ComplianceOption {
	return func(s *ComplianceService) {
		s.defaultProvider = name
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) ComplianceOption {
	return func(s *ComplianceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewComplianceService 创建合规检查服务
func NewComplianceService(opts ...ComplianceOption) (*ComplianceService, error) {
	extractor, err := report.NewExtractor()
	if err != nil {
		return nil, err
	}

	s := &ComplianceService{
		extractor: extractor,
		clients:   make(map[string]llm.Client),
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// 只有一个客户端时自动作为默认
	if s.defaultProvider == "" && len(s.clients) == 1 {
		for name := range s.clients {
			s.defaultProvider = name
		}
	}
	if s.defaultProvider != "" {
		if _, ok := s.clients[s.defaultProvider]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, s.defaultProvider)
		}
	}

	return s, nil
}

// Providers 返回已配置的提供方名称
func (s *ComplianceService) Providers() []string {
	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider 返回默认提供方
func (s *ComplianceService) DefaultProvider() string {
	return s.defaultProvider
}

// Resolve 解析提供方名称，返回实际使用的提供方和模型名
func (s *ComplianceService) Resolve(provider string) (string, string, error) {
	name, client, err := s.client(provider)
	if err != nil {
		return "", "", err
	}
	return name, client.Name(), nil
}

// ReadDocument 读取文档并提取字段
func (s *ComplianceService) ReadDocument(ctx context.Context, path string) (*report.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := document.Extract(path)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Failed to extract document text")
		return nil, err
	}

	record := s.extractor.Extract(text)

	s.logger.WithFields(logrus.Fields{
		"path":     path,
		"format":   document.DetectContentType(path),
		"text_len": len(text),
		"fields":   countFields(record),
		"elapsed":  time.Since(start).String(),
	}).Debug("Document fields extracted")

	return record, nil
}

// CheckFile 使用给定客户端对文档做合规检查，返回模型生成的文本
func (s *ComplianceService) CheckFile(ctx context.Context, ruleSet, path string, client llm.Client) (string, error) {
	result, err := s.check(ctx, ruleSet, path, "", client)
	if err != nil {
		return "", err
	}
	return result.Report, nil
}

// Check 使用指定提供方做合规检查，provider为空时使用默认提供方
func (s *ComplianceService) Check(ctx context.Context, ruleSet, path, provider string) (*CheckResult, error) {
	name, client, err := s.client(provider)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, ruleSet, path, name, client)
}

func (s *ComplianceService) check(ctx context.Context, ruleSet, path, provider string, client llm.Client) (*CheckResult, error) {
	start := time.Now()

	record, err := s.ReadDocument(ctx, path)
	if err != nil {
		return nil, err
	}

	prompt := report.AssemblePrompt(record)

	logger := s.logger.WithFields(logrus.Fields{
		"path":     path,
		"provider": provider,
		"model":    client.Name(),
	})
	logger.Info("Sending compliance check request")

	resp, err := client.Chat(ctx, BuildMessages(ruleSet, prompt))
	if err != nil {
		logger.WithError(err).Error("Compliance check failed")
		return nil, err
	}

	result := &CheckResult{
		Record:    record,
		Prompt:    prompt,
		Report:    resp.Text,
		Provider:  provider,
		Model:     client.Name(),
		RequestID: resp.RequestID,
		Usage:     resp.Usage,
		Elapsed:   time.Since(start),
	}

	logger.WithFields(logrus.Fields{
		"request_id":   resp.RequestID,
		"total_tokens": resp.Usage.TotalTokens,
		"elapsed":      result.Elapsed.String(),
	}).Info("Compliance check completed")

	return result, nil
}

// CheckStream 流式合规检查
// 文档读取错误同步返回；模型输出通过handler按顺序回调，完成情况由AsyncStream通知
func (s *ComplianceService) CheckStream(ctx context.Context, ruleSet, path, provider string, handler llm.FragmentHandler) (*report.Record, *llm.AsyncStream, error) {
	name, client, err := s.client(provider)
	if err != nil {
		return nil, nil, err
	}
	streamer, ok := client.(llm.StreamClient)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStreamingUnsupported, name)
	}

	record, err := s.ReadDocument(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"path":     path,
		"provider": name,
		"model":    client.Name(),
	}).Info("Starting streaming compliance check")

	stream := streamer.ChatStreamAsync(ctx, BuildMessages(ruleSet, report.AssemblePrompt(record)), handler)
	return record, stream, nil
}

func (s *ComplianceService) client(provider string) (string, llm.Client, error) {
	if provider == "" {
		provider = s.defaultProvider
	}
	client, ok := s.clients[provider]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return provider, client, nil
}

// Close 关闭所有客户端
func (s *ComplianceService) Close() error {
	var errs []error
	for _, client := range s.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildMessages 规则集作为系统消息，字段列表作为用户消息
func BuildMessages(ruleSet, prompt string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage(ruleSet),
		llm.UserMessage(prompt),
	}
}

func countFields(record *report.Record) int {
	n := 0
	for _, f := range report.Fields {
		if _, ok := record.Get(f); ok {
			n++
		}
	}
	return n
}
