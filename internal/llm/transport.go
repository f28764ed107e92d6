package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	acceptJSON        = "application/json"
	acceptEventStream = "text/event-stream"

	maxErrorBodySize = 64 << 10
	maxErrorMessage  = 512
)

// apiErrorBody 服务端返回的错误信息
// 通义千问直接放在顶层，方舟放在error字段中
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type apiErrorEnvelope struct {
	apiErrorBody
	RequestID string        `json:"request_id"`
	Error     *apiErrorBody `json:"error"`
}

// transport 两个提供方共用的HTTP层
// 负责连接/总超时、失败重试、错误分类和资源释放
type transport struct {
	provider   string
	apiKey     string
	httpClient *http.Client
	base       *http.Transport
	maxRetries int
	backoff    time.Duration
	logger     *logrus.Logger

	closed   atomic.Bool
	closing  context.Context
	closeAll context.CancelFunc
}

func newTransport(provider string, cfg *Config) *transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	closing, closeAll := context.WithCancel(context.Background())
	return &transport{
		provider: provider,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: base,
		},
		base:       base,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		logger:     cfg.Logger,
		closing:    closing,
		closeAll:   closeAll,
	}
}

// post 发送JSON请求，只对网络错误和5xx重试
// 成功时返回未读取的响应，调用方读完响应体后必须调用release
func (t *transport) post(ctx context.Context, url string, payload any, accept string) (*http.Response, context.CancelFunc, error) {
	if t.closed.Load() {
		return nil, nil, NewLLMError(ErrCodeClientClosed, ErrMsgClientClosed)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, LLMError{Code: ErrCodeInvalidRequest, Message: "failed to marshal request", Cause: err}
	}

	// 客户端关闭时中断进行中的请求
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.closing, cancel)
	release := func() {
		stop()
		cancel()
	}

	var lastErr LLMError
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			wait := t.backoff * time.Duration(1<<attempt)
			t.logger.WithFields(logrus.Fields{
				"provider": t.provider,
				"attempt":  attempt,
				"backoff":  wait.String(),
				"error":    lastErr.Error(),
			}).Warn("Retrying generation request")

			select {
			case <-ctx.Done():
				release()
				return nil, nil, t.contextError(ctx)
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			release()
			return nil, nil, LLMError{Code: ErrCodeInvalidRequest, Message: "failed to create request", Cause: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		req.Header.Set("Accept", accept)

		resp, err := t.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				release()
				return nil, nil, t.contextError(ctx)
			}
			lastErr = classifyTransportError(err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, release, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()

		apiErr := decodeAPIError(resp.StatusCode, body)
		if !retryableStatus(resp.StatusCode) {
			release()
			return nil, nil, apiErr
		}
		lastErr = apiErr
	}

	release()
	return nil, nil, LLMError{
		Code:    lastErr.Code,
		Message: fmt.Sprintf("request failed after %d attempts", t.maxRetries+1),
		Cause:   lastErr,
	}
}

// contextError 将上下文结束转换为对应的错误
func (t *transport) contextError(ctx context.Context) LLMError {
	if t.closed.Load() {
		return LLMError{Code: ErrCodeClientClosed, Message: ErrMsgClientClosed, Cause: ctx.Err()}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return LLMError{Code: ErrCodeTimeout, Message: ErrMsgTimeout, Cause: ctx.Err()}
	}
	return LLMError{Code: ErrCodeNetworkError, Message: "request canceled", Cause: ctx.Err()}
}

// readError 读取响应体时的错误
func (t *transport) readError(ctx context.Context, err error) LLMError {
	if ctx.Err() != nil || t.closed.Load() {
		return t.contextError(ctx)
	}
	return classifyTransportError(err)
}

// close 释放空闲连接并中断进行中的请求，可重复调用
func (t *transport) close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.closeAll()
	t.base.CloseIdleConnections()
	return nil
}

func classifyTransportError(err error) LLMError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return LLMError{Code: ErrCodeTimeout, Message: ErrMsgTimeout, Cause: err}
	}
	return LLMError{Code: ErrCodeNetworkError, Message: ErrMsgNetworkError, Cause: err}
}

func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError
}

// decodeAPIError 解析非2xx响应
func decodeAPIError(status int, body []byte) LLMError {
	var detail apiErrorBody
	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != nil {
			detail = *env.Error
		} else {
			detail = env.apiErrorBody
		}
	}

	msg := detail.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage] + "..."
	}
	if detail.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail.Code)
	}

	return NewLLMError(classifyStatus(status, detail.Code), fmt.Sprintf("API error (status %d): %s", status, msg))
}

// classifyStatus 根据HTTP状态码和服务端错误码确定错误类型
func classifyStatus(status int, apiCode string) int {
	code := strings.ToLower(apiCode)
	switch {
	case strings.Contains(code, "datainspection"),
		strings.Contains(code, "sensitive"),
		strings.Contains(code, "contentfilter"):
		return ErrCodeContentFilter
	case strings.Contains(code, "quota"),
		strings.Contains(code, "arrearage"),
		strings.Contains(code, "ratelimit"),
		strings.Contains(code, "throttling"):
		return ErrCodeRateLimited
	case strings.Contains(code, "contextlength"),
		strings.Contains(code, "context_length"):
		return ErrCodeContextTooLong
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrCodeInvalidAPIKey
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status == http.StatusRequestTimeout:
		return ErrCodeTimeout
	case status == http.StatusRequestEntityTooLarge:
		return ErrCodeContextTooLong
	case status == http.StatusServiceUnavailable:
		return ErrCodeModelOverload
	case status >= http.StatusInternalServerError:
		return ErrCodeServerError
	case status >= http.StatusBadRequest:
		return ErrCodeInvalidRequest
	default:
		return ErrCodeServerError
	}
}
