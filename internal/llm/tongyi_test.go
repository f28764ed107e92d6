package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tongyiOK = `{
	"request_id": "req-123",
	"output": {
		"choices": [
			{"finish_reason": "stop", "message": {"role": "assistant", "content": "1. 型号为null，合规"}}
		]
	},
	"usage": {"input_tokens": 30, "output_tokens": 10, "total_tokens": 40}
}`

func newTongyi(t *testing.T, url string, extra ...Option) Client {
	t.Helper()
	client, err := NewTongyiClient(testOptions(url, extra...)...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTongyiChat(t *testing.T) {
	var got TongyiRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, tongyiOK)
	})

	client := newTongyi(t, srv.URL, WithTemperature(0.2))
	messages := []Message{SystemMessage("规则"), UserMessage("客户名称：甲")}

	resp, err := client.Chat(context.Background(), messages, WithChatMaxTokens(64))
	require.NoError(t, err)

	assert.Equal(t, "1. 型号为null，合规", resp.Text)
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 40, resp.TokenCount)
	assert.Equal(t, Usage{InputTokens: 30, OutputTokens: 10, TotalTokens: 40}, resp.Usage)
	assert.Equal(t, ModelQwenPlus, resp.ModelName)
	require.Len(t, resp.Messages, 1)

	// 请求体
	assert.Equal(t, ModelQwenPlus, got.Model)
	require.NotNil(t, got.Input)
	assert.Equal(t, messages, got.Input.Messages)
	require.NotNil(t, got.Parameters)
	assert.Equal(t, "message", got.Parameters.ResultFormat)
	require.NotNil(t, got.Parameters.MaxTokens)
	assert.Equal(t, 64, *got.Parameters.MaxTokens)
	require.NotNil(t, got.Parameters.Temperature)
	assert.Equal(t, float32(0.2), *got.Parameters.Temperature)
}

func TestTongyiChatTextOutput(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"request_id":"r","output":{"text":"纯文本","finish_reason":"stop"}}`)
	})

	resp, err := newTongyi(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "纯文本", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestTongyiEmptyOutput(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"request_id":"r","output":{}}`)
	})

	_, err := newTongyi(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeServerError, ErrorCode(err))
}

func TestTongyiAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{"invalid key", http.StatusUnauthorized, `{"code":"InvalidApiKey","message":"Invalid API-key provided."}`, ErrCodeInvalidAPIKey},
		{"rate limited", http.StatusTooManyRequests, `{"code":"Throttling.RateQuota","message":"Requests rate limit exceeded"}`, ErrCodeRateLimited},
		{"quota", http.StatusBadRequest, `{"code":"Arrearage","message":"Access denied, please make sure your account is in good standing."}`, ErrCodeRateLimited},
		{"content filter", http.StatusBadRequest, `{"code":"DataInspectionFailed","message":"Input data may contain inappropriate content."}`, ErrCodeContentFilter},
		{"bad request", http.StatusBadRequest, `{"code":"InvalidParameter","message":"bad"}`, ErrCodeInvalidRequest},
		{"not json", http.StatusForbidden, `forbidden`, ErrCodeInvalidAPIKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := newTongyi(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.Equal(t, tt.code, ErrorCode(err))
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestTongyiBodyErrorCode(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"request_id":"r","code":"InvalidParameter","message":"Range of input length should be [1, 30000]"}`)
	})

	_, err := newTongyi(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Equal(t, ErrCodeInvalidRequest, ErrorCode(err))
	assert.Contains(t, err.Error(), "InvalidParameter")
}

func TestTongyiRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, tongyiOK)
	})

	resp, err := newTongyi(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "1. 型号为null，合规", resp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTongyiRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"code":"InternalError","message":"upstream"}`)
	})

	_, err := newTongyi(t, srv.URL, WithMaxRetries(2)).Chat(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeServerError, ErrorCode(err))
	assert.Contains(t, err.Error(), "upstream")
	assert.Equal(t, int32(3), calls.Load())
}

func TestTongyiNetworkError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := srv.URL
	srv.Close()

	_, err := newTongyi(t, url, WithMaxRetries(1)).Chat(context.Background(), []Message{UserMessage("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeNetworkError, ErrorCode(err))
}

func TestTongyiTimeout(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	// 客户端总超时
	client := newTongyi(t, srv.URL, WithTimeout(50*time.Millisecond), WithMaxRetries(0))
	_, err := client.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Equal(t, ErrCodeTimeout, ErrorCode(err))

	// 调用方截止时间
	client = newTongyi(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Chat(ctx, []Message{UserMessage("hi")})
	assert.Equal(t, ErrCodeTimeout, ErrorCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTongyiInvalidMessages(t *testing.T) {
	client := newTongyi(t, "http://127.0.0.1:1")

	_, err := client.Chat(context.Background(), nil)
	assert.Equal(t, ErrCodeInvalidRequest, ErrorCode(err))

	_, err = client.Chat(context.Background(), []Message{UserMessage("")})
	assert.Equal(t, ErrCodeEmptyPrompt, ErrorCode(err))
}

func TestTongyiClosed(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tongyiOK)
	})

	client := newTongyi(t, srv.URL)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeClientClosed, ErrorCode(err))
}
