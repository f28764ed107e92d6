package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArk(t *testing.T, url string, extra ...Option) StreamClient {
	t.Helper()
	client, err := NewArkClient(testOptions(url, extra...)...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client.(StreamClient)
}

func contentChunk(content string) string {
	data, _ := json.Marshal(ArkStreamChunk{
		ID:      "chunk",
		Choices: []ArkStreamChoice{{Delta: ArkMessage{Role: RoleAssistant, Content: content}}},
	})
	return string(data)
}

func reasoningChunk(reasoning string) string {
	data, _ := json.Marshal(ArkStreamChunk{
		ID:      "chunk",
		Choices: []ArkStreamChoice{{Delta: ArkMessage{ReasoningContent: reasoning}}},
	})
	return string(data)
}

// writeEvents 以SSE格式逐个写出并刷新
func writeEvents(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, event := range events {
		fmt.Fprintf(w, "data: %s\n\n", event)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

var helloEvents = []string{
	contentChunk(""),
	reasoningChunk("先检查型号"),
	contentChunk("Hello"),
	contentChunk(", "),
	contentChunk("world"),
	`{"id":"chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
	streamDoneMarker,
}

func TestArkChat(t *testing.T) {
	var got ArkRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{
			"id": "ark-1",
			"model": "deepseek-r1-250120",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "合规", "reasoning_content": "思考"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 2, "total_tokens": 14}
		}`)
	})

	resp, err := newArk(t, srv.URL).Chat(context.Background(), []Message{SystemMessage("规则"), UserMessage("型号：null")})
	require.NoError(t, err)

	assert.Equal(t, "合规", resp.Text)
	assert.Equal(t, "ark-1", resp.RequestID)
	assert.Equal(t, 14, resp.TokenCount)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 2, TotalTokens: 14}, resp.Usage)

	assert.Equal(t, ModelDeepSeekR1, got.Model)
	assert.False(t, got.Stream)
	assert.Len(t, got.Messages, 2)
}

func TestArkChatErrorBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"AuthenticationError","message":"the API key is invalid","type":"Unauthorized"}}`)
	})

	_, err := newArk(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeInvalidAPIKey, ErrorCode(err))
	assert.Contains(t, err.Error(), "the API key is invalid")
	assert.NotContains(t, err.Error(), "test-key")
}

func TestArkChatNoChoices(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ark-1","choices":[]}`)
	})

	_, err := newArk(t, srv.URL).Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Equal(t, ErrCodeServerError, ErrorCode(err))
}

func TestArkChatStream(t *testing.T) {
	var got ArkRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEvents(w, helloEvents...)
	})

	stream, err := newArk(t, srv.URL).ChatStream(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	var fragments []string
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}

	assert.Equal(t, []string{"Hello", ", ", "world"}, fragments)
	assert.True(t, got.Stream)
	require.NotNil(t, stream.Usage())
	assert.Equal(t, 8, stream.Usage().TotalTokens)

	// 结束后继续读取仍返回EOF
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, stream.Close())
}

func TestArkChatStreamWithoutDoneMarker(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// 注释行和CRLF换行
		fmt.Fprint(w, ": keep-alive\r\n\r\n")
		fmt.Fprintf(w, "event: message\r\ndata: %s\r\n\r\n", contentChunk("a"))
		fmt.Fprintf(w, "data: %s", contentChunk("b"))
	})

	stream, err := newArk(t, srv.URL).ChatStream(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	text, err := CollectStream(stream, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestArkChatStreamErrorChunk(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, contentChunk("部分"), `{"error":{"code":"InternalServiceError","message":"boom"}}`)
	})

	stream, err := newArk(t, srv.URL).ChatStream(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	var received []string
	text, err := CollectStream(stream, func(f string) { received = append(received, f) })
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeServerError, ErrorCode(err))
	assert.Equal(t, "部分", text)
	assert.Equal(t, []string{"部分"}, received)
}

func TestArkChatStreamDropped(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, contentChunk("部分"))
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	})

	stream, err := newArk(t, srv.URL).ChatStream(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	text, err := CollectStream(stream, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, "部分", text)
}

func TestArkChatStreamAsync(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, helloEvents...)
	})

	var fragments []string
	async := newArk(t, srv.URL).ChatStreamAsync(context.Background(), []Message{UserMessage("hi")}, func(f string) {
		fragments = append(fragments, f)
	})

	select {
	case <-async.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}

	require.NoError(t, async.Err())
	assert.Equal(t, []string{"Hello", ", ", "world"}, fragments)
	assert.Equal(t, "Hello, world", async.Text())
	assert.NoError(t, async.Wait())
}

func TestArkChatStreamAsyncRequestError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":"RateLimitExceeded.EndpointRPMExceeded","message":"slow down"}}`)
	})

	called := false
	async := newArk(t, srv.URL).ChatStreamAsync(context.Background(), []Message{UserMessage("hi")}, func(string) {
		called = true
	})

	err := async.Wait()
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ErrCodeRateLimited, ErrorCode(err))
	assert.False(t, called)
	assert.Empty(t, async.Text())
}

func TestArkChatStreamCanceled(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, contentChunk("first"))
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := newArk(t, srv.URL).ChatStream(ctx, []Message{UserMessage("hi")})
	require.NoError(t, err)
	defer stream.Close()

	fragment, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", fragment)

	cancel()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArkCloseInterruptsStream(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, contentChunk("first"))
		<-r.Context().Done()
	})

	client := newArk(t, srv.URL)
	stream, err := client.ChatStream(context.Background(), []Message{UserMessage("hi")})
	require.NoError(t, err)

	_, err = stream.Recv()
	require.NoError(t, err)

	require.NoError(t, client.Close())
	_, err = stream.Recv()
	assert.Equal(t, ErrCodeClientClosed, ErrorCode(err))
	assert.NoError(t, stream.Close())
}

func TestArkCloseReleasesConnections(t *testing.T) {
	var opened, closed atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"ark-1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			opened.Add(1)
		case http.StateClosed:
			closed.Add(1)
		}
	}
	srv.Start()
	t.Cleanup(srv.Close)

	client := newArk(t, srv.URL)
	for i := 0; i < 2; i++ {
		_, err := client.Chat(context.Background(), []Message{UserMessage("hi")})
		require.NoError(t, err)
	}
	// 空闲连接被复用
	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, int32(0), closed.Load())

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return closed.Load() == opened.Load()
	}, 2*time.Second, 10*time.Millisecond)

	_, err := client.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Equal(t, ErrCodeClientClosed, ErrorCode(err))
}

func TestCloseWithoutCallOpensNothing(t *testing.T) {
	var opened atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			opened.Add(1)
		}
	}
	srv.Start()
	t.Cleanup(srv.Close)

	for _, name := range []string{"tongyi", "ark"} {
		client, err := NewClient(name, testOptions(srv.URL)...)
		require.NoError(t, err)
		require.NoError(t, client.Close())
	}
	assert.Equal(t, int32(0), opened.Load())
}
