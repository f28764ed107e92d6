package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const streamDoneMarker = "[DONE]"

// Stream 流式响应
// 按服务端发送顺序返回内容片段，读完或出错后必须Close
type Stream struct {
	ctx       context.Context
	body      io.ReadCloser
	reader    *bufio.Reader
	release   context.CancelFunc
	transport *transport

	finished  bool
	usage     *Usage
	closeOnce sync.Once
}

func newStream(ctx context.Context, resp *http.Response, release context.CancelFunc, t *transport) *Stream {
	return &Stream{
		ctx:       ctx,
		body:      resp.Body,
		reader:    bufio.NewReader(resp.Body),
		release:   release,
		transport: t,
	}
}

// Recv 返回下一个非空内容片段，流正常结束时返回io.EOF
func (s *Stream) Recv() (string, error) {
	if s.finished {
		return "", io.EOF
	}

	for {
		data, err := s.nextEvent()
		if err != nil {
			s.finished = true
			return "", err
		}
		if data == streamDoneMarker {
			s.finished = true
			return "", io.EOF
		}

		var chunk ArkStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.finished = true
			return "", LLMError{Code: ErrCodeServerError, Message: "failed to parse stream chunk", Cause: err}
		}
		if chunk.Error != nil {
			s.finished = true
			return "", NewLLMError(classifyStatus(http.StatusInternalServerError, chunk.Error.Code),
				fmt.Sprintf("stream error: %s (%s)", chunk.Error.Message, chunk.Error.Code))
		}
		if chunk.Usage != nil {
			s.usage = &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}

		var fragment strings.Builder
		for _, choice := range chunk.Choices {
			if choice.Index == 0 {
				fragment.WriteString(choice.Delta.Content)
			}
		}
		// 推理模型的思考片段content为空，跳过
		if fragment.Len() > 0 {
			return fragment.String(), nil
		}
	}
}

// nextEvent 读取一个SSE事件的data内容
func (s *Stream) nextEvent() (string, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				if len(data) > 0 {
					return strings.Join(data, "\n"), nil
				}
			} else if value, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(value, " "))
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(data) > 0 {
					return strings.Join(data, "\n"), nil
				}
				return "", io.EOF
			}
			return "", s.transport.readError(s.ctx, err)
		}
	}
}

// Usage 返回服务端在流中报告的用量，可能为nil
func (s *Stream) Usage() *Usage {
	return s.usage
}

// Close 关闭响应体并释放请求资源，可重复调用
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.release()
	})
	return err
}

// CollectStream 读完整个流并拼接所有片段，结束后关闭流
func CollectStream(s *Stream, handler FragmentHandler) (string, error) {
	defer s.Close()

	var text strings.Builder
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), nil
		}
		if err != nil {
			return text.String(), err
		}
		text.WriteString(fragment)
		if handler != nil {
			handler(fragment)
		}
	}
}

// AsyncStream 后台流式调用的句柄
// Done关闭时所有片段都已交给回调，连接资源已释放
type AsyncStream struct {
	done chan struct{}
	err  error
	text string
}

// startAsync 在新goroutine中打开并读完流
func startAsync(open func() (*Stream, error), handler FragmentHandler) *AsyncStream {
	a := &AsyncStream{done: make(chan struct{})}

	go func() {
		defer close(a.done)

		stream, err := open()
		if err != nil {
			a.err = err
			return
		}
		a.text, a.err = CollectStream(stream, handler)
	}()

	return a
}

// Done 返回在流结束时关闭的通道
func (a *AsyncStream) Done() <-chan struct{} {
	return a.done
}

// Err 流结束后返回失败原因，未结束时返回nil
func (a *AsyncStream) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait 阻塞直到流结束
func (a *AsyncStream) Wait() error {
	<-a.done
	return a.err
}

// Text 阻塞直到流结束，返回已收到的完整文本
func (a *AsyncStream) Text() string {
	<-a.done
	return a.text
}
