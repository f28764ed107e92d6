package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/report-checker/api/model"
	"github.com/fyerfyer/report-checker/internal/document"
	"github.com/fyerfyer/report-checker/internal/llm"
	"github.com/fyerfyer/report-checker/internal/services"
	"github.com/fyerfyer/report-checker/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation    = "VALIDATION_ERROR"    // 输入验证错误
	ErrorTypeNotFound      = "NOT_FOUND_ERROR"     // 资源不存在错误
	ErrorTypeUnprocessable = "UNPROCESSABLE_ERROR" // 文档无法解析
	ErrorTypeUpstream      = "UPSTREAM_ERROR"      // 大模型调用失败
	ErrorTypeRateLimited   = "RATE_LIMITED_ERROR"  // 大模型限流
	ErrorTypeInternal      = "INTERNAL_ERROR"      // 内部服务器错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// FromError 将流水线各阶段的错误映射为应用错误
func FromError(err error) AppError {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var llmErr llm.LLMError
	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, storage.ErrFileNotFound):
		return NewNotFoundError("文件不存在")
	case errors.Is(err, document.ErrUnsupportedFormat), errors.Is(err, storage.ErrUnsupportedFile):
		return NewValidationError("不支持的文件类型，仅支持 .docx, .pdf")
	case errors.Is(err, document.ErrParse):
		return AppError{
			Type:    ErrorTypeUnprocessable,
			Message: "文档解析失败",
			Details: err.Error(),
			Code:    http.StatusUnprocessableEntity,
		}
	case errors.Is(err, services.ErrUnknownProvider), errors.Is(err, services.ErrStreamingUnsupported):
		return NewValidationError("无效的模型提供方", err.Error())
	case errors.As(err, &llmErr):
		if llmErr.Code == llm.ErrCodeRateLimited {
			return AppError{
				Type:    ErrorTypeRateLimited,
				Message: "模型服务限流，请稍后重试",
				Details: llmErr.Message,
				Code:    http.StatusTooManyRequests,
			}
		}
		return AppError{
			Type:    ErrorTypeUpstream,
			Message: "模型服务调用失败",
			Details: llmErr.Message,
			Code:    http.StatusBadGateway,
		}
	default:
		return NewInternalError("Internal server error", err.Error())
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 捕获 panic
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					FieldError:   err,
					"stack":      string(debug.Stack()),
					FieldPath:    c.Request.URL.Path,
					FieldTraceID: GetTraceID(c),
				}).Error("Panic recovered in API request")

				errorResponse := model.NewErrorResponse(
					http.StatusInternalServerError,
					"An unexpected error occurred",
				)

				// 在开发环境中可以返回详细错误
				if gin.Mode() == gin.DebugMode {
					errorResponse.Message = fmt.Sprintf("Panic: %v", err)
				}
				errorResponse.TraceID = GetTraceID(c)

				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// 取最后一个错误进行处理
		err := c.Errors.Last().Err
		appErr := FromError(err)
		traceID := GetTraceID(c)

		entry := log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			FieldTraceID: traceID,
			FieldPath:    c.Request.URL.Path,
			FieldError:   err.Error(),
		})
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		// 流式响应已经写出时不再写入JSON
		if c.Writer.Written() {
			c.Abort()
			return
		}

		message := appErr.Message
		if appErr.Details != "" && appErr.Type != ErrorTypeInternal {
			message = appErr.Message + ": " + appErr.Details
		}
		// 在开发环境下显示内部错误的具体信息
		if appErr.Type == ErrorTypeInternal && gin.Mode() == gin.DebugMode {
			message = err.Error()
		}

		errResp := model.NewErrorResponse(appErr.Code, message)
		errResp.TraceID = traceID
		c.AbortWithStatusJSON(appErr.Code, errResp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	// 添加错误到上下文中
	_ = c.Error(err)
}
