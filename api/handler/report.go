package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fyerfyer/report-checker/api/middleware"
	"github.com/fyerfyer/report-checker/api/model"
	"github.com/fyerfyer/report-checker/internal/cache"
	"github.com/fyerfyer/report-checker/internal/document"
	"github.com/fyerfyer/report-checker/internal/report"
	"github.com/fyerfyer/report-checker/internal/services"
	"github.com/fyerfyer/report-checker/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/sirupsen/logrus"
)

// 默认上传大小上限
const defaultMaxUploadSize = 20 << 20

// ReportHandler 处理报告解析和合规检查相关的API请求
type ReportHandler struct {
	service       *services.ComplianceService // 合规检查服务
	fileStorage   storage.Storage             // 上传文件存储，可为空
	cache         cache.Cache                 // 检查结果缓存，可为空
	cacheTTL      time.Duration
	defaultRules  string
	maxUploadSize int64
	logger        *logrus.Logger
}

// HandlerOption 处理器配置选项
type HandlerOption func(*ReportHandler)

// WithStorage 启用上传和按file_id检查
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *ReportHandler) {
		h.fileStorage = s
	}
}

// WithCache 启用检查结果缓存
func WithCache(c cache.Cache, ttl time.Duration) HandlerOption {
	return func(h *ReportHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

// WithDefaultRules 设置请求未带规则时使用的规则集
func WithDefaultRules(rules string) HandlerOption {
	return func(h *ReportHandler) {
		h.defaultRules = rules
	}
}

// WithMaxUploadSize 设置上传文件大小上限(字节)
func WithMaxUploadSize(size int64) HandlerOption {
	return func(h *ReportHandler) {
		if size > 0 {
			h.maxUploadSize = size
		}
	}
}

// NewReportHandler 创建新的报告处理器
func NewReportHandler(service *services.ComplianceService, opts ...HandlerOption) *ReportHandler {
	h := &ReportHandler{
		service:       service,
		defaultRules:  report.DefaultRules(),
		maxUploadSize: defaultMaxUploadSize,
		logger:        middleware.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ParseReport 提取报告字段
// GET /api/reports/parse?file_path=...
func (h *ReportHandler) ParseReport(c *gin.Context) {
	var req model.ReportParseRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的请求参数", err.Error()))
		return
	}

	path, cleanup, err := h.resolvePath(req.FilePath, req.FileID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	defer cleanup()

	record, err := h.service.ReadDocument(c.Request.Context(), path)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ReportParseResponse{
		Record: record,
		Prompt: report.AssemblePrompt(record),
	}))
}

// CheckReport 对报告做合规检查
// POST /api/reports/check
func (h *ReportHandler) CheckReport(c *gin.Context) {
	var req model.ReportCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的请求参数", err.Error()))
		return
	}

	rules, err := h.rules(req.Rules)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	provider, modelName, err := h.service.Resolve(req.Provider)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	path, cleanup, err := h.resolvePath(req.FilePath, req.FileID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	defer cleanup()

	logger := h.logger.WithFields(logrus.Fields{
		middleware.FieldTraceID: middleware.GetTraceID(c),
		"provider":              provider,
		"model":                 modelName,
	})

	// 尝试从缓存获取
	var cacheKey string
	if h.cache != nil && !req.NoCache {
		cacheKey = checkCacheKey(path, rules, provider, modelName)
	}
	if cacheKey != "" {
		if resp, ok := h.cachedResponse(cacheKey); ok {
			logger.Debug("Check result served from cache")
			h.respondCheck(c, resp, req.Format)
			return
		}
	}

	result, err := h.service.Check(c.Request.Context(), rules, path, provider)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	resp := model.ReportCheckResponse{
		Record:    result.Record,
		Report:    result.Report,
		Provider:  result.Provider,
		Model:     result.Model,
		RequestID: result.RequestID,
		Usage: model.UsageInfo{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.TotalTokens,
		},
		ElapsedMS: result.Elapsed.Milliseconds(),
	}

	if cacheKey != "" {
		if data, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(cacheKey, string(data), h.cacheTTL); err != nil {
				logger.WithError(err).Warn("Failed to cache check result")
			}
		}
	}

	h.respondCheck(c, resp, req.Format)
}

// CheckReportStream 流式合规检查，以SSE推送模型输出
// POST /api/reports/check/stream
//
// 事件顺序: record, message..., done 或 error
func (h *ReportHandler) CheckReportStream(c *gin.Context) {
	var req model.ReportCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的请求参数", err.Error()))
		return
	}

	rules, err := h.rules(req.Rules)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	path, cleanup, err := h.resolvePath(req.FilePath, req.FileID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	defer cleanup()

	ctx := c.Request.Context()
	fragments := make(chan string)

	record, stream, err := h.service.CheckStream(ctx, rules, path, req.Provider, func(fragment string) {
		select {
		case fragments <- fragment:
		case <-ctx.Done():
		}
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("record", record)
	c.Writer.Flush()

	for {
		select {
		case fragment := <-fragments:
			c.SSEvent("message", fragment)
			c.Writer.Flush()

		case <-stream.Done():
			if err := stream.Err(); err != nil {
				appErr := middleware.FromError(err)
				h.logger.WithFields(logrus.Fields{
					middleware.FieldTraceID: middleware.GetTraceID(c),
					middleware.FieldError:   err.Error(),
				}).Error("Streaming compliance check failed")
				c.SSEvent("error", model.NewErrorResponse(appErr.Code, appErr.Message))
			} else {
				c.SSEvent("done", gin.H{"length": len([]rune(stream.Text()))})
			}
			c.Writer.Flush()
			return

		case <-ctx.Done():
			h.logger.WithField(middleware.FieldTraceID, middleware.GetTraceID(c)).
				Info("Client disconnected during streaming check")
			return
		}
	}
}

// UploadReport 上传报告文件
// POST /api/reports
func (h *ReportHandler) UploadReport(c *gin.Context) {
	if h.fileStorage == nil {
		middleware.HandleError(c, middleware.NewValidationError("未启用文件存储"))
		return
	}

	var req model.ReportUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("未提供文件", err.Error()))
		return
	}
	if req.File.Size > h.maxUploadSize {
		middleware.HandleError(c, middleware.NewValidationError("文件过大"))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("无法打开上传的文件", err.Error()))
		return
	}
	defer file.Close()

	info, err := h.fileStorage.Save(file, req.File.Filename)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"file_id":  info.ID,
		"filename": info.Name,
		"size":     info.Size,
	}).Info("Report uploaded successfully")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ReportUploadResponse{
		FileID:   info.ID,
		FileName: info.Name,
		Size:     info.Size,
		MimeType: info.MimeType,
	}))
}

// Health 健康检查
// GET /api/health
func (h *ReportHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.HealthResponse{
		Status:          "ok",
		Providers:       h.service.Providers(),
		DefaultProvider: h.service.DefaultProvider(),
	}))
}

// resolvePath 把请求中的文件定位为本地路径
func (h *ReportHandler) resolvePath(filePath, fileID string) (string, func(), error) {
	if fileID != "" {
		if h.fileStorage == nil {
			return "", nil, middleware.NewValidationError("未启用文件存储，只能使用file_path")
		}
		return h.fileStorage.Materialize(fileID)
	}
	return filePath, func() {}, nil
}

func (h *ReportHandler) rules(requested string) (string, error) {
	if rules := strings.TrimSpace(requested); rules != "" {
		return rules, nil
	}
	if h.defaultRules == "" {
		return "", middleware.NewValidationError("缺少审核规则")
	}
	return h.defaultRules, nil
}

func (h *ReportHandler) cachedResponse(key string) (model.ReportCheckResponse, bool) {
	var resp model.ReportCheckResponse

	value, found, err := h.cache.Get(key)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read check result cache")
		return resp, false
	}
	if !found {
		return resp, false
	}
	if err := json.Unmarshal([]byte(value), &resp); err != nil {
		h.logger.WithError(err).Warn("Discarding malformed cache entry")
		return resp, false
	}

	resp.Cached = true
	return resp, true
}

func (h *ReportHandler) respondCheck(c *gin.Context, resp model.ReportCheckResponse, format string) {
	if format == "html" {
		resp.HTML = renderHTML(resp.Report)
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// checkCacheKey 缓存键由文件内容、规则集、提供方和模型共同决定
// 不支持的格式或文件读取失败时返回空串，交给流水线报告具体错误
func checkCacheKey(path, rules, provider, modelName string) string {
	if !document.IsSupported(path) {
		return ""
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return cache.GenerateCacheKey("check", provider, modelName, cache.Digest(data, []byte(rules)))
}

// renderHTML 将markdown格式的报告渲染为HTML
func renderHTML(md string) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	doc := parser.NewWithExtensions(extensions).Parse([]byte(md))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(markdown.Render(doc, renderer))
}

