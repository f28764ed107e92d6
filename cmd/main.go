package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/fyerfyer/report-checker/api"
	"github.com/fyerfyer/report-checker/api/handler"
	"github.com/fyerfyer/report-checker/api/middleware"
	"github.com/fyerfyer/report-checker/config"
	"github.com/fyerfyer/report-checker/internal/cache"
	"github.com/fyerfyer/report-checker/internal/llm"
	"github.com/fyerfyer/report-checker/internal/report"
	"github.com/fyerfyer/report-checker/internal/services"
	"github.com/fyerfyer/report-checker/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 命令行参数
type flags struct {
	ConfigFile string // 配置文件路径
	Port       int    // 覆盖配置中的端口
	File       string // 单次检查的报告文件，设置后不启动服务
	RulesFile  string // 单次检查使用的规则文件
	Provider   string // 单次检查使用的提供方
	Stream     bool   // 单次检查是否流式输出
	ParseOnly  bool   // 只输出提取的字段
}

func main() {
	// 最先注册，保证其余defer执行完再退出
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	f := parseFlags()

	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if f.Port > 0 {
		cfg.Server.Port = f.Port
	}

	logger, rotator := setupLogger(cfg.Log)
	if rotator != nil {
		defer rotator.Close()
	}

	service, err := setupService(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize compliance service: %v", err)
	}
	defer service.Close()

	if f.File != "" {
		if err := runOnce(f, service, os.Stdout); err != nil {
			logger.WithError(err).Error("Compliance check failed")
			exitCode = 1
		}
		return
	}

	runServer(cfg, service, logger)
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	var f flags

	flag.StringVar(&f.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.IntVar(&f.Port, "port", 0, "Server port (overrides config)")

	// 单次检查
	flag.StringVar(&f.File, "file", "", "Check a single report file (.docx/.pdf) and exit")
	flag.StringVar(&f.RulesFile, "rules", "", "Rule set file, the built-in rules are used when empty")
	flag.StringVar(&f.Provider, "provider", "", "LLM provider (defaults to llm.default_provider)")
	flag.BoolVar(&f.Stream, "stream", false, "Print the report as it is generated")
	flag.BoolVar(&f.ParseOnly, "parse", false, "Only print the extracted fields")

	flag.Parse()
	return f
}

// setupLogger 设置日志系统
// 配置了日志文件时同时输出到标准输出和滚动文件
func setupLogger(cfg config.LogConfig) (*logrus.Logger, *lumberjack.Logger) {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		return logger, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		logger.Warnf("Failed to create log directory, logging to stdout only: %v", err)
		return logger, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return logger, rotator
}

// setupService 创建大模型客户端和合规检查服务
func setupService(cfg *config.Config, logger *logrus.Logger) (*services.ComplianceService, error) {
	extractor, err := report.NewExtractor(report.WithSeparators(cfg.Document.LabelSeparators...))
	if err != nil {
		return nil, err
	}

	opts := []services.ComplianceOption{
		services.WithExtractor(extractor),
		services.WithLogger(logger),
	}

	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	configured := make(map[string]llm.Client)
	closeAll := func() {
		for _, client := range configured {
			client.Close()
		}
	}

	for _, name := range names {
		provider := cfg.LLM.Providers[name]
		if provider.APIKey == "" {
			logger.WithField("provider", name).Warn("API key not set, provider disabled")
			continue
		}

		client, err := setupLLM(provider, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		opts = append(opts, services.WithClient(name, client))
		configured[name] = client

		logger.WithFields(logrus.Fields{
			"provider": name,
			"type":     provider.Type,
			"model":    client.Name(),
		}).Info("LLM provider configured")
	}

	switch {
	case len(configured) == 0:
		// 只能提取字段，检查请求会返回未知提供方
		logger.Warn("No LLM provider has an API key, compliance checks are disabled")
	case configured[cfg.LLM.DefaultProvider] != nil:
		opts = append(opts, services.WithDefaultProvider(cfg.LLM.DefaultProvider))
	default:
		logger.WithField("provider", cfg.LLM.DefaultProvider).Warn("Default provider disabled")
	}

	svc, err := services.NewComplianceService(opts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return svc, nil
}

// setupLLM 按配置创建大模型客户端
func setupLLM(p config.ProviderConfig, logger *logrus.Logger) (llm.Client, error) {
	opts := []llm.Option{
		llm.WithAPIKey(p.APIKey),
		llm.WithMaxRetries(p.MaxRetries),
		llm.WithLogger(logger),
	}
	if p.Model != "" {
		opts = append(opts, llm.WithModel(p.Model))
	}
	if p.Endpoint != "" {
		opts = append(opts, llm.WithBaseURL(p.Endpoint))
	}
	if p.Timeout > 0 {
		opts = append(opts, llm.WithTimeout(p.Timeout))
	}
	if p.ConnectTimeout > 0 {
		opts = append(opts, llm.WithConnectTimeout(p.ConnectTimeout))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(p.MaxTokens))
	}
	if p.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(p.Temperature))
	}

	return llm.NewClient(p.Type, opts...)
}

// setupStorage 设置上传文件存储
func setupStorage(cfg config.StorageConfig) (storage.Storage, error) {
	return storage.NewStorage(storage.Config{
		Type:  cfg.Type,
		Local: storage.LocalConfig{Path: cfg.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		},
	})
}

// setupCache 设置检查结果缓存
func setupCache(cfg config.CacheConfig) (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Type
	cacheConfig.RedisAddr = cfg.Address
	cacheConfig.RedisPassword = cfg.Password
	cacheConfig.RedisDB = cfg.DB
	if cfg.KeyPrefix != "" {
		cacheConfig.KeyPrefix = cfg.KeyPrefix
	}
	if cfg.TTL > 0 {
		cacheConfig.DefaultTTL = time.Duration(cfg.TTL) * time.Second
	}

	return cache.NewCache(cacheConfig)
}

// runOnce 对单个文件做检查并把结果写到out
func runOnce(f flags, service *services.ComplianceService, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.ParseOnly {
		record, err := service.ReadDocument(ctx, f.File)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	rules := report.DefaultRules()
	if f.RulesFile != "" {
		data, err := os.ReadFile(f.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to read rules file: %w", err)
		}
		rules = string(data)
	}

	if !f.Stream {
		result, err := service.Check(ctx, rules, f.File, f.Provider)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, result.Report)
		return err
	}

	_, stream, err := service.CheckStream(ctx, rules, f.File, f.Provider, func(fragment string) {
		fmt.Fprint(out, fragment)
	})
	if err != nil {
		return err
	}
	err = stream.Wait()
	fmt.Fprintln(out)
	return err
}

// runServer 启动HTTP服务并等待终止信号
func runServer(cfg *config.Config, service *services.ComplianceService, logger *logrus.Logger) {
	gin.SetMode(cfg.Server.Mode)

	fileStorage, err := setupStorage(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	handlerOpts := []handler.HandlerOption{
		handler.WithStorage(fileStorage),
		handler.WithMaxUploadSize(cfg.Server.MaxUploadMB << 20),
	}

	if cfg.Document.RulesFile != "" {
		data, err := os.ReadFile(cfg.Document.RulesFile)
		if err != nil {
			logger.Fatalf("Failed to read rules file: %v", err)
		}
		handlerOpts = append(handlerOpts, handler.WithDefaultRules(string(data)))
	}

	if cfg.Cache.Enable {
		cacheService, err := setupCache(cfg.Cache)
		if err != nil {
			logger.Fatalf("Failed to initialize cache: %v", err)
		}
		defer cacheService.Close()
		handlerOpts = append(handlerOpts, handler.WithCache(cacheService, time.Duration(cfg.Cache.TTL)*time.Second))
		logger.WithField("type", cfg.Cache.Type).Info("Check result cache enabled")
	}

	reportHandler := handler.NewReportHandler(service, handlerOpts...)
	r := api.SetupRouter(reportHandler, cfg.Server.CORS)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	// 优雅关闭
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
