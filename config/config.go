package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Document DocumentConfig `mapstructure:"document"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`                                               // 服务器主机
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`                    // 服务器端口
	Mode            string        `mapstructure:"mode" validate:"omitempty,oneof=debug release test"` // gin运行模式
	MaxUploadMB     int64         `mapstructure:"max_upload_mb" validate:"min=1"`                     // 上传文件大小上限
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`                                   // 优雅关闭等待时间
	CORS            bool          `mapstructure:"cors"`                                               // 是否允许跨域
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"` // 日志级别
	File       string `mapstructure:"file"`                                         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`                                  // 单个文件大小上限
	MaxBackups int    `mapstructure:"max_backups"`                                  // 保留的旧文件数
	MaxAgeDays int    `mapstructure:"max_age_days"`                                 // 旧文件保留天数
	Compress   bool   `mapstructure:"compress"`                                     // 是否压缩旧文件
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider" validate:"required"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig 单个提供方的配置
type ProviderConfig struct {
	Type           string        `mapstructure:"type" validate:"required"` // 客户端类型：tongyi 或 ark
	APIKey         string        `mapstructure:"api_key"`                  // API密钥，支持 ${ENV} 写法
	Model          string        `mapstructure:"model"`                    // 模型名称
	Endpoint       string        `mapstructure:"endpoint"`                 // API端点
	Timeout        time.Duration `mapstructure:"timeout" validate:"min=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"min=0"`
	Temperature    float32       `mapstructure:"temperature" validate:"min=0,max=2"`
}

// CacheConfig 检查结果缓存配置
type CacheConfig struct {
	Enable    bool   `mapstructure:"enable"`                             // 是否启用缓存
	Type      string `mapstructure:"type" validate:"oneof=memory redis"` // 缓存类型：memory 或 redis
	Address   string `mapstructure:"address"`                            // Redis地址
	Password  string `mapstructure:"password"`                           // Redis密码
	DB        int    `mapstructure:"db"`                                 // Redis数据库
	TTL       int    `mapstructure:"ttl" validate:"min=0"`               // 缓存TTL（秒）
	KeyPrefix string `mapstructure:"key_prefix"`                         // 键前缀
}

// StorageConfig 上传文件存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                            // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"`                          // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	LabelSeparators []string `mapstructure:"label_separators" validate:"min=1,dive,required"` // 标签与值之间的分隔符
	RulesFile       string   `mapstructure:"rules_file"`                                      // 默认规则集文件，为空时使用内置规则
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.Warnf("Config file not found at %s, using defaults", configPath)
	} else {
		logrus.Infof("Using config file: %s", v.ConfigFileUsed())
	}

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	processEnvironmentVariables(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("invalid config: default provider %q is not configured", c.LLM.DefaultProvider)
	}
	return nil
}

// processEnvironmentVariables 将 ${VAR} 形式的配置项替换为环境变量的值
func processEnvironmentVariables(cfg *Config) {
	for name, p := range cfg.LLM.Providers {
		p.APIKey = expandEnv(p.APIKey)
		cfg.LLM.Providers[name] = p
	}

	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
	cfg.Storage.AccessKey = expandEnv(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = expandEnv(cfg.Storage.SecretKey)
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("server.shutdown_timeout", "10s")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// 大模型默认配置
	v.SetDefault("llm.default_provider", "tongyi")

	v.SetDefault("llm.providers.tongyi.type", "tongyi")
	v.SetDefault("llm.providers.tongyi.api_key", "${A_LI_YUN_API_KEY}")
	v.SetDefault("llm.providers.tongyi.model", "qwen-plus")
	v.SetDefault("llm.providers.tongyi.timeout", "120s")
	v.SetDefault("llm.providers.tongyi.connect_timeout", "20s")
	v.SetDefault("llm.providers.tongyi.max_retries", 2)

	v.SetDefault("llm.providers.ark.type", "ark")
	v.SetDefault("llm.providers.ark.api_key", "${HUO_SHAN_API_KEY}")
	v.SetDefault("llm.providers.ark.model", "deepseek-r1-250120")
	v.SetDefault("llm.providers.ark.timeout", "120s")
	v.SetDefault("llm.providers.ark.connect_timeout", "20s")
	v.SetDefault("llm.providers.ark.max_retries", 2)

	// 缓存默认配置
	v.SetDefault("cache.enable", false)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.ttl", 3600) // 1小时
	v.SetDefault("cache.key_prefix", "report-checker:")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "reports")
	v.SetDefault("storage.use_ssl", false)

	// 文档处理默认配置
	v.SetDefault("document.label_separators", []string{"："})
}
