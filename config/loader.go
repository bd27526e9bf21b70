// =============================================================================
// 📦 AgentRelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentRelay 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Executor 远程执行器连接配置
	Executor ExecutorConfig `yaml:"executor" env:"EXECUTOR"`

	// Agent 推理循环与委派配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Catalog Agent 目录存储
	Catalog CatalogConfig `yaml:"catalog" env:"CATALOG"`

	// Redis 连接配置（目录存储类型为 redis 时使用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 运行记录数据库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Auth JWT 认证
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Tools 本地工具与分发配置
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示在 HTTP 端口上暴露 /metrics
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖同步运行的最长时间
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个会话的 API 限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// WebSocket 允许的 Origin 模式
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// 观察者心跳间隔
	ObserverPingInterval time.Duration `yaml:"observer_ping_interval" env:"OBSERVER_PING_INTERVAL"`
	// 事件订阅缓冲区大小
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
	// TLS 证书与私钥，均配置时 API 端口以 TLS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// ExecutorConfig 远程执行器配置
type ExecutorConfig struct {
	// 握手回复中的服务名
	ServerName string `yaml:"server_name" env:"SERVER_NAME"`
	// 单条命令超时
	CommandTimeout time.Duration `yaml:"command_timeout" env:"COMMAND_TIMEOUT"`
	// 握手超时
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	// 保活 ping 间隔
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	// 执行器不可用时的重试次数，0 表示直接中止
	Retries int `yaml:"retries" env:"RETRIES"`
	// 重试间隔
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
}

// AgentConfig 推理循环配置
type AgentConfig struct {
	// Agent 未声明上限时的最大迭代次数
	DefaultMaxIterations int `yaml:"default_max_iterations" env:"DEFAULT_MAX_ITERATIONS"`
	// 被委派 Agent 的迭代上限
	DelegatedMaxIterations int `yaml:"delegated_max_iterations" env:"DELEGATED_MAX_ITERATIONS"`
	// 最大委派深度
	MaxDelegationDepth int `yaml:"max_delegation_depth" env:"MAX_DELEGATION_DEPTH"`
	// 根 Agent ID
	RootAgentID string `yaml:"root_agent_id" env:"ROOT_AGENT_ID"`
	// 相同动作重复阈值，负数关闭
	RepeatThreshold int `yaml:"repeat_threshold" env:"REPEAT_THRESHOLD"`
	// 任一工具失败即中止
	StopOnError bool `yaml:"stop_on_error" env:"STOP_ON_ERROR"`
	// 观察结果截断长度（字符）
	ObservationMaxChars int `yaml:"observation_max_chars" env:"OBSERVATION_MAX_CHARS"`
	// 完成短语，为空使用内置列表
	CompletionPhrases []string `yaml:"completion_phrases" env:"COMPLETION_PHRASES"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 单次运行的最长时间，0 表示不限
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider: openai（任意 OpenAI 兼容端点）或 anthropic
	Provider string `yaml:"provider" env:"PROVIDER"`
	// Provider 名称（日志与指标中显示）
	Name string `yaml:"name" env:"NAME"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 关闭原生函数调用，改用文本 Action 解析
	TextToolCalls bool `yaml:"text_tool_calls" env:"TEXT_TOOL_CALLS"`
}

// CatalogConfig Agent 目录存储配置
type CatalogConfig struct {
	// 类型: memory, file, redis
	Type string `yaml:"type" env:"TYPE"`
	// 文件路径（.yaml/.yml 或 .json）
	Path string `yaml:"path" env:"PATH"`
	// 目录为空时写入内置 Agent
	Seed bool `yaml:"seed" env:"SEED"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否持久化运行记录
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 后台健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// AuthConfig JWT 认证配置
type AuthConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC 签名密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// 期望的 iss，为空不校验
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的 aud，为空不校验
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// ToolsConfig 工具配置
type ToolsConfig struct {
	// fetch_url 默认最大内容长度
	FetchMaxContent int `yaml:"fetch_max_content" env:"FETCH_MAX_CONTENT"`
	// fetch_url 默认超时
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	// fetch_url User-Agent
	FetchUserAgent string `yaml:"fetch_user_agent" env:"FETCH_USER_AGENT"`
	// fetch_url 最多跟随的重定向次数
	FetchMaxRedirects int `yaml:"fetch_max_redirects" env:"FETCH_MAX_REDIRECTS"`
	// 允许 fetch_url 访问回环与内网地址
	FetchAllowPrivate bool `yaml:"fetch_allow_private" env:"FETCH_ALLOW_PRIVATE"`
	// 本地工具超时
	LocalTimeout time.Duration `yaml:"local_timeout" env:"LOCAL_TIMEOUT"`
	// 按工具 ID 的限流（仅 YAML）
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits" env:"-"`
}

// RateLimitConfig 单个工具的限流
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTRELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，所有问题以 "; " 拼接返回
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Executor.CommandTimeout <= 0 {
		errs = append(errs, "executor.command_timeout must be positive")
	}
	if c.Executor.HandshakeTimeout <= 0 {
		errs = append(errs, "executor.handshake_timeout must be positive")
	}
	if c.Executor.Retries < 0 {
		errs = append(errs, "executor.retries must not be negative")
	}

	if c.Agent.DefaultMaxIterations < 1 || c.Agent.DefaultMaxIterations > 100 {
		errs = append(errs, "agent.default_max_iterations must be between 1 and 100")
	}
	if c.Agent.DelegatedMaxIterations < 1 {
		errs = append(errs, "agent.delegated_max_iterations must be positive")
	}
	if c.Agent.MaxDelegationDepth < 1 {
		errs = append(errs, "agent.max_delegation_depth must be positive")
	}
	if strings.TrimSpace(c.Agent.RootAgentID) == "" {
		errs = append(errs, "agent.root_agent_id is required")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("unsupported llm.provider %q (supported: openai, anthropic)", c.LLM.Provider))
	}

	switch c.Catalog.Type {
	case "memory", "redis":
	case "file":
		if c.Catalog.Path == "" {
			errs = append(errs, "catalog.path is required for file catalogs")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported catalog.type %q (supported: memory, file, redis)", c.Catalog.Type))
	}
	if c.Catalog.Type == "redis" && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required for redis catalogs")
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database.driver %q", c.Database.Driver))
		}
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth.jwt_secret must be at least 32 bytes")
	}

	for id, rl := range c.Tools.RateLimits {
		if rl.PerSecond <= 0 {
			errs = append(errs, fmt.Sprintf("tools.rate_limits.%s.per_second must be positive", id))
		}
	}

	if c.Telemetry.Enabled && (c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1) {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
