// =============================================================================
// 📦 AgentRelay 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Executor:  DefaultExecutorConfig(),
		Agent:     DefaultAgentConfig(),
		LLM:       DefaultLLMConfig(),
		Catalog:   DefaultCatalogConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Auth:      AuthConfig{},
		Tools:     DefaultToolsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:             8080,
		MetricsPort:          9091,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         10 * time.Minute,
		ShutdownTimeout:      15 * time.Second,
		RateLimitRPS:         20,
		RateLimitBurst:       40,
		ObserverPingInterval: 30 * time.Second,
		EventBuffer:          256,
	}
}

// DefaultExecutorConfig 返回默认执行器配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ServerName:       "agentrelay",
		CommandTimeout:   30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		Retries:          0,
		RetryBackoff:     time.Second,
	}
}

// DefaultAgentConfig 返回默认推理循环配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		DefaultMaxIterations:   10,
		DelegatedMaxIterations: 5,
		MaxDelegationDepth:     1,
		RootAgentID:            "orchestrator-agent",
		RepeatThreshold:        3,
		ObservationMaxChars:    2000,
		Temperature:            0.2,
		MaxTokens:              4096,
		RunTimeout:             10 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "openai",
		Name:       "openai",
		BaseURL:    "https://api.openai.com",
		Model:      "gpt-4o-mini",
		Timeout:    2 * time.Minute,
		MaxRetries: 2,
	}
}

// DefaultCatalogConfig 返回默认目录配置
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Type:      "memory",
		Path:      "./data/agents.yaml",
		Seed:      true,
		KeyPrefix: "agentrelay:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:             false,
		Driver:              "sqlite",
		Host:                "localhost",
		Port:                5432,
		User:                "agentrelay",
		Name:                "./data/runs.db",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultToolsConfig 返回默认工具配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		FetchMaxContent:   5000,
		FetchTimeout:      30 * time.Second,
		FetchUserAgent:    "agentrelay-fetch/1.0",
		FetchMaxRedirects: 5,
		LocalTimeout:      time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentrelay",
		SampleRate:   0.1,
	}
}
