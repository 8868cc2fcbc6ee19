// =============================================================================
// 📦 QuantumForge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Branch:        DefaultBranchConfig(),
		Redis:         DefaultRedisConfig(),
		Orchestration: DefaultOrchestrationConfig(),
		Quantum:       DefaultQuantumConfig(),
		LLM:           DefaultLLMConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		GRPCPort:        9090,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultBranchConfig 返回默认分支执行参数
func DefaultBranchConfig() BranchConfig {
	return BranchConfig{
		Persona:       "developer",
		Model:         "claude-3-5-sonnet-20241022",
		SystemPrompt:  "You are a helpful AI assistant.",
		MaxRetries:    3,
		Temperature:   0.7,
		MaxTokens:     4096,
		Timeout:       90 * time.Second,
		StreamEnabled: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultOrchestrationConfig 返回默认编排配置
func DefaultOrchestrationConfig() OrchestrationConfig {
	return OrchestrationConfig{
		MaxBranches:            5,
		DefaultCollapseRule:    "first_success",
		BranchTimeout:          90 * time.Second,
		CollapseGracePeriod:    2 * time.Second,
		HybridSequentialStages: 2,
	}
}

// DefaultQuantumConfig 返回默认量子执行器配置
func DefaultQuantumConfig() QuantumConfig {
	return QuantumConfig{
		PerProviderConcurrency: 3,
		RateLimitQPS:           5,
		RateLimitBurst:         10,
		StreamMode:             "tentative_leader",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "anthropic",
		APIKey:          "",
		BaseURL:         "",
		Timeout:         2 * time.Minute,
		MaxRetries:      3,
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
		ServiceName:  "quantumforge",
		SampleRate:   0.1,
	}
}
