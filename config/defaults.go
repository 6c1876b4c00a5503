// =============================================================================
// 📦 evalflow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Simulation: DefaultSimulationConfig(),
		Workflow:   DefaultWorkflowConfig(),
		Batch:      DefaultBatchConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "evalflow",
		Name:            "evalflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		KeyPrefix:           "evalflow",
		HealthCheckInterval: 30 * time.Second,
		StateCacheTTL:       30 * time.Second,
	}
}

// DefaultSimulationConfig 返回默认模拟配置
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		TransportURL: "ws://localhost:8765",
		Timeout:      5 * time.Minute,
		QueuePrefix:  "evalflow",
		JobScript:    "simulate_copilot",
		JobNamespace: "default",
		JobTimeout:   5 * time.Minute,
	}
}

// DefaultWorkflowConfig 返回默认工作流引擎配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		BaseURL:      "http://localhost:2024",
		Timeout:      2 * time.Minute,
		Provider:     "openai",
		DefaultModel: "gpt-4o",
	}
}

// DefaultBatchConfig 返回默认批量编排配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrentSessions: 4,
		StartSessionWhenIdle:  true,
		LockTTL:               2 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "evalflow",
		SampleRate:   0.1,
	}
}
