// =============================================================================
// 📦 ProvisionFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/provisionflow/monitor"
	"github.com/BaSui01/provisionflow/resilience/circuitbreaker"
	"github.com/BaSui01/provisionflow/resilience/retry"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:            DefaultLogConfig(),
		Retry:          DefaultRetryConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Monitor:        DefaultMonitorConfig(),
		Storage:        DefaultStorageConfig(),
		Audit:          DefaultAuditConfig(),
		Redis:          DefaultRedisConfig(),
		Database:       DefaultDatabaseConfig(),
		Mongo:          DefaultMongoConfig(),
		Metrics:        DefaultMetricsConfig(),
		Telemetry:      DefaultTelemetryConfig(),
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

// DefaultRetryConfig 与 retry.DefaultConfig 一致
func DefaultRetryConfig() RetryConfig {
	d := retry.DefaultConfig()
	return RetryConfig{
		MaxAttempts:       d.MaxAttempts,
		InitialDelay:      d.InitialDelay,
		MaxDelay:          d.MaxDelay,
		BackoffMultiplier: d.BackoffMultiplier,
	}
}

// DefaultCircuitBreakerConfig 与 circuitbreaker.DefaultConfig 一致
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	d := circuitbreaker.DefaultConfig()
	return CircuitBreakerConfig{
		FailureThreshold:   d.FailureThreshold,
		SuccessThreshold:   d.SuccessThreshold,
		Timeout:            d.Timeout,
		HalfOpenRetryDelay: d.HalfOpenRetryDelay,
	}
}

// DefaultMonitorConfig 与 monitor.DefaultConfig 一致
func DefaultMonitorConfig() MonitorConfig {
	d := monitor.DefaultConfig()
	return MonitorConfig{
		ExpectedStepCount: d.ExpectedStepCount,
		StaleThreshold:    d.StaleThreshold,
		Concurrency:       d.Concurrency,
	}
}

// DefaultStorageConfig 返回默认工作流存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type:      "memory",
		BaseDir:   "./data/workflows",
		KeyPrefix: "provisionflow:",
	}
}

// DefaultAuditConfig 返回默认审计配置
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Backend:    AuditBackendMemory,
		MaxEntries: 100000,
		Dir:        "./data/audit",
		KeyPrefix:  "provisionflow:audit:",
		Collection: "audit_logs",
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

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "provisionflow",
		Password:        "",
		Name:            "provisionflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:      "mongodb://localhost:27017",
		Database: "provisionflow",
		Timeout:  10 * time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标端点配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:         true,
		Addr:            ":9091",
		Path:            "/metrics",
		HealthInterval:  time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "provisionflow",
		SampleRate:   0.1,
	}
}
