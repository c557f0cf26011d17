package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/provisionflow/monitor"
	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/resilience/circuitbreaker"
	"github.com/BaSui01/provisionflow/resilience/retry"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ProvisionFlow 的完整配置结构
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Retry 重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// CircuitBreaker 熔断器默认配置
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`

	// Monitor 工作流监控配置
	Monitor MonitorConfig `yaml:"monitor" env:"MONITOR"`

	// Storage 工作流状态存储
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Audit 审计日志存储
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Redis 连接配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo MongoDB 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Metrics Prometheus 与健康检查端点
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
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

// RetryConfig 重试策略配置
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay      time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay          time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	SuccessThreshold   int           `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
	HalfOpenRetryDelay time.Duration `yaml:"half_open_retry_delay" env:"HALF_OPEN_RETRY_DELAY"`
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	// 一个工作流预期的步骤数，用于估算完成时间
	ExpectedStepCount int `yaml:"expected_step_count" env:"EXPECTED_STEP_COUNT"`
	// IN_PROGRESS 工作流超过该时长未更新视为停滞
	StaleThreshold time.Duration `yaml:"stale_threshold" env:"STALE_THRESHOLD"`
	// 批量读取工作流的并发度
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`
}

// StorageConfig 工作流状态存储配置
type StorageConfig struct {
	// 类型: memory, file, redis, database
	Type string `yaml:"type" env:"TYPE"`
	// file 后端目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// redis 后端键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// 审计存储后端
const (
	AuditBackendMemory   = "memory"
	AuditBackendFile     = "file"
	AuditBackendRedis    = "redis"
	AuditBackendDatabase = "database"
	AuditBackendMongo    = "mongo"
)

// AuditConfig 审计日志配置
type AuditConfig struct {
	// 后端: memory, file, redis, database, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// memory 后端最多保留的条数，0 表示不限
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// file 后端目录
	Dir string `yaml:"dir" env:"DIR"`
	// redis 后端键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// mongo 后端集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
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
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite（纯 Go）, sqlite3（CGO）
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
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI      string        `yaml:"uri" env:"URI"`
	Database string        `yaml:"database" env:"DATABASE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MetricsConfig 指标与健康检查端点
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标路径
	Path string `yaml:"path" env:"PATH"`
	// 周期性健康扫描间隔，0 表示关闭
	HealthInterval time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
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
// ✅ 校验
// =============================================================================

var (
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"json", "console"}
	storageTypes   = []string{string(persistence.StoreTypeMemory), string(persistence.StoreTypeFile), string(persistence.StoreTypeRedis), string(persistence.StoreTypeDatabase)}
	auditBackends  = []string{AuditBackendMemory, AuditBackendFile, AuditBackendRedis, AuditBackendDatabase, AuditBackendMongo}
	databaseDriver = []string{"postgres", "mysql", "sqlite", "sqlite3"}
)

// Validate 验证配置，返回所有问题的合并错误
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of %v, got %q", logLevels, c.Log.Level))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v, got %q", logFormats, c.Log.Format))
	}
	if err := c.Retry.ToRetry().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.CircuitBreaker.ToCircuitBreaker().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("circuit_breaker: %w", err))
	}
	if err := c.Monitor.ToMonitor().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("monitor: %w", err))
	}

	if !slices.Contains(storageTypes, c.Storage.Type) {
		errs = append(errs, fmt.Errorf("storage.type must be one of %v, got %q", storageTypes, c.Storage.Type))
	}
	if c.Storage.Type == string(persistence.StoreTypeFile) && c.Storage.BaseDir == "" {
		errs = append(errs, errors.New("storage.base_dir is required for the file store"))
	}

	if !slices.Contains(auditBackends, c.Audit.Backend) {
		errs = append(errs, fmt.Errorf("audit.backend must be one of %v, got %q", auditBackends, c.Audit.Backend))
	}
	if c.Audit.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("audit.max_entries must be >= 0, got %d", c.Audit.MaxEntries))
	}
	if c.Audit.Backend == AuditBackendFile && c.Audit.Dir == "" {
		errs = append(errs, errors.New("audit.dir is required for the file backend"))
	}
	if c.Audit.Backend == AuditBackendMongo {
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo.uri and mongo.database are required for the mongo audit backend"))
		}
		if c.Audit.Collection == "" {
			errs = append(errs, errors.New("audit.collection is required for the mongo backend"))
		}
	}

	if c.UsesDatabase() && !slices.Contains(databaseDriver, c.Database.Driver) {
		errs = append(errs, fmt.Errorf("database.driver must be one of %v, got %q", databaseDriver, c.Database.Driver))
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
		}
		if c.Metrics.HealthInterval < 0 {
			errs = append(errs, fmt.Errorf("metrics.health_interval must be >= 0, got %s", c.Metrics.HealthInterval))
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

// UsesDatabase reports whether any backend needs a SQL connection.
func (c *Config) UsesDatabase() bool {
	return c.Storage.Type == string(persistence.StoreTypeDatabase) || c.Audit.Backend == AuditBackendDatabase
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Storage.Type == string(persistence.StoreTypeRedis) || c.Audit.Backend == AuditBackendRedis
}

// =============================================================================
// 🔄 转换
// =============================================================================

// ToRetry converts to retry.Config.
func (r RetryConfig) ToRetry() retry.Config {
	return retry.Config{
		MaxAttempts:       r.MaxAttempts,
		InitialDelay:      r.InitialDelay,
		MaxDelay:          r.MaxDelay,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

// ToCircuitBreaker converts to circuitbreaker.Config.
func (c CircuitBreakerConfig) ToCircuitBreaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:   c.FailureThreshold,
		SuccessThreshold:   c.SuccessThreshold,
		Timeout:            c.Timeout,
		HalfOpenRetryDelay: c.HalfOpenRetryDelay,
	}
}

// ToMonitor converts to monitor.Config.
func (m MonitorConfig) ToMonitor() monitor.Config {
	return monitor.Config{
		ExpectedStepCount: m.ExpectedStepCount,
		StaleThreshold:    m.StaleThreshold,
		Concurrency:       m.Concurrency,
	}
}

// StoreConfig 组合 Storage 与 Redis 两节，供 persistence.NewStore 使用
func (c *Config) StoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:    persistence.StoreType(c.Storage.Type),
		BaseDir: c.Storage.BaseDir,
		Redis: persistence.RedisStoreConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			PoolSize:  c.Redis.PoolSize,
			KeyPrefix: c.Storage.KeyPrefix,
		},
	}
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
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
