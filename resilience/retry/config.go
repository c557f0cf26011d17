package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config 定义重试策略配置
type Config struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`             // 最大尝试次数（含首次）
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`           // 第一次重试前的等待
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`                   // 等待上限
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"` // 指数退避倍数
}

// DefaultConfig 返回默认重试配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial_delay must be > 0, got %s", c.InitialDelay))
	}
	if c.MaxDelay < c.InitialDelay {
		errs = append(errs, fmt.Errorf("max_delay (%s) must be >= initial_delay (%s)", c.MaxDelay, c.InitialDelay))
	}
	if c.BackoffMultiplier <= 1 {
		errs = append(errs, fmt.Errorf("backoff_multiplier must be > 1, got %v", c.BackoffMultiplier))
	}
	return errors.Join(errs...)
}

// normalized 修正非法参数，与 DefaultConfig 对齐
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// Delay returns min(InitialDelay * BackoffMultiplier^attemptIndex, MaxDelay).
// attemptIndex is 0 for the wait before the first retry.
func (c Config) Delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attemptIndex))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}
