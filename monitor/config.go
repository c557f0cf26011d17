package monitor

import (
	"errors"
	"fmt"
	"time"
)

// Config 监控策略参数
type Config struct {
	// ExpectedStepCount 估算剩余时间时假定的步骤总数
	ExpectedStepCount int `json:"expected_step_count" yaml:"expected_step_count"`
	// StaleThreshold IN_PROGRESS 工作流超过该时长未更新即视为停滞
	StaleThreshold time.Duration `json:"stale_threshold" yaml:"stale_threshold"`
	// Concurrency 聚合查询时并发读取的工作流数
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// DefaultConfig 返回默认监控配置
func DefaultConfig() Config {
	return Config{
		ExpectedStepCount: 5,
		StaleThreshold:    time.Hour,
		Concurrency:       8,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.ExpectedStepCount < 1 {
		errs = append(errs, fmt.Errorf("expected_step_count must be >= 1, got %d", c.ExpectedStepCount))
	}
	if c.StaleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("stale_threshold must be > 0, got %s", c.StaleThreshold))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency))
	}
	return errors.Join(errs...)
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ExpectedStepCount < 1 {
		c.ExpectedStepCount = d.ExpectedStepCount
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = d.StaleThreshold
	}
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	return c
}
