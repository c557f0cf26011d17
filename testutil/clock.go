package testutil

import (
	"sync"
	"time"
)

// Clock 可手动推进的测试时钟，并发安全
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建停在 start 的时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now 返回当前时间，可作为 func() time.Time 注入
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 将时钟向前推进 d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set 将时钟设置为 t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
