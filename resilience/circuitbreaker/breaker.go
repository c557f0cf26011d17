package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/types"
)

// ErrCircuitOpen 熔断器打开时返回的哨兵错误
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State 熔断器状态
type State int

const (
	// StateClosed 正常状态，允许请求通过
	StateClosed State = iota
	// StateOpen 熔断状态，拒绝所有请求
	StateOpen
	// StateHalfOpen 半开状态，允许探测请求
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold CLOSED 状态下触发熔断的失败次数
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold HALF_OPEN 状态下恢复所需的成功次数
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// Timeout 熔断后进入 HALF_OPEN 之前的等待时间
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// HalfOpenRetryDelay 仅作为元数据对外暴露，Execute 不使用
	HalfOpenRetryDelay time.Duration `json:"half_open_retry_delay" yaml:"half_open_retry_delay"`
}

// DefaultConfig 默认熔断器配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            60 * time.Second,
		HalfOpenRetryDelay: 30 * time.Second,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	var errs []error
	if c.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold))
	}
	if c.SuccessThreshold < 1 {
		errs = append(errs, fmt.Errorf("success_threshold must be >= 1, got %d", c.SuccessThreshold))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %s", c.Timeout))
	}
	if c.HalfOpenRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("half_open_retry_delay must be >= 0, got %s", c.HalfOpenRetryDelay))
	}
	return errors.Join(errs...)
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.FailureThreshold < 1 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HalfOpenRetryDelay <= 0 {
		c.HalfOpenRetryDelay = def.HalfOpenRetryDelay
	}
	return c
}

// OpenError is returned when a call is rejected by an open breaker.
type OpenError struct {
	Service         string
	NextAttemptTime time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for service %s, next attempt at %s",
		e.Service, e.NextAttemptTime.Format(time.RFC3339))
}

// ErrorCode exposes the rejection code to error classification.
func (e *OpenError) ErrorCode() string { return string(types.ErrCircuitOpen) }

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Transition 熔断器状态变更事件
type Transition struct {
	Service   string    `json:"service"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Failures  int       `json:"failures"`
}

// Listener is called after a transition, outside the breaker lock.
type Listener func(Transition)

// Observer receives breaker events. internal/metrics implements it.
type Observer interface {
	ObserveBreakerTransition(t Transition)
	ObserveBreakerRejected(service string)
}

// Stats 熔断器状态快照
type Stats struct {
	Service         string    `json:"service"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	NextAttemptTime time.Time `json:"next_attempt_time,omitzero"`
	Config          Config    `json:"config"`
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithListener registers a transition listener.
func WithListener(l Listener) Option {
	return func(b *Breaker) {
		if l != nil {
			b.listeners = append(b.listeners, l)
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(b *Breaker) { b.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Breaker 熔断器实现，可被多个 goroutine 共享
type Breaker struct {
	service string
	config  Config

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	// generation 每次状态转换递增，用于丢弃过期调用的结果
	generation uint64

	now       func() time.Time
	listeners []Listener
	observer  Observer
	logger    *zap.Logger
}

// New 创建熔断器。非法配置项回退为默认值。
func New(service string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		service: service,
		config:  cfg.normalized(),
		state:   StateClosed,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "circuit_breaker"), zap.String("service", service))
	return b
}

// Service returns the dependency name guarded by the breaker.
func (b *Breaker) Service() string { return b.service }

// Config returns the effective configuration.
func (b *Breaker) Config() Config { return b.config }

// State returns the current state without advancing OPEN to HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Service:         b.service,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
		Config:          b.config,
	}
}

// Execute runs fn unless the breaker is open. fn runs outside the lock.
// Errors caused by cancellation of ctx itself are not counted as failures.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	b.record(gen, err)
	return err
}

// Call is the generic form of Breaker.Execute.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// admit decides whether a call may proceed and returns the generation it was admitted in.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	var fired []Transition
	switch b.state {
	case StateClosed, StateHalfOpen:
	case StateOpen:
		if b.now().Before(b.nextAttemptTime) {
			next := b.nextAttemptTime
			b.mu.Unlock()
			if b.observer != nil {
				b.observer.ObserveBreakerRejected(b.service)
			}
			return 0, &OpenError{Service: b.service, NextAttemptTime: next}
		}
		b.failureCount = 0
		b.successCount = 0
		fired = append(fired, b.transitionTo(StateHalfOpen, "timeout elapsed"))
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(fired)
	return gen, nil
}

// record applies the outcome of a call admitted in generation gen.
func (b *Breaker) record(gen uint64, callErr error) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		b.logger.Debug("ignoring result from a previous breaker state", zap.Error(callErr))
		return
	}

	var fired []Transition
	if callErr != nil {
		b.lastFailureTime = b.now()
		switch b.state {
		case StateClosed:
			b.failureCount++
			if b.failureCount >= b.config.FailureThreshold {
				fired = append(fired, b.open(fmt.Sprintf("%d consecutive failures", b.failureCount)))
			}
		case StateHalfOpen:
			b.failureCount++
			fired = append(fired, b.open("failure in half-open state"))
		case StateOpen:
		}
	} else {
		switch b.state {
		case StateClosed:
			b.failureCount = 0
		case StateHalfOpen:
			b.successCount++
			if b.successCount >= b.config.SuccessThreshold {
				reason := fmt.Sprintf("%d successes in half-open state", b.successCount)
				b.clear()
				fired = append(fired, b.transitionTo(StateClosed, reason))
			}
		case StateOpen:
		}
	}
	b.mu.Unlock()

	b.notify(fired)
}

// Reset 强制回到 CLOSED 状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	var fired []Transition
	old := b.state
	b.clear()
	if old != StateClosed {
		fired = append(fired, b.transitionTo(StateClosed, "manual reset"))
	} else {
		b.generation++
	}
	b.mu.Unlock()

	b.notify(fired)
}

// open 进入 OPEN 状态（必须在锁内调用）
func (b *Breaker) open(reason string) Transition {
	b.successCount = 0
	b.nextAttemptTime = b.now().Add(b.config.Timeout)
	return b.transitionTo(StateOpen, reason)
}

// clear 清空计数与计时（必须在锁内调用）
func (b *Breaker) clear() {
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureTime = time.Time{}
	b.nextAttemptTime = time.Time{}
}

// transitionTo 状态转换（必须在锁内调用）
func (b *Breaker) transitionTo(to State, reason string) Transition {
	t := Transition{
		Service:   b.service,
		From:      b.state,
		To:        to,
		Timestamp: b.now(),
		Reason:    reason,
		Failures:  b.failureCount,
	}
	b.state = to
	b.generation++
	return t
}

// notify 在锁外通知监听器
func (b *Breaker) notify(fired []Transition) {
	for _, t := range fired {
		b.logger.Info("circuit breaker state change",
			zap.String("old_state", t.From.String()),
			zap.String("new_state", t.To.String()),
			zap.String("reason", t.Reason),
			zap.Int("failures", t.Failures))
		if b.observer != nil {
			b.observer.ObserveBreakerTransition(t)
		}
		for _, l := range b.listeners {
			l(t)
		}
	}
}
