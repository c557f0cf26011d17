package circuitbreaker

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Registry 熔断器注册表，按服务名惰性创建并复用熔断器
type Registry struct {
	defaults Config
	opts     []Option
	logger   *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry 创建熔断器注册表。opts 应用于注册表创建的每个熔断器。
func NewRegistry(defaults Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defaults: defaults.normalized(),
		opts:     opts,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for service, creating it on first use. cfg only
// applies when the breaker is created; nil means the registry defaults.
func (r *Registry) Get(service string, cfg *Config) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[service]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查
	if b, ok := r.breakers[service]; ok {
		return b
	}

	c := r.defaults
	if cfg != nil {
		c = *cfg
	}
	opts := append(slices.Clone(r.opts), WithLogger(r.logger))
	b := New(service, c, opts...)
	r.breakers[service] = b
	r.logger.Debug("circuit breaker created", zap.String("service", service))
	return b
}

// Execute runs fn behind the breaker for service.
func (r *Registry) Execute(ctx context.Context, service string, fn func(ctx context.Context) error, cfg *Config) error {
	return r.Get(service, cfg).Execute(ctx, fn)
}

// CallService is the generic form of Registry.Execute.
func CallService[T any](ctx context.Context, r *Registry, service string, fn func(ctx context.Context) (T, error), cfg *Config) (T, error) {
	return Call(ctx, r.Get(service, cfg), fn)
}

// Lookup returns the breaker for service if it exists.
func (r *Registry) Lookup(service string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[service]
	return b, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats 获取所有熔断器状态快照
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		stats[name] = b.Stats()
	}
	return stats
}

// Reset forces the breaker for service to CLOSED. It reports whether the breaker exists.
func (r *Registry) Reset(service string) bool {
	b, ok := r.Lookup(service)
	if ok {
		b.Reset()
	}
	return ok
}

// ResetAll 重置所有熔断器
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}
