package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/checkpoint"
	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/types"
)

// Observer receives monitor events for metrics.
type Observer interface {
	ObserveStateTransition(from, to types.WorkflowStatus)
	ObserveHealth(summary *HealthSummary)
}

// Monitor 工作流监控器
type Monitor struct {
	store       persistence.WorkflowStateStore
	checkpoints *checkpoint.Manager
	audit       *audit.Logger
	cfg         Config
	logger      *zap.Logger
	observer    Observer
	now         func() time.Time

	mu        sync.RWMutex
	listeners []subscription
	nextSubID uint64
}

type subscription struct {
	id uint64
	fn Listener
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// New 创建监控器。checkpoints 为 nil 时基于 store 创建，auditor 为 nil 时
// 使用内存审计存储。
func New(store persistence.WorkflowStateStore, checkpoints *checkpoint.Manager, auditor *audit.Logger, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		store:       store,
		checkpoints: checkpoints,
		audit:       auditor,
		cfg:         cfg.normalized(),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.audit == nil {
		m.audit = audit.NewLogger(audit.NewMemoryStorage(0, audit.WithMemoryLogger(m.logger)), audit.WithLogger(m.logger), audit.WithClock(m.now))
	}
	if m.checkpoints == nil {
		m.checkpoints = checkpoint.NewManager(store, m.audit, checkpoint.WithClock(m.now), checkpoint.WithLogger(m.logger))
	}
	m.logger = m.logger.With(zap.String("component", "workflow_monitor"))
	return m
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// load 读取工作流（含检查点），不存在时返回 ErrNotFound
func (m *Monitor) load(ctx context.Context, workflowID string) (*types.WorkflowState, error) {
	state, err := m.store.LoadWorkflowState(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if state == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, persistence.ErrNotFound)
	}
	return state, nil
}

// forEachWorkflow 以有界并发对所有工作流执行 fn，结果按 ListWorkflows 顺序返回
func forEachWorkflow[T any](ctx context.Context, m *Monitor, fn func(ctx context.Context, id string) (T, error)) ([]string, []T, error) {
	ids, err := m.store.ListWorkflows(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	results := make([]T, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			v, err := fn(gctx, id)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ids, results, nil
}
