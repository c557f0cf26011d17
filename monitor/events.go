package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/types"
)

// 状态迁移审计记录
const (
	OperationStateTransition = "STATE_TRANSITION"
	ActorWorkflowMonitor     = "workflow-monitor"
)

// StateTransitionEvent 工作流状态迁移事件
type StateTransitionEvent struct {
	WorkflowID string               `json:"workflowId"`
	FromStatus types.WorkflowStatus `json:"fromStatus"`
	ToStatus   types.WorkflowStatus `json:"toStatus"`
	Timestamp  time.Time            `json:"timestamp"`
	Reason     string               `json:"reason,omitempty"`
}

// Listener 同步接收状态迁移事件。返回的错误只会被记录。
type Listener func(ctx context.Context, ev StateTransitionEvent) error

// OnStateTransition 注册监听器，返回取消注册函数
func (m *Monitor) OnStateTransition(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.listeners = append(m.listeners, subscription{id: id, fn: l})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// LogStateTransition 写入审计日志后同步通知监听器。
// 审计写入失败时返回错误且不通知监听器。
func (m *Monitor) LogStateTransition(ctx context.Context, workflowID string, from, to types.WorkflowStatus, reason string) (*StateTransitionEvent, error) {
	ev := StateTransitionEvent{
		WorkflowID: workflowID,
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  m.now(),
		Reason:     reason,
	}

	_, err := m.audit.LogSuccess(ctx, audit.Entry{
		ActorID:      ActorWorkflowMonitor,
		ActorType:    types.ActorSystem,
		Operation:    OperationStateTransition,
		ResourceType: audit.ResourceTypeWorkflow,
		ResourceID:   workflowID,
		Details: map[string]any{
			"fromStatus": string(from),
			"toStatus":   string(to),
			"reason":     reason,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit state transition %s: %w", workflowID, err)
	}

	m.logger.Info("workflow state transition",
		zap.String("workflow_id", workflowID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	if m.observer != nil {
		m.observer.ObserveStateTransition(from, to)
	}

	m.mu.RLock()
	subs := append([]subscription(nil), m.listeners...)
	m.mu.RUnlock()
	for _, s := range subs {
		m.notify(ctx, s, ev)
	}
	return &ev, nil
}

func (m *Monitor) notify(ctx context.Context, s subscription, ev StateTransitionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state transition listener panicked",
				zap.Uint64("listener", s.id),
				zap.String("workflow_id", ev.WorkflowID),
				zap.Any("recover", r))
		}
	}()
	if err := s.fn(ctx, ev); err != nil {
		m.logger.Warn("state transition listener failed",
			zap.Uint64("listener", s.id),
			zap.String("workflow_id", ev.WorkflowID),
			zap.Error(err))
	}
}
