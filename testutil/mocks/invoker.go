// =============================================================================
// 🤖 MockAgentInvoker - Agent 调用模拟实现
// =============================================================================
// 按 Agent 预设响应序列，记录每次调用
//
// 使用方法:
//
//	inv := mocks.NewMockAgentInvoker().
//		WithResponse("onboarding-agent", map[string]any{"template": "..."}).
//		WithErrors("provisioning-agent", errThrottled, nil)
// =============================================================================
package mocks

import (
	"context"
	"maps"
	"sync"
)

// InvokeCall 一次调用记录
type InvokeCall struct {
	AgentID string
	Payload map[string]any
}

// MockAgentInvoker 模拟对下游 Agent 的调用
type MockAgentInvoker struct {
	mu        sync.Mutex
	responses map[string]map[string]any
	errs      map[string][]error
	calls     []InvokeCall
}

// NewMockAgentInvoker 创建新的 MockAgentInvoker
func NewMockAgentInvoker() *MockAgentInvoker {
	return &MockAgentInvoker{
		responses: make(map[string]map[string]any),
		errs:      make(map[string][]error),
	}
}

// WithResponse 设置 Agent 成功时的响应
func (m *MockAgentInvoker) WithResponse(agentID string, resp map[string]any) *MockAgentInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[agentID] = maps.Clone(resp)
	return m
}

// WithErrors 预设依次返回的错误，nil 表示该次调用成功；序列用完后调用成功
func (m *MockAgentInvoker) WithErrors(agentID string, errs ...error) *MockAgentInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[agentID] = append(m.errs[agentID], errs...)
	return m
}

// Invoke 调用 Agent
func (m *MockAgentInvoker) Invoke(ctx context.Context, agentID string, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, InvokeCall{AgentID: agentID, Payload: maps.Clone(payload)})
	if queue := m.errs[agentID]; len(queue) > 0 {
		err := queue[0]
		m.errs[agentID] = queue[1:]
		if err != nil {
			return nil, err
		}
	}
	return maps.Clone(m.responses[agentID]), nil
}

// Calls 返回调用记录
func (m *MockAgentInvoker) Calls() []InvokeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InvokeCall(nil), m.calls...)
}

// CallCount 返回对指定 Agent 的调用次数
func (m *MockAgentInvoker) CallCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.AgentID == agentID {
			n++
		}
	}
	return n
}
