// =============================================================================
// 🗄️ MockStore - 工作流状态存储模拟实现
// =============================================================================
// 基于内存存储，支持错误注入和调用计数
//
// 使用方法:
//
//	store := mocks.NewMockStore().WithCheckpointError(errors.New("disk full"))
//	err := store.CreateCheckpoint(ctx, "wf-1", cp)
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/types"
)

// MockStore 是 persistence.Store 的模拟实现
type MockStore struct {
	*persistence.MemoryStore

	mu sync.Mutex

	// 错误注入
	saveErr       error
	loadErr       error
	checkpointErr error
	listErr       error

	// 调用记录
	saveCalls       int
	checkpointCalls int
}

// NewMockStore 创建新的 MockStore
func NewMockStore() *MockStore {
	return &MockStore{MemoryStore: persistence.NewMemoryStore()}
}

// WithSaveError 设置 SaveWorkflowState 的错误
func (m *MockStore) WithSaveError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
	return m
}

// WithLoadError 设置读取类方法的错误
func (m *MockStore) WithLoadError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
	return m
}

// WithCheckpointError 设置 CreateCheckpoint 的错误
func (m *MockStore) WithCheckpointError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointErr = err
	return m
}

// WithListError 设置 ListWorkflows 的错误
func (m *MockStore) WithListError(err error) *MockStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

func (m *MockStore) errFor(p *error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *p
}

// SaveWorkflowState 写入头信息
func (m *MockStore) SaveWorkflowState(ctx context.Context, state *types.WorkflowState) error {
	m.mu.Lock()
	m.saveCalls++
	err := m.saveErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.MemoryStore.SaveWorkflowState(ctx, state)
}

// LoadWorkflowState 读取工作流
func (m *MockStore) LoadWorkflowState(ctx context.Context, workflowID string) (*types.WorkflowState, error) {
	if err := m.errFor(&m.loadErr); err != nil {
		return nil, err
	}
	return m.MemoryStore.LoadWorkflowState(ctx, workflowID)
}

// GetCheckpoints 读取检查点
func (m *MockStore) GetCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	if err := m.errFor(&m.loadErr); err != nil {
		return nil, err
	}
	return m.MemoryStore.GetCheckpoints(ctx, workflowID)
}

// ListWorkflows 列出工作流
func (m *MockStore) ListWorkflows(ctx context.Context) ([]string, error) {
	if err := m.errFor(&m.listErr); err != nil {
		return nil, err
	}
	return m.MemoryStore.ListWorkflows(ctx)
}

// CreateCheckpoint 追加检查点
func (m *MockStore) CreateCheckpoint(ctx context.Context, workflowID string, cp *types.Checkpoint) error {
	m.mu.Lock()
	m.checkpointCalls++
	err := m.checkpointErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.MemoryStore.CreateCheckpoint(ctx, workflowID, cp)
}

// Seed 直接写入检查点与工作流头信息，绕过错误注入。
// 头信息原样保存，不会被检查点推进。
func (m *MockStore) Seed(ctx context.Context, state *types.WorkflowState, cps ...*types.Checkpoint) error {
	for _, cp := range cps {
		if err := m.MemoryStore.CreateCheckpoint(ctx, state.WorkflowID, cp); err != nil {
			return err
		}
	}
	return m.MemoryStore.SaveWorkflowState(ctx, state)
}

// =============================================================================
// 📊 调用统计
// =============================================================================

// SaveCalls 返回 SaveWorkflowState 的调用次数
func (m *MockStore) SaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

// CheckpointCalls 返回 CreateCheckpoint 的调用次数
func (m *MockStore) CheckpointCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpointCalls
}
