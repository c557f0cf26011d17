// =============================================================================
// 📝 MockAuditStorage - 审计存储模拟实现
// =============================================================================
// 基于内存审计存储，支持错误注入和调用计数
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/provisionflow/audit"
)

// MockAuditStorage 是 audit.Storage 的模拟实现
type MockAuditStorage struct {
	inner *audit.MemoryStorage

	mu          sync.Mutex
	appendErr   error
	queryErr    error
	appendCalls int
}

// NewMockAuditStorage 创建新的 MockAuditStorage
func NewMockAuditStorage() *MockAuditStorage {
	return &MockAuditStorage{inner: audit.NewMemoryStorage(0)}
}

// WithAppendError 设置 Append 的错误
func (m *MockAuditStorage) WithAppendError(err error) *MockAuditStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
	return m
}

// WithQueryError 设置 Query 与 Count 的错误
func (m *MockAuditStorage) WithQueryError(err error) *MockAuditStorage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
	return m
}

// Append 写入审计记录
func (m *MockAuditStorage) Append(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.appendCalls++
	err := m.appendErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.inner.Append(ctx, key, value)
}

// Query 按时间范围查询
func (m *MockAuditStorage) Query(ctx context.Context, start, end time.Time, filters *audit.Filters) ([][]byte, error) {
	m.mu.Lock()
	err := m.queryErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.Query(ctx, start, end, filters)
}

// Count 统计记录数
func (m *MockAuditStorage) Count(ctx context.Context, filters *audit.Filters) (int, error) {
	m.mu.Lock()
	err := m.queryErr
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return m.inner.Count(ctx, filters)
}

// AppendCalls 返回 Append 的调用次数
func (m *MockAuditStorage) AppendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCalls
}

// Len 返回已写入的记录数
func (m *MockAuditStorage) Len() int { return m.inner.Len() }
