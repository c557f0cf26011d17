package persistence

import (
	"context"
	"sync"

	"github.com/BaSui01/provisionflow/types"
)

// workflowRecord 单个工作流的头信息与检查点序列
type workflowRecord struct {
	State       *types.WorkflowState `json:"state,omitempty"`
	Checkpoints []*types.Checkpoint  `json:"checkpoints"`
}

// MemoryStore is an in-memory Store. Values are copied on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*workflowRecord
	closed    bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*workflowRecord)}
}

func (s *MemoryStore) record(id string) *workflowRecord {
	rec, ok := s.workflows[id]
	if !ok {
		rec = &workflowRecord{}
		s.workflows[id] = rec
	}
	return rec
}

// SaveWorkflowState 写入工作流头信息
func (s *MemoryStore) SaveWorkflowState(_ context.Context, state *types.WorkflowState) error {
	if err := validateState(state); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.record(state.WorkflowID).State = cloneHeader(state)
	return nil
}

// LoadWorkflowState 返回工作流及其检查点
func (s *MemoryStore) LoadWorkflowState(_ context.Context, workflowID string) (*types.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.workflows[workflowID]
	if !ok || rec.State == nil {
		return nil, nil
	}
	state := cloneHeader(rec.State)
	state.Checkpoints = cloneCheckpoints(rec.Checkpoints)
	return state, nil
}

// ListWorkflows 返回已保存头信息的工作流 ID，按字典序
func (s *MemoryStore) ListWorkflows(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(s.workflows))
	for _, id := range sortedKeys(s.workflows) {
		if s.workflows[id].State != nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetWorkflowMetadata 返回工作流元数据
func (s *MemoryStore) GetWorkflowMetadata(_ context.Context, workflowID string) (*types.WorkflowMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.workflows[workflowID]
	if !ok || rec.State == nil {
		return nil, nil
	}
	return metadataOf(rec.State), nil
}

// CreateCheckpoint 追加检查点
func (s *MemoryStore) CreateCheckpoint(_ context.Context, workflowID string, cp *types.Checkpoint) error {
	if err := validateCheckpoint(workflowID, cp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec := s.record(workflowID)
	rec.Checkpoints = append(rec.Checkpoints, cloneCheckpoint(cp))
	if rec.State != nil {
		applyCheckpoint(rec.State, cp)
	}
	return nil
}

// GetCheckpoint 返回该步骤最近的检查点
func (s *MemoryStore) GetCheckpoint(_ context.Context, workflowID, stepID string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	return cloneCheckpoint(lastWithStep(rec.Checkpoints, stepID)), nil
}

// GetCheckpoints 按追加顺序返回检查点
func (s *MemoryStore) GetCheckpoints(_ context.Context, workflowID string) ([]*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.workflows[workflowID]
	if !ok {
		return []*types.Checkpoint{}, nil
	}
	return cloneCheckpoints(rec.Checkpoints), nil
}

// GetLastSuccessfulCheckpoint 返回最后一个 SUCCESS 检查点
func (s *MemoryStore) GetLastSuccessfulCheckpoint(_ context.Context, workflowID string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	return cloneCheckpoint(lastSuccessful(rec.Checkpoints)), nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// snapshot 复制单个工作流记录（必须在锁内调用）
func (s *MemoryStore) snapshot(workflowID string) *workflowRecord {
	rec, ok := s.workflows[workflowID]
	if !ok {
		return nil
	}
	out := &workflowRecord{Checkpoints: cloneCheckpoints(rec.Checkpoints)}
	if rec.State != nil {
		out.State = cloneHeader(rec.State)
	}
	return out
}
