package persistence

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/BaSui01/provisionflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// WorkflowStateStore 工作流状态的读取与检查点追加接口。
// 不存在的记录返回 (nil, nil)。同一工作流的检查点按追加顺序返回。
type WorkflowStateStore interface {
	LoadWorkflowState(ctx context.Context, workflowID string) (*types.WorkflowState, error)
	ListWorkflows(ctx context.Context) ([]string, error)
	GetWorkflowMetadata(ctx context.Context, workflowID string) (*types.WorkflowMetadata, error)
	// CreateCheckpoint 追加检查点；工作流存在时同时推进 UpdatedAt 与 CurrentStep
	CreateCheckpoint(ctx context.Context, workflowID string, cp *types.Checkpoint) error
	// GetCheckpoint 返回该步骤最近的一个检查点
	GetCheckpoint(ctx context.Context, workflowID, stepID string) (*types.Checkpoint, error)
	GetCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error)
	GetLastSuccessfulCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error)
}

// Store 可写的工作流状态存储
type Store interface {
	WorkflowStateStore
	// SaveWorkflowState 写入工作流头信息（不含检查点），存在则覆盖
	SaveWorkflowState(ctx context.Context, state *types.WorkflowState) error
	// Close closes the store and releases resources
	Close() error
	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// UpdateStatus loads a workflow, sets its status and advances UpdatedAt to at.
// It returns ErrNotFound when the workflow does not exist.
func UpdateStatus(ctx context.Context, s Store, workflowID string, status types.WorkflowStatus, at time.Time) (*types.WorkflowState, error) {
	state, err := s.LoadWorkflowState(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	state.Status = status
	state.Touch(at)
	if err := s.SaveWorkflowState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func validateState(state *types.WorkflowState) error {
	if state == nil || state.WorkflowID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidInput)
	}
	if state.UpdatedAt.Before(state.CreatedAt) {
		return fmt.Errorf("%w: updatedAt precedes createdAt", ErrInvalidInput)
	}
	return nil
}

func validateCheckpoint(workflowID string, cp *types.Checkpoint) error {
	if workflowID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidInput)
	}
	if cp == nil || cp.StepID == "" {
		return fmt.Errorf("%w: checkpoint step id is required", ErrInvalidInput)
	}
	return nil
}

// applyCheckpoint 推进工作流头信息
func applyCheckpoint(state *types.WorkflowState, cp *types.Checkpoint) {
	state.CurrentStep = cp.StepID
	state.Touch(cp.Timestamp)
}

func metadataOf(state *types.WorkflowState) *types.WorkflowMetadata {
	return &types.WorkflowMetadata{
		Status:    state.Status,
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.UpdatedAt,
	}
}

// lastSuccessful 返回最后一个 SUCCESS 检查点
func lastSuccessful(cps []*types.Checkpoint) *types.Checkpoint {
	for i := len(cps) - 1; i >= 0; i-- {
		if cps[i].Status == types.CheckpointSuccess {
			return cps[i]
		}
	}
	return nil
}

// lastWithStep 返回该步骤最近的检查点
func lastWithStep(cps []*types.Checkpoint, stepID string) *types.Checkpoint {
	for i := len(cps) - 1; i >= 0; i-- {
		if cps[i].StepID == stepID {
			return cps[i]
		}
	}
	return nil
}

func cloneCheckpoint(cp *types.Checkpoint) *types.Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	out.Data = maps.Clone(cp.Data)
	if cp.ErrorDetails != nil {
		info := *cp.ErrorDetails
		out.ErrorDetails = &info
	}
	return &out
}

func cloneCheckpoints(cps []*types.Checkpoint) []*types.Checkpoint {
	out := make([]*types.Checkpoint, len(cps))
	for i, cp := range cps {
		out[i] = cloneCheckpoint(cp)
	}
	return out
}

// cloneHeader 复制工作流头信息，不含检查点
func cloneHeader(state *types.WorkflowState) *types.WorkflowState {
	out := *state
	out.Metadata = maps.Clone(state.Metadata)
	out.Checkpoints = nil
	return &out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}
