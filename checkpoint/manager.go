package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/resilience/classifier"
	"github.com/BaSui01/provisionflow/types"
)

// OperationCreateCheckpoint 检查点写入对应的审计操作名
const OperationCreateCheckpoint = "CREATE_CHECKPOINT"

// DataKeyErrorContexts FAILURE 检查点数据中记录各次失败尝试的键
const DataKeyErrorContexts = "errorContexts"

// CreateParams 描述待写入的检查点
type CreateParams struct {
	StepID       string
	AgentID      string
	Status       types.CheckpointStatus
	Data         map[string]any
	ErrorDetails *types.ErrorInfo
}

// Observer receives checkpoint write outcomes.
type Observer interface {
	ObserveCheckpoint(status types.CheckpointStatus)
}

// Manager 检查点管理器
type Manager struct {
	store    persistence.WorkflowStateStore
	audit    *audit.Logger
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used to stamp checkpoints and judge future timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides the id source for failure ErrorInfo.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager 创建检查点管理器。auditor 为 nil 时使用内存审计存储。
func NewManager(store persistence.WorkflowStateStore, auditor *audit.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		audit:  auditor,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.audit == nil {
		m.audit = audit.NewLogger(audit.NewMemoryStorage(0, audit.WithMemoryLogger(m.logger)), audit.WithLogger(m.logger), audit.WithClock(m.now))
	}
	m.logger = m.logger.With(zap.String("component", "checkpoint_manager"))
	return m
}

// Store returns the underlying workflow state store.
func (m *Manager) Store() persistence.WorkflowStateStore { return m.store }

// CreateCheckpoint 校验并追加检查点，然后写入审计日志。
// 校验失败返回 *ValidationError 且不写入任何内容。检查点已持久化但审计
// 写入失败时，返回检查点和错误。
func (m *Manager) CreateCheckpoint(ctx context.Context, workflowID string, p CreateParams) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{
		StepID:       p.StepID,
		Timestamp:    m.now(),
		AgentID:      p.AgentID,
		Status:       p.Status,
		Data:         maps.Clone(p.Data),
		ErrorDetails: p.ErrorDetails,
	}
	if workflowID == "" {
		return nil, &ValidationError{StepID: p.StepID, Errors: []string{"workflowId is required"}}
	}
	if res := m.ValidateCheckpoint(cp); !res.Valid {
		m.logger.Warn("checkpoint rejected",
			zap.String("workflow_id", workflowID),
			zap.String("step_id", p.StepID),
			zap.Strings("errors", res.Errors))
		return nil, &ValidationError{StepID: p.StepID, Errors: res.Errors}
	}

	if err := m.store.CreateCheckpoint(ctx, workflowID, cp); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint %s/%s: %w", workflowID, cp.StepID, err)
	}
	if m.observer != nil {
		m.observer.ObserveCheckpoint(cp.Status)
	}
	m.logger.Info("checkpoint created",
		zap.String("workflow_id", workflowID),
		zap.String("step_id", cp.StepID),
		zap.String("status", string(cp.Status)))

	entry := audit.Entry{
		ActorID:      cp.AgentID,
		ActorType:    types.ActorAgent,
		Operation:    OperationCreateCheckpoint,
		ResourceType: audit.ResourceTypeWorkflow,
		ResourceID:   workflowID,
		Details: map[string]any{
			"stepId": cp.StepID,
			"status": string(cp.Status),
		},
	}
	if chain, ok := cp.Data[DataKeyErrorContexts]; ok && cp.Status == types.CheckpointFailure {
		entry.Details[DataKeyErrorContexts] = chain
	}
	var err error
	switch cp.Status {
	case types.CheckpointSuccess:
		_, err = m.audit.LogSuccess(ctx, entry)
	case types.CheckpointFailure:
		_, err = m.audit.LogFailure(ctx, entry, cp.ErrorDetails)
	}
	if err != nil {
		m.logger.Error("checkpoint audit failed", zap.String("workflow_id", workflowID), zap.Error(err))
		return cp, fmt.Errorf("audit checkpoint %s/%s: %w", workflowID, cp.StepID, err)
	}
	return cp, nil
}

// CreateSuccessCheckpoint 写入 SUCCESS 检查点
func (m *Manager) CreateSuccessCheckpoint(ctx context.Context, workflowID, stepID, agentID string, data map[string]any) (*types.Checkpoint, error) {
	return m.CreateCheckpoint(ctx, workflowID, CreateParams{
		StepID:  stepID,
		AgentID: agentID,
		Status:  types.CheckpointSuccess,
		Data:    data,
	})
}

// CreateFailureCheckpoint 写入 FAILURE 检查点。
// 调用方已耗尽该步骤的重试，因此错误一律记为 PERMANENT。
func (m *Manager) CreateFailureCheckpoint(ctx context.Context, workflowID, stepID, agentID string, cause error, retryAttempt int, data map[string]any) (*types.Checkpoint, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return m.CreateCheckpoint(ctx, workflowID, CreateParams{
		StepID:  stepID,
		AgentID: agentID,
		Status:  types.CheckpointFailure,
		Data:    data,
		ErrorDetails: &types.ErrorInfo{
			ErrorID:      m.newID(),
			ErrorType:    types.ErrorTypePermanent,
			ErrorCode:    classifier.ErrorCodeOf(cause),
			ErrorMessage: msg,
			RetryAttempt: max(retryAttempt, 0),
			Timestamp:    m.now(),
		},
	})
}

// GetCheckpoint 返回该步骤最近的检查点，不存在时返回 nil
func (m *Manager) GetCheckpoint(ctx context.Context, workflowID, stepID string) (*types.Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(ctx, workflowID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// GetCheckpoints 按追加顺序返回全部检查点
func (m *Manager) GetCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	cps, err := m.store.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoints: %w", err)
	}
	return cps, nil
}

// GetLastSuccessfulCheckpoint 返回最后一个 SUCCESS 检查点
func (m *Manager) GetLastSuccessfulCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error) {
	cp, err := m.store.GetLastSuccessfulCheckpoint(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful checkpoint: %w", err)
	}
	return cp, nil
}

// ValidationError 检查点校验失败
type ValidationError struct {
	StepID string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid checkpoint %q: %v", e.StepID, e.Errors)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
