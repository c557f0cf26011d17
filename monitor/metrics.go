package monitor

import (
	"context"
	"time"

	"github.com/BaSui01/provisionflow/checkpoint"
	"github.com/BaSui01/provisionflow/types"
)

// WorkflowMetrics 单个工作流的指标
type WorkflowMetrics struct {
	WorkflowID            string               `json:"workflowId"`
	Type                  types.WorkflowType   `json:"type"`
	Status                types.WorkflowStatus `json:"status"`
	CurrentStep           string               `json:"currentStep,omitempty"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
	Duration              time.Duration        `json:"duration"`
	TotalCheckpoints      int                  `json:"totalCheckpoints"`
	SuccessfulCheckpoints int                  `json:"successfulCheckpoints"`
	FailedCheckpoints     int                  `json:"failedCheckpoints"`
	// CompletionPercentage 0..100。COMPLETED 为 100，FAILED/CANCELLED 为 0，
	// 其余取检查点成功率
	CompletionPercentage float64 `json:"completionPercentage"`
}

// WorkflowStatusQuery 工作流当前状态
type WorkflowStatusQuery struct {
	WorkflowID         string               `json:"workflowId"`
	Status             types.WorkflowStatus `json:"status"`
	CurrentStep        string               `json:"currentStep,omitempty"`
	Checkpoints        []*types.Checkpoint  `json:"checkpoints"`
	LastCheckpointTime time.Time            `json:"lastCheckpointTime,omitzero"`
	CanRecover         bool                 `json:"canRecover"`
	RecoveryStepID     string               `json:"recoveryStepId,omitempty"`
	// FailedStepID 最近一次失败检查点的步骤
	FailedStepID string `json:"failedStepId,omitempty"`
	// EstimatedCompletion 仅在 IN_PROGRESS 且至少有两个检查点时给出
	EstimatedCompletion time.Time `json:"estimatedCompletion,omitzero"`
}

// ExecutionMetrics 全部工作流的聚合指标
type ExecutionMetrics struct {
	TotalWorkflows int                          `json:"totalWorkflows"`
	ByStatus       map[types.WorkflowStatus]int `json:"byStatus"`
	// AverageDuration 已完成工作流的平均耗时
	AverageDuration time.Duration `json:"averageDuration"`
	// SuccessRate completed / (completed + failed)，取值 0..1
	SuccessRate float64 `json:"successRate"`
}

// TimelineEvent 执行时间线上的一个检查点
type TimelineEvent struct {
	StepID    string                 `json:"stepId"`
	AgentID   string                 `json:"agentId"`
	Status    types.CheckpointStatus `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	// SincePrevious 与前一个检查点的间隔，首个检查点为 0
	SincePrevious time.Duration `json:"sincePrevious"`
	// Elapsed 自工作流创建起的耗时
	Elapsed time.Duration `json:"elapsed"`
}

func metricsOf(state *types.WorkflowState) *WorkflowMetrics {
	stats := checkpoint.Summarize(state.Checkpoints)
	wm := &WorkflowMetrics{
		WorkflowID:            state.WorkflowID,
		Type:                  state.Type,
		Status:                state.Status,
		CurrentStep:           state.CurrentStep,
		CreatedAt:             state.CreatedAt,
		UpdatedAt:             state.UpdatedAt,
		Duration:              state.UpdatedAt.Sub(state.CreatedAt),
		TotalCheckpoints:      stats.Total,
		SuccessfulCheckpoints: stats.Successful,
		FailedCheckpoints:     stats.Failed,
	}
	switch state.Status {
	case types.WorkflowCompleted:
		wm.CompletionPercentage = 100
	case types.WorkflowFailed, types.WorkflowCancelled:
		wm.CompletionPercentage = 0
	case types.WorkflowPending, types.WorkflowInProgress:
		wm.CompletionPercentage = stats.SuccessRate * 100
	}
	return wm
}

// WorkflowMetrics 返回单个工作流的指标
func (m *Monitor) WorkflowMetrics(ctx context.Context, workflowID string) (*WorkflowMetrics, error) {
	state, err := m.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return metricsOf(state), nil
}

// QueryWorkflowStatus 返回工作流当前状态与恢复信息
func (m *Monitor) QueryWorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatusQuery, error) {
	state, err := m.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	cps := state.Checkpoints
	recovery, err := m.checkpoints.GetRecoveryInfo(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	q := &WorkflowStatusQuery{
		WorkflowID:     workflowID,
		Status:         state.Status,
		CurrentStep:    state.CurrentStep,
		Checkpoints:    cps,
		CanRecover:     recovery.CanRecover,
		RecoveryStepID: recovery.RecoveryStepID,
	}
	if recovery.FailedCheckpoint != nil {
		q.FailedStepID = recovery.FailedCheckpoint.StepID
	}
	if q.Checkpoints == nil {
		q.Checkpoints = []*types.Checkpoint{}
	}
	if n := len(cps); n > 0 {
		q.LastCheckpointTime = cps[n-1].Timestamp
	}
	if state.Status == types.WorkflowInProgress {
		if gap := checkpoint.AverageGap(cps); gap > 0 {
			remaining := max(m.cfg.ExpectedStepCount-checkpoint.Summarize(cps).Successful, 0)
			q.EstimatedCompletion = m.now().Add(time.Duration(remaining) * gap)
		}
	}
	return q, nil
}

// ExecutionMetrics 汇总全部工作流
func (m *Monitor) ExecutionMetrics(ctx context.Context) (*ExecutionMetrics, error) {
	_, metas, err := forEachWorkflow(ctx, m, m.metadata)
	if err != nil {
		return nil, err
	}

	em := &ExecutionMetrics{ByStatus: make(map[types.WorkflowStatus]int, len(types.AllWorkflowStatuses))}
	for _, s := range types.AllWorkflowStatuses {
		em.ByStatus[s] = 0
	}
	var completedTotal time.Duration
	for _, meta := range metas {
		if meta == nil {
			continue
		}
		em.TotalWorkflows++
		em.ByStatus[meta.Status]++
		if meta.Status == types.WorkflowCompleted {
			completedTotal += meta.UpdatedAt.Sub(meta.CreatedAt)
		}
	}
	completed, failed := em.ByStatus[types.WorkflowCompleted], em.ByStatus[types.WorkflowFailed]
	if completed > 0 {
		em.AverageDuration = completedTotal / time.Duration(completed)
	}
	if completed+failed > 0 {
		em.SuccessRate = float64(completed) / float64(completed+failed)
	}
	return em, nil
}

// metadata 读取元数据；列表与读取之间被删除的工作流返回 nil
func (m *Monitor) metadata(ctx context.Context, id string) (*types.WorkflowMetadata, error) {
	return m.store.GetWorkflowMetadata(ctx, id)
}

// WorkflowsByStatus 返回处于指定状态的工作流 ID
func (m *Monitor) WorkflowsByStatus(ctx context.Context, status types.WorkflowStatus) ([]string, error) {
	ids, metas, err := forEachWorkflow(ctx, m, m.metadata)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for i, meta := range metas {
		if meta != nil && meta.Status == status {
			out = append(out, ids[i])
		}
	}
	return out, nil
}

// ExecutionTimeline 合并检查点顺序与间隔
func (m *Monitor) ExecutionTimeline(ctx context.Context, workflowID string) ([]TimelineEvent, error) {
	state, err := m.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	events := make([]TimelineEvent, 0, len(state.Checkpoints))
	for i, cp := range state.Checkpoints {
		ev := TimelineEvent{
			StepID:    cp.StepID,
			AgentID:   cp.AgentID,
			Status:    cp.Status,
			Timestamp: cp.Timestamp,
			Elapsed:   cp.Timestamp.Sub(state.CreatedAt),
		}
		if i > 0 {
			ev.SincePrevious = cp.Timestamp.Sub(state.Checkpoints[i-1].Timestamp)
		}
		events = append(events, ev)
	}
	return events, nil
}
