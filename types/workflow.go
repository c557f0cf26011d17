package types

import "time"

// CheckpointStatus 检查点终态
type CheckpointStatus string

const (
	CheckpointSuccess CheckpointStatus = "SUCCESS"
	CheckpointFailure CheckpointStatus = "FAILURE"
)

// Checkpoint 工作流单个步骤的终态记录。追加写入，不可修改；
// FAILURE 检查点必须携带 ErrorDetails。
type Checkpoint struct {
	StepID       string           `json:"stepId"`
	Timestamp    time.Time        `json:"timestamp"`
	AgentID      string           `json:"agentId"`
	Status       CheckpointStatus `json:"status"`
	Data         map[string]any   `json:"data,omitempty"`
	ErrorDetails *ErrorInfo       `json:"errorDetails,omitempty"`
}

// WorkflowType 工作流类型
type WorkflowType string

const (
	WorkflowOnboarding   WorkflowType = "ONBOARDING"
	WorkflowProvisioning WorkflowType = "PROVISIONING"
)

// WorkflowStatus 工作流状态
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "PENDING"
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowFailed     WorkflowStatus = "FAILED"
	WorkflowCancelled  WorkflowStatus = "CANCELLED"
)

// AllWorkflowStatuses lists every status in lifecycle order.
var AllWorkflowStatuses = []WorkflowStatus{
	WorkflowPending,
	WorkflowInProgress,
	WorkflowCompleted,
	WorkflowFailed,
	WorkflowCancelled,
}

// IsTerminal reports whether no further steps run in this status.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// WorkflowState 工作流状态，由外部 WorkflowStateStore 持有。
// 不变量：UpdatedAt >= CreatedAt。
type WorkflowState struct {
	WorkflowID  string         `json:"workflowId"`
	Type        WorkflowType   `json:"type"`
	Status      WorkflowStatus `json:"status"`
	CurrentStep string         `json:"currentStep,omitempty"`
	Checkpoints []*Checkpoint  `json:"checkpoints,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Touch advances UpdatedAt to t, never moving it before CreatedAt or backwards.
func (s *WorkflowState) Touch(t time.Time) {
	if t.Before(s.CreatedAt) {
		t = s.CreatedAt
	}
	if t.After(s.UpdatedAt) {
		s.UpdatedAt = t
	}
}

// WorkflowMetadata 工作流元数据（不含检查点）
type WorkflowMetadata struct {
	Status    WorkflowStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
