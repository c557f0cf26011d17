// =============================================================================
// 📦 测试数据工厂 - 工作流与检查点
// =============================================================================
// 提供预定义的工作流状态、检查点和错误详情，用于测试
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/provisionflow/types"
)

// T0 固定的测试起始时间
var T0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// 预置的 Agent ID
const (
	OnboardingAgent   = "onboarding-agent"
	ProvisioningAgent = "provisioning-agent"
	MWCAgent          = "mwc-agent"
)

// ProvisioningSteps 标准的五步开通流程
var ProvisioningSteps = []string{"collect-requirements", "generate-template", "validate-template", "deploy-stack", "verify-stack"}

// =============================================================================
// 🔄 工作流状态工厂
// =============================================================================

// WorkflowState 返回创建于 T0 的工作流
func WorkflowState(id string, status types.WorkflowStatus) *types.WorkflowState {
	return &types.WorkflowState{
		WorkflowID: id,
		Type:       types.WorkflowProvisioning,
		Status:     status,
		Metadata:   map[string]any{"customer": "acme"},
		CreatedAt:  T0,
		UpdatedAt:  T0,
	}
}

// =============================================================================
// ✅ 检查点工厂
// =============================================================================

// SuccessCheckpoint 返回 SUCCESS 检查点
func SuccessCheckpoint(stepID string, at time.Time) *types.Checkpoint {
	return &types.Checkpoint{
		StepID:    stepID,
		Timestamp: at,
		AgentID:   ProvisioningAgent,
		Status:    types.CheckpointSuccess,
		Data:      map[string]any{"step": stepID},
	}
}

// FailureCheckpoint 返回带错误详情的 FAILURE 检查点
func FailureCheckpoint(stepID string, at time.Time) *types.Checkpoint {
	return &types.Checkpoint{
		StepID:       stepID,
		Timestamp:    at,
		AgentID:      ProvisioningAgent,
		Status:       types.CheckpointFailure,
		ErrorDetails: ErrorInfo("err-"+stepID, at),
	}
}

// ErrorInfo 返回 PERMANENT 错误详情
func ErrorInfo(id string, at time.Time) *types.ErrorInfo {
	return &types.ErrorInfo{
		ErrorID:      id,
		ErrorType:    types.ErrorTypePermanent,
		ErrorCode:    "VALIDATION_ERROR",
		ErrorMessage: "template validation failed",
		Timestamp:    at,
	}
}

// Sequence 按 interval 间隔生成检查点，statuses 与 stepIDs 一一对应
func Sequence(start time.Time, interval time.Duration, stepIDs []string, statuses []types.CheckpointStatus) []*types.Checkpoint {
	out := make([]*types.Checkpoint, 0, len(stepIDs))
	for i, id := range stepIDs {
		at := start.Add(time.Duration(i+1) * interval)
		if i < len(statuses) && statuses[i] == types.CheckpointFailure {
			out = append(out, FailureCheckpoint(id, at))
			continue
		}
		out = append(out, SuccessCheckpoint(id, at))
	}
	return out
}
