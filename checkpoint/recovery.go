package checkpoint

import (
	"context"

	"github.com/BaSui01/provisionflow/types"
)

// RecoveryInfo 描述工作流从何处恢复。
// RecoveryStepID 为空表示没有可恢复的点。
type RecoveryInfo struct {
	WorkflowID               string            `json:"workflowId"`
	LastSuccessfulCheckpoint *types.Checkpoint `json:"lastSuccessfulCheckpoint,omitempty"`
	FailedCheckpoint         *types.Checkpoint `json:"failedCheckpoint,omitempty"`
	CanRecover               bool              `json:"canRecover"`
	RecoveryStepID           string            `json:"recoveryStepId,omitempty"`
}

// Recovery derives recovery info from checkpoints in append order.
func Recovery(workflowID string, cps []*types.Checkpoint) *RecoveryInfo {
	info := &RecoveryInfo{WorkflowID: workflowID}
	if len(cps) == 0 {
		return info
	}
	if last := cps[len(cps)-1]; last.Status == types.CheckpointFailure {
		info.FailedCheckpoint = last
	}
	for i := len(cps) - 1; i >= 0; i-- {
		if cps[i].Status == types.CheckpointSuccess {
			info.LastSuccessfulCheckpoint = cps[i]
			break
		}
	}
	if info.LastSuccessfulCheckpoint != nil {
		info.CanRecover = true
		info.RecoveryStepID = info.LastSuccessfulCheckpoint.StepID
	}
	return info
}

// GetRecoveryInfo 读取检查点并推导恢复信息
func (m *Manager) GetRecoveryInfo(ctx context.Context, workflowID string) (*RecoveryInfo, error) {
	cps, err := m.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return Recovery(workflowID, cps), nil
}

// NextStepIndex returns the index in stepIDs at which execution resumes: the
// step after the recovery step. It is 0 when nothing can be recovered or the
// recovery step is not part of stepIDs.
func (r *RecoveryInfo) NextStepIndex(stepIDs []string) int {
	if r == nil || !r.CanRecover {
		return 0
	}
	for i := len(stepIDs) - 1; i >= 0; i-- {
		if stepIDs[i] == r.RecoveryStepID {
			return i + 1
		}
	}
	return 0
}
