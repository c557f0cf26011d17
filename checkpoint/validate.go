package checkpoint

import (
	"context"
	"time"

	"github.com/BaSui01/provisionflow/types"
)

// ValidationResult 检查点校验结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateCheckpoint 校验检查点结构。纯函数，重复调用结果一致。
func (m *Manager) ValidateCheckpoint(cp *types.Checkpoint) ValidationResult {
	return validateAt(cp, m.now())
}

func validateAt(cp *types.Checkpoint, now time.Time) ValidationResult {
	errs := []string{}
	if cp == nil {
		return ValidationResult{Errors: []string{"checkpoint is nil"}}
	}
	if cp.StepID == "" {
		errs = append(errs, "stepId is required")
	}
	if cp.AgentID == "" {
		errs = append(errs, "agentId is required")
	}
	if cp.Timestamp.IsZero() {
		errs = append(errs, "timestamp is required")
	} else if cp.Timestamp.After(now) {
		errs = append(errs, "timestamp cannot be in the future")
	}
	switch cp.Status {
	case types.CheckpointSuccess:
	case types.CheckpointFailure:
		if cp.ErrorDetails == nil {
			errs = append(errs, "errorDetails is required for FAILURE checkpoints")
		}
	case "":
		errs = append(errs, "status is required")
	default:
		errs = append(errs, "status must be SUCCESS or FAILURE")
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// InvalidCheckpoints maps each invalid step id to its violations.
func InvalidCheckpoints(cps []*types.Checkpoint, now time.Time) map[string][]string {
	out := make(map[string][]string)
	for _, cp := range cps {
		if res := validateAt(cp, now); !res.Valid {
			key := ""
			if cp != nil {
				key = cp.StepID
			}
			out[key] = append(out[key], res.Errors...)
		}
	}
	return out
}

// ValidateAllCheckpoints 校验工作流的全部检查点，返回 stepId → 违规项
func (m *Manager) ValidateAllCheckpoints(ctx context.Context, workflowID string) (map[string][]string, error) {
	cps, err := m.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return InvalidCheckpoints(cps, m.now()), nil
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.now() }
