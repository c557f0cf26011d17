package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/types"
)

// TestContext 返回 30 秒超时的上下文，测试结束时取消
func TestContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// SeedWorkflow 写入工作流头信息并按顺序追加检查点
func SeedWorkflow(t testing.TB, store persistence.Store, state *types.WorkflowState, cps ...*types.Checkpoint) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveWorkflowState(ctx, state))
	for _, cp := range cps {
		require.NoError(t, store.CreateCheckpoint(ctx, state.WorkflowID, cp))
	}
}

// CheckpointStatuses 按追加顺序返回检查点状态
func CheckpointStatuses(cps []*types.Checkpoint) []types.CheckpointStatus {
	out := make([]types.CheckpointStatus, len(cps))
	for i, cp := range cps {
		out[i] = cp.Status
	}
	return out
}

// CheckpointSteps 按追加顺序返回检查点的步骤 ID
func CheckpointSteps(cps []*types.Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.StepID
	}
	return out
}
