// Copyright (c) ProvisionFlow Authors.
// Licensed under the MIT License.

/*
Package checkpoint 记录工作流每个步骤的终态，并推导恢复信息。

Manager 通过 persistence.WorkflowStateStore 追加检查点，每次追加后都会
写入一条审计日志（CREATE_CHECKPOINT / WORKFLOW）。恢复总是从最后一个
成功检查点的下一个步骤开始，从不推断步骤内部的部分状态。

	mgr := checkpoint.NewManager(store, auditLogger, checkpoint.WithLogger(logger))
	if _, err := mgr.CreateSuccessCheckpoint(ctx, wfID, "generate", "onboarding-agent", out); err != nil {
		return err
	}
	info, _ := mgr.GetRecoveryInfo(ctx, wfID)
	next := info.NextStepIndex(stepIDs)
*/
package checkpoint
