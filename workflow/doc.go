// Copyright (c) ProvisionFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供按顺序驱动工作流步骤的执行器。

# 概述

Driver 一次只执行一个步骤：每个步骤经 RetryHandler 重试（命名了外部依赖的
步骤还会经过熔断器），结果写成检查点并记录审计日志，状态迁移通过
WorkflowMonitor 广播。同一工作流不会并发执行两个步骤。

# 核心类型

  - Definition   — 工作流类型与有序步骤
  - Step         — 单个步骤（ID、Agent、可选外部依赖名、重试配置、执行函数）
  - AgentInvoker — 调用下游 Agent 的接口，AgentStep 将其包装为 Step
  - Driver       — Start / Resume / Cancel
  - Run          — 一次执行的结果

# 错误语义

  - ErrWorkflowBusy      — 该工作流已有步骤在执行
  - ErrWorkflowExists    — Start 时工作流已存在
  - ErrWorkflowTerminal  — 工作流已完成或已取消
  - ErrWorkflowCancelled — 执行被 Cancel 中止
  - *StepError           — 步骤在重试后仍失败；CRITICAL 错误会触发升级回调

# 恢复

Resume 通过 checkpoint.Manager.GetRecoveryInfo 找到最后一个成功步骤，
从其后一个步骤开始执行，并把该检查点的 Data 作为下一步的输入。
*/
package workflow
