// Copyright (c) ProvisionFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 ProvisionFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 resilience、audit、
checkpoint、monitor、workflow 等上层模块提供统一的数据契约，避免循环依赖。

# 核心类型

  - ErrorType         — 错误分类（TRANSIENT / PERMANENT / CRITICAL）
  - ErrorContext      — 单次失败尝试的完整上下文，通过 PreviousErrors 串联
  - ErrorInfo         — 检查点与审计日志携带的错误详情
  - Error / ErrorCode — 结构化错误，分类器可读取其错误码
  - Checkpoint        — 工作流单个步骤的终态记录（SUCCESS / FAILURE）
  - WorkflowState     — 工作流状态（ONBOARDING / PROVISIONING）
  - AuditLog          — 追加写入的审计日志条目
*/
package types
