// Copyright (c) ProvisionFlow Authors.
// Licensed under the MIT License.

/*
Package retry 提供基于错误分类的指数退避重试。

每次失败都会经过 classifier 分类：只有 TRANSIENT 错误才会被重试，
PERMANENT 与 CRITICAL 错误立即返回。每次失败生成一个 ErrorContext，
并串联此前所有失败，调用结束后随 Result 一并返回。

	h := retry.NewHandler(classifier.New(), retry.WithLogger(logger))
	res := retry.Execute(ctx, h, retry.Invocation{
		AgentID:       "provisioning-agent",
		WorkflowID:    wfID,
		OperationName: "deploy_cloudformation_stack",
	}, retry.DefaultConfig(), deploy)
*/
package retry
