/*
Package testutil 提供 ProvisionFlow 测试的共享工具和辅助函数。

# 核心能力

  - TestContext：带超时的上下文，测试结束时取消
  - Clock：可手动推进的时钟，可注入任何接受 func() time.Time 的组件
  - SeedWorkflow：向任意 persistence.Store 写入工作流与检查点
  - CheckpointStatuses / CheckpointSteps：检查点序列的整体断言
  - WaitForChannel：带超时的通道接收

# 子包

  - testutil/mocks: MockStore（工作流状态存储）、MockAuditStorage（审计存储）、
    MockAgentInvoker（Agent 调用），均支持 Builder 模式与错误注入
  - testutil/fixtures: 工作流、检查点与错误详情的测试数据工厂

# 使用示例

	clock := testutil.NewClock(fixtures.T0)
	store := mocks.NewMockStore().WithCheckpointError(errBoom)
	mgr := checkpoint.NewManager(store, nil, checkpoint.WithClock(clock.Now))
*/
package testutil
