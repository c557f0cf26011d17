/*
Package monitor 汇总工作流状态与检查点，提供指标、健康检查、时间线以及
状态迁移事件。

Monitor 只通过 persistence.WorkflowStateStore 读取状态；跨工作流的聚合
查询使用有界的 errgroup 并发读取。LogStateTransition 先写审计日志，再
同步通知所有监听器，单个监听器的错误或 panic 只记录日志，不影响其他监听器。
*/
package monitor
