// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 ProvisionFlow 的重试与工作流步骤 span 提供 OTLP 导出。
// 禁用时保留全局 noop 实现，不连接任何外部服务。
package telemetry
