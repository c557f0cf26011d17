/*
provisionflow 命令装配重试、熔断、审计、检查点与监控组件，
对外提供 metrics/健康检查端点与运维子命令。

	serve     /metrics、/healthz、/readyz、/workflows/{id}、/breakers，以及周期健康扫描
	health    一次性健康报告，存在不健康工作流时退出码为 1
	recover   打印工作流恢复信息
	migrate   up、down、status、version、info、force
	version   版本信息

配置优先级：默认值 < YAML（--config）< .env（--env-file）< PROVISIONFLOW_* 环境变量。
*/
package main
