// Package config 提供 ProvisionFlow 的配置管理功能。
//
// 配置优先级：默认值 → YAML 文件 → .env 文件 → 环境变量（PROVISIONFLOW_ 前缀）。
// 各节可转换为 retry、circuitbreaker、monitor 与 persistence 包的配置。
package config
