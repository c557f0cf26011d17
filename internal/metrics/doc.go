/*
包 metrics 提供基于 Prometheus 的指标采集能力。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，并实现
retry、circuitbreaker、audit、checkpoint 与 monitor 各包的 Observer
接口，组件只需通过 WithObserver 注入即可上报指标。

# 主要能力

  - 重试：失败尝试按错误类型计数，最终结果与尝试次数分布。
  - 熔断器：当前状态 Gauge、状态迁移与拒绝计数，按 service 分组。
  - 审计：写入结果计数与校验失败计数，按 operation 分组。
  - 工作流：检查点计数、状态迁移计数、最近一次健康扫描的健康/不健康数量。
  - HTTP 与数据库：serve 命令的请求计数与连接池 Gauge。
*/
package metrics
