/*
包 database 负责打开 GORM 数据库并管理其连接池，供审计存储与
工作流状态存储的 database 后端使用。

# 核心类型

  - Open / Dialector：按 config.DatabaseConfig.Driver 选择方言
    （postgres、mysql、sqlite 纯 Go、sqlite3 CGO）。
  - PoolManager：连接池参数、后台健康检查（Close 时停止）、
    事务，以及经 resilience/retry 执行的事务重试（死锁、序列化冲突、
    锁等待与连接类错误判定为瞬时）。
  - WithStatsFunc：健康检查后回调 sql.DBStats，cmd 中接入
    metrics.Collector.RecordDBConnections。
*/
package database
