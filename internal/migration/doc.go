/*
包 migration 管理审计日志与工作流状态表的 Schema 版本，基于
golang-migrate 实现，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌，表结构与 gorm 模型
（audit.GormStorage、persistence.GormStore）保持一致，
因此 AutoMigrate 与显式迁移可以互换使用。SQLite 走纯 Go 的
modernc 驱动，无需 CGO。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Force、Version、Status、Info。
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 构建迁移器。
  - Reporter：migrate 子命令的文本输出（版本、状态表、汇总）。
  - ParseDatabaseType / BuildDatabaseURL：驱动名解析与 URL 拼接。
*/
package migration
