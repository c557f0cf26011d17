/*
Package audit 提供只追加、可查询的审计日志。

Logger 负责构造完整的 AuditLog（唯一 ID、当前时间）、写入前校验并序列化，
校验失败时返回 *ValidationError 且不写入任何数据。持久化通过 Storage 接口完成，
内置以下实现：

  - MemoryStorage: 有界内存存储，适用于测试与单进程部署
  - FileStorage: 按天切分的 JSONL 文件
  - RedisStorage: 值键 + 按时间排序的有序集合索引
  - GormStorage: audit_logs 表（PostgreSQL / MySQL / SQLite）
  - MongoStorage: audit_logs 集合

所有实现的 Query 结果按时间升序返回，时间区间为闭区间 [start, end]。
*/
package audit
