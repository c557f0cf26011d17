// Package persistence 定义工作流状态存储接口及其实现。
//
// WorkflowStateStore 是检查点管理器与监控器消费的只读/追加接口；
// Store 在其之上增加了写入工作流头信息的能力，供工作流驱动器使用。
//
// 支持的后端：
//   - memory: 开发与测试
//   - file: 单节点部署，每个工作流一个 JSON 文件
//   - redis: 分布式部署
//   - database: gorm（PostgreSQL / MySQL / SQLite）
package persistence
