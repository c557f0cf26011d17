// =============================================================================
// ProvisionFlow 命令行入口
// =============================================================================
//
// 使用方法:
//
//	provisionflow serve                        # 启动 metrics/健康检查端点与周期健康扫描
//	provisionflow serve --config config.yaml   # 指定配置文件
//	provisionflow health                       # 一次性健康报告
//	provisionflow recover <workflow-id>        # 打印恢复信息
//	provisionflow migrate up                   # 运行数据库迁移
//	provisionflow version                      # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, errUnhealthy) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
