package migration

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// Reporter 把 Migrator 的操作结果渲染为 migrate 子命令的文本输出
type Reporter struct {
	m Migrator
	w io.Writer
}

// NewReporter 创建写入 w 的 Reporter
func NewReporter(m Migrator, w io.Writer) *Reporter {
	return &Reporter{m: m, w: w}
}

// Up 应用全部待执行迁移
func (r *Reporter) Up(ctx context.Context) error {
	return r.change(ctx, "migrate", "Migrations complete", r.m.Up)
}

// Down 回滚最近一次迁移
func (r *Reporter) Down(ctx context.Context) error {
	return r.change(ctx, "rollback", "Rollback complete", r.m.Down)
}

// Force 强制写入版本号，不执行迁移脚本（用于修复 dirty 状态）
func (r *Reporter) Force(ctx context.Context, version int) error {
	if err := r.m.Force(ctx, version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return r.printf("Version forced to %d\n", version)
}

// change 执行变更类操作，随后报告当前版本
func (r *Reporter) change(ctx context.Context, verb, done string, op func(context.Context) error) error {
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	info, err := r.m.Info(ctx)
	if err != nil {
		return err
	}
	return r.printf("%s. Current version: %d%s\n", done, info.CurrentVersion, dirtyMark(info.Dirty))
}

// Version 打印当前版本
func (r *Reporter) Version(ctx context.Context) error {
	version, dirty, err := r.m.Version(ctx)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version == 0 {
		return r.printf("No migrations applied yet.\n")
	}
	return r.printf("Current version: %d%s\n", version, dirtyMark(dirty))
}

// Status 以表格列出每个迁移及其状态，末尾附汇总
func (r *Reporter) Status(ctx context.Context) error {
	statuses, err := r.m.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if len(statuses) == 0 {
		return r.printf("No migrations found.\n")
	}

	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, s.state())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	info, err := r.m.Info(ctx)
	if err != nil {
		return err
	}
	return r.printf("\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
}

// Info 打印迁移汇总信息
func (r *Reporter) Info(ctx context.Context) error {
	info, err := r.m.Info(ctx)
	if err != nil {
		return fmt.Errorf("read info: %w", err)
	}

	tw := tabwriter.NewWriter(r.w, 0, 0, 1, ' ', 0)
	rows := []struct {
		label string
		value any
	}{
		{"Current Version:", info.CurrentVersion},
		{"Dirty:", info.Dirty},
		{"Total Migrations:", info.TotalMigrations},
		{"Applied Migrations:", info.AppliedMigrations},
		{"Pending Migrations:", info.PendingMigrations},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%v\n", row.label, row.value)
	}
	return tw.Flush()
}

func (r *Reporter) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(r.w, format, args...)
	return err
}

func (s MigrationStatus) state() string {
	switch {
	case s.Dirty:
		return "dirty"
	case s.Applied:
		return "applied"
	default:
		return "pending"
	}
}

func dirtyMark(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
