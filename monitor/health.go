package monitor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/checkpoint"
	"github.com/BaSui01/provisionflow/types"
)

// HealthReport 单个工作流的健康检查结果
type HealthReport struct {
	WorkflowID         string               `json:"workflowId"`
	Status             types.WorkflowStatus `json:"status"`
	Healthy            bool                 `json:"healthy"`
	Issues             []string             `json:"issues"`
	LastUpdate         time.Time            `json:"lastUpdate"`
	Stale              bool                 `json:"stale"`
	FailedCheckpoints  int                  `json:"failedCheckpoints"`
	InvalidCheckpoints map[string][]string  `json:"invalidCheckpoints,omitempty"`
	CheckedAt          time.Time            `json:"checkedAt"`
}

// HealthSummary 全部工作流的健康汇总
type HealthSummary struct {
	Total     int             `json:"total"`
	Healthy   int             `json:"healthy"`
	Unhealthy int             `json:"unhealthy"`
	Reports   []*HealthReport `json:"reports"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// assess 判定健康：IN_PROGRESS 停滞、存在失败检查点、存在非法检查点，任一成立即不健康
func (m *Monitor) assess(state *types.WorkflowState) *HealthReport {
	now := m.now()
	r := &HealthReport{
		WorkflowID: state.WorkflowID,
		Status:     state.Status,
		Issues:     []string{},
		LastUpdate: state.UpdatedAt,
		CheckedAt:  now,
	}

	if idle := now.Sub(state.UpdatedAt); state.Status == types.WorkflowInProgress && idle > m.cfg.StaleThreshold {
		r.Stale = true
		r.Issues = append(r.Issues, fmt.Sprintf("no update for %s while IN_PROGRESS", idle.Truncate(time.Second)))
	}

	r.FailedCheckpoints = checkpoint.Summarize(state.Checkpoints).Failed
	if r.FailedCheckpoints > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d failed checkpoint(s)", r.FailedCheckpoints))
	}

	if invalid := checkpoint.InvalidCheckpoints(state.Checkpoints, now); len(invalid) > 0 {
		r.InvalidCheckpoints = invalid
		steps := make([]string, 0, len(invalid))
		for step := range invalid {
			steps = append(steps, step)
		}
		slices.Sort(steps)
		for _, step := range steps {
			r.Issues = append(r.Issues, fmt.Sprintf("invalid checkpoint %q: %s", step, strings.Join(invalid[step], "; ")))
		}
	}

	r.Healthy = len(r.Issues) == 0
	return r
}

// CheckWorkflowHealth 检查单个工作流
func (m *Monitor) CheckWorkflowHealth(ctx context.Context, workflowID string) (*HealthReport, error) {
	state, err := m.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return m.assess(state), nil
}

// IsWorkflowHealthy 工作流是否健康
func (m *Monitor) IsWorkflowHealthy(ctx context.Context, workflowID string) (bool, error) {
	r, err := m.CheckWorkflowHealth(ctx, workflowID)
	if err != nil {
		return false, err
	}
	return r.Healthy, nil
}

// CheckAllWorkflows 检查全部工作流，报告按 ListWorkflows 顺序排列
func (m *Monitor) CheckAllWorkflows(ctx context.Context) (*HealthSummary, error) {
	_, reports, err := forEachWorkflow(ctx, m, func(ctx context.Context, id string) (*HealthReport, error) {
		state, err := m.store.LoadWorkflowState(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}
		if state == nil {
			return nil, nil
		}
		return m.assess(state), nil
	})
	if err != nil {
		return nil, err
	}

	summary := &HealthSummary{Reports: make([]*HealthReport, 0, len(reports)), CheckedAt: m.now()}
	for _, r := range reports {
		if r == nil {
			continue
		}
		summary.Total++
		if r.Healthy {
			summary.Healthy++
		} else {
			summary.Unhealthy++
		}
		summary.Reports = append(summary.Reports, r)
	}
	if summary.Unhealthy > 0 {
		m.logger.Warn("unhealthy workflows detected",
			zap.Int("unhealthy", summary.Unhealthy),
			zap.Int("total", summary.Total))
	}
	if m.observer != nil {
		m.observer.ObserveHealth(summary)
	}
	return summary, nil
}
