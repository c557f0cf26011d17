package checkpoint

import (
	"context"
	"time"

	"github.com/BaSui01/provisionflow/types"
)

// Statistics 检查点统计。SuccessRate 取值 0..1，没有检查点时为 0。
type Statistics struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

// TimelineEntry 时间线上的一个检查点
type TimelineEntry struct {
	StepID    string                 `json:"stepId"`
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agentId"`
	Status    types.CheckpointStatus `json:"status"`
}

// StepDuration 检查点与其前一个检查点之间的耗时
type StepDuration struct {
	StepID   string        `json:"stepId"`
	Duration time.Duration `json:"duration"`
}

// Summarize counts checkpoint outcomes.
func Summarize(cps []*types.Checkpoint) Statistics {
	var s Statistics
	for _, cp := range cps {
		s.Total++
		switch cp.Status {
		case types.CheckpointSuccess:
			s.Successful++
		case types.CheckpointFailure:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total)
	}
	return s
}

// BuildTimeline projects checkpoints, already in append order, onto timeline entries.
func BuildTimeline(cps []*types.Checkpoint) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(cps))
	for _, cp := range cps {
		out = append(out, TimelineEntry{
			StepID:    cp.StepID,
			Timestamp: cp.Timestamp,
			AgentID:   cp.AgentID,
			Status:    cp.Status,
		})
	}
	return out
}

// Durations returns, for every checkpoint but the first, the time elapsed since
// its predecessor.
func Durations(cps []*types.Checkpoint) []StepDuration {
	if len(cps) < 2 {
		return []StepDuration{}
	}
	out := make([]StepDuration, 0, len(cps)-1)
	for i := 1; i < len(cps); i++ {
		out = append(out, StepDuration{
			StepID:   cps[i].StepID,
			Duration: cps[i].Timestamp.Sub(cps[i-1].Timestamp),
		})
	}
	return out
}

// AverageGap is the mean of Durations, or 0 with fewer than two checkpoints.
func AverageGap(cps []*types.Checkpoint) time.Duration {
	ds := Durations(cps)
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d.Duration
	}
	return total / time.Duration(len(ds))
}

// Statistics 返回工作流的检查点统计
func (m *Manager) Statistics(ctx context.Context, workflowID string) (Statistics, error) {
	cps, err := m.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return Statistics{}, err
	}
	return Summarize(cps), nil
}

// Timeline 返回按追加顺序排列的时间线
func (m *Manager) Timeline(ctx context.Context, workflowID string) ([]TimelineEntry, error) {
	cps, err := m.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(cps), nil
}

// StepDurations 返回每个步骤相对前一个检查点的耗时，首个检查点不计
func (m *Manager) StepDurations(ctx context.Context, workflowID string) ([]StepDuration, error) {
	cps, err := m.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return Durations(cps), nil
}
