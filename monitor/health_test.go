package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/provisionflow/testutil/fixtures"
	"github.com/BaSui01/provisionflow/types"
)

func TestIsWorkflowHealthy(t *testing.T) {
	// 时钟位于 T0+2h
	now := fixtures.T0.Add(2 * time.Hour)
	invalid := fixtures.SuccessCheckpoint("s2", now.Add(-30*time.Minute))
	invalid.AgentID = ""

	tests := []struct {
		name        string
		status      types.WorkflowStatus
		lastUpdate  time.Time
		checkpoints []*types.Checkpoint
		healthy     bool
		stale       bool
		issue       string
	}{
		{
			name:       "in progress updated 5 minutes ago",
			status:     types.WorkflowInProgress,
			lastUpdate: now.Add(-5 * time.Minute),
			checkpoints: []*types.Checkpoint{
				fixtures.SuccessCheckpoint("s1", now.Add(-5*time.Minute)),
			},
			healthy: true,
		},
		{
			name:       "in progress idle for more than an hour",
			status:     types.WorkflowInProgress,
			lastUpdate: now.Add(-61 * time.Minute),
			healthy:    false,
			stale:      true,
			issue:      "no update for 1h1m0s while IN_PROGRESS",
		},
		{
			name:       "completed long ago is not stale",
			status:     types.WorkflowCompleted,
			lastUpdate: now.Add(-90 * time.Minute),
			healthy:    true,
		},
		{
			name:       "exactly at threshold is not stale",
			status:     types.WorkflowInProgress,
			lastUpdate: now.Add(-time.Hour),
			healthy:    true,
		},
		{
			name:       "failed checkpoint present",
			status:     types.WorkflowInProgress,
			lastUpdate: now.Add(-time.Minute),
			checkpoints: []*types.Checkpoint{
				fixtures.FailureCheckpoint("s1", now.Add(-time.Minute)),
			},
			healthy: false,
			issue:   "1 failed checkpoint(s)",
		},
		{
			name:        "invalid checkpoint present",
			status:      types.WorkflowInProgress,
			lastUpdate:  now.Add(-time.Minute),
			checkpoints: []*types.Checkpoint{invalid},
			healthy:     false,
			issue:       `invalid checkpoint "s2": agentId is required`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			state := fixtures.WorkflowState("wf-1", tt.status)
			state.UpdatedAt = tt.lastUpdate
			require.NoError(t, f.store.Seed(context.Background(), state, tt.checkpoints...))

			healthy, err := f.mon.IsWorkflowHealthy(context.Background(), "wf-1")
			require.NoError(t, err)
			assert.Equal(t, tt.healthy, healthy)

			report, err := f.mon.CheckWorkflowHealth(context.Background(), "wf-1")
			require.NoError(t, err)
			assert.Equal(t, tt.stale, report.Stale)
			if tt.issue != "" {
				assert.Contains(t, report.Issues, tt.issue)
			} else {
				assert.Empty(t, report.Issues)
			}
		})
	}
}

type healthRecorder struct {
	summaries   []*HealthSummary
	transitions [][2]types.WorkflowStatus
}

func (r *healthRecorder) ObserveHealth(s *HealthSummary) { r.summaries = append(r.summaries, s) }
func (r *healthRecorder) ObserveStateTransition(from, to types.WorkflowStatus) {
	r.transitions = append(r.transitions, [2]types.WorkflowStatus{from, to})
}

func TestCheckAllWorkflows(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	rec := &healthRecorder{}
	f.mon = New(f.store, nil, f.audit, Config{Concurrency: 3}, WithClock(f.clock.Now), WithObserver(rec))

	now := f.clock.Now()
	f.seed(t, "wf-ok", types.WorkflowInProgress, now.Sub(fixtures.T0)-5*time.Minute)
	f.seed(t, "wf-stale", types.WorkflowInProgress, 0)
	f.seed(t, "wf-failed", types.WorkflowFailed, time.Hour, fixtures.FailureCheckpoint("deploy-stack", fixtures.T0.Add(time.Hour)))
	f.seed(t, "wf-done", types.WorkflowCompleted, time.Hour)

	summary, err := f.mon.CheckAllWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Healthy)
	assert.Equal(t, 2, summary.Unhealthy)

	unhealthy := map[string]bool{}
	for _, r := range summary.Reports {
		if !r.Healthy {
			unhealthy[r.WorkflowID] = true
		}
	}
	assert.Equal(t, map[string]bool{"wf-stale": true, "wf-failed": true}, unhealthy)
	require.Len(t, rec.summaries, 1)
	assert.Same(t, summary, rec.summaries[0])
}
