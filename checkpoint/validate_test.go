package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/provisionflow/testutil/fixtures"
	"github.com/BaSui01/provisionflow/types"
)

func TestValidateCheckpoint(t *testing.T) {
	now := fixtures.T0.Add(time.Hour)
	mgr := NewManager(nil, nil, WithClock(func() time.Time { return now }))

	future := fixtures.SuccessCheckpoint("s1", now.Add(time.Second))
	res := mgr.ValidateCheckpoint(future)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"timestamp cannot be in the future"}, res.Errors)

	zero := fixtures.SuccessCheckpoint("s1", time.Time{})
	assert.Equal(t, []string{"timestamp is required"}, mgr.ValidateCheckpoint(zero).Errors)

	res = mgr.ValidateCheckpoint(nil)
	assert.False(t, res.Valid)

	exact := fixtures.FailureCheckpoint("s1", now)
	res = mgr.ValidateCheckpoint(exact)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.NotNil(t, res.Errors, "errors is an empty list rather than nil")
}

func TestValidateCheckpoint_Idempotent(t *testing.T) {
	now := fixtures.T0.Add(24 * time.Hour)
	mgr := NewManager(nil, nil, WithClock(func() time.Time { return now }))

	rapid.Check(t, func(t *rapid.T) {
		offset := time.Duration(rapid.Int64Range(0, int64(24*time.Hour)).Draw(t, "offset"))
		step := rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(t, "step")
		failed := rapid.Bool().Draw(t, "failed")

		var cp *types.Checkpoint
		if failed {
			cp = fixtures.FailureCheckpoint(step, fixtures.T0.Add(offset))
		} else {
			cp = fixtures.SuccessCheckpoint(step, fixtures.T0.Add(offset))
		}

		runs := rapid.IntRange(1, 5).Draw(t, "runs")
		for i := 0; i < runs; i++ {
			res := mgr.ValidateCheckpoint(cp)
			if !res.Valid || len(res.Errors) != 0 {
				t.Fatalf("run %d: well-formed checkpoint rejected: %v", i, res.Errors)
			}
		}
	})
}

func TestValidateAllCheckpoints(t *testing.T) {
	bad := fixtures.FailureCheckpoint("deploy-stack", fixtures.T0.Add(3*time.Minute))
	bad.ErrorDetails = nil
	mgr := seeded(t,
		fixtures.SuccessCheckpoint("generate-template", fixtures.T0.Add(time.Minute)),
		bad,
	)

	invalid, err := mgr.ValidateAllCheckpoints(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"deploy-stack": {"errorDetails is required for FAILURE checkpoints"},
	}, invalid)

	clean, err := seeded(t, fixtures.SuccessCheckpoint("s1", fixtures.T0)).ValidateAllCheckpoints(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Empty(t, clean)
}
