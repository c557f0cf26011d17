package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrThrottling, "describe stacks throttled").
		WithCause(root).
		WithHTTPStatus(429).
		WithService("cloudformation")

	assert.Equal(t, ErrThrottling, GetErrorCode(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[THROTTLING] describe stacks throttled: root", err.Error())

	wrapped := fmt.Errorf("deploy: %w", err)
	assert.True(t, IsErrorCode(wrapped, ErrThrottling))
	assert.False(t, IsErrorCode(nil, ErrThrottling))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestWorkflowStatus_IsTerminal(t *testing.T) {
	terminal := map[WorkflowStatus]bool{
		WorkflowPending:    false,
		WorkflowInProgress: false,
		WorkflowCompleted:  true,
		WorkflowFailed:     true,
		WorkflowCancelled:  true,
	}
	for _, s := range AllWorkflowStatuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), s)
	}
}

func TestWorkflowState_Touch(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &WorkflowState{CreatedAt: created, UpdatedAt: created}

	s.Touch(created.Add(-time.Hour))
	assert.Equal(t, created, s.UpdatedAt)

	s.Touch(created.Add(time.Minute))
	assert.Equal(t, created.Add(time.Minute), s.UpdatedAt)

	s.Touch(created.Add(time.Second))
	assert.Equal(t, created.Add(time.Minute), s.UpdatedAt)
}

func TestErrorContext_Info(t *testing.T) {
	ts := time.Now()
	ctx := ErrorContext{
		ErrorID:      "e1",
		Timestamp:    ts,
		ErrorType:    ErrorTypeTransient,
		ErrorCode:    "THROTTLING",
		ErrorMessage: "slow down",
		RetryAttempt: 2,
	}
	info := ctx.Info()
	assert.Equal(t, "e1", info.ErrorID)
	assert.Equal(t, ErrorTypeTransient, info.ErrorType)
	assert.Equal(t, 2, info.RetryAttempt)
	assert.Equal(t, ts, info.Timestamp)
	assert.True(t, ErrorTypeCritical.Valid())
	assert.False(t, ErrorType("OTHER").Valid())
}
