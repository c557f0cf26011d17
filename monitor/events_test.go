package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/types"
)

func TestLogStateTransition_AuditsThenNotifies(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var order []string
	var got StateTransitionEvent
	f.mon.OnStateTransition(func(_ context.Context, ev StateTransitionEvent) error {
		// 监听器被调用时审计日志已写入
		order = append(order, "listener")
		assert.Equal(t, 1, f.storage.Len())
		got = ev
		return nil
	})

	ev, err := f.mon.LogStateTransition(ctx, "wf-1", types.WorkflowInProgress, types.WorkflowCompleted, "all steps succeeded")
	require.NoError(t, err)
	assert.Equal(t, []string{"listener"}, order)
	assert.Equal(t, *ev, got)
	assert.Equal(t, f.clock.Now(), ev.Timestamp)
	assert.Equal(t, "all steps succeeded", ev.Reason)

	logs, err := f.audit.LogsByResource(ctx, audit.ResourceTypeWorkflow, "wf-1", ev.Timestamp, ev.Timestamp)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, OperationStateTransition, logs[0].Operation)
	assert.Equal(t, types.ActorSystem, logs[0].ActorType)
	assert.Equal(t, "COMPLETED", logs[0].OperationDetails["toStatus"])
}

func TestLogStateTransition_ListenerIsolation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	var calls []int

	f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error {
		calls = append(calls, 1)
		panic("listener bug")
	})
	f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error {
		calls = append(calls, 2)
		return errors.New("listener failed")
	})
	f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error {
		calls = append(calls, 3)
		return nil
	})

	_, err := f.mon.LogStateTransition(context.Background(), "wf-1", types.WorkflowPending, types.WorkflowInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestLogStateTransition_AuditFailureSkipsListeners(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	boom := errors.New("audit down")
	f.storage.WithAppendError(boom)

	called := false
	f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error {
		called = true
		return nil
	})

	_, err := f.mon.LogStateTransition(context.Background(), "wf-1", types.WorkflowInProgress, types.WorkflowFailed, "boom")
	require.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestOnStateTransition_Unsubscribe(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	var a, b int
	unsubA := f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error { a++; return nil })
	f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error { b++; return nil })

	_, _ = f.mon.LogStateTransition(ctx, "wf-1", types.WorkflowPending, types.WorkflowInProgress, "")
	unsubA()
	unsubA()
	_, _ = f.mon.LogStateTransition(ctx, "wf-1", types.WorkflowInProgress, types.WorkflowCompleted, "")

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestLogStateTransition_Concurrent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	var mu sync.Mutex
	seen := map[string]int{}
	f.mon.OnStateTransition(func(_ context.Context, ev StateTransitionEvent) error {
		mu.Lock()
		seen[ev.WorkflowID]++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"wf-a", "wf-b"}[i%2]
			_, err := f.mon.LogStateTransition(context.Background(), id, types.WorkflowPending, types.WorkflowInProgress, "")
			assert.NoError(t, err)
			if i%4 == 0 {
				unsub := f.mon.OnStateTransition(func(context.Context, StateTransitionEvent) error { return nil })
				unsub()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, map[string]int{"wf-a": 8, "wf-b": 8}, seen)
	assert.Equal(t, 16, f.storage.Len())
}
