package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/monitor"
	"github.com/BaSui01/provisionflow/resilience/circuitbreaker"
	"github.com/BaSui01/provisionflow/resilience/retry"
	"github.com/BaSui01/provisionflow/types"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("provisionflow", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_RegistersWithRegistry(t *testing.T) {
	c, reg := newCollector(t)
	c.RecordHTTPRequest("GET", "/healthz", 200, 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "provisionflow_http_requests_total")

	// 同一 registry 重复注册会 panic，不同 registry 互不影响
	assert.Panics(t, func() { NewCollector("provisionflow", reg, nil) })
	assert.NotPanics(t, func() { NewCollector("provisionflow", prometheus.NewRegistry(), nil) })
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newCollector(t)

	c.RecordHTTPRequest("GET", "/healthz", 200, 10*time.Millisecond)
	c.RecordHTTPRequest("GET", "/healthz", 503, 10*time.Millisecond)
	c.RecordHTTPRequest("GET", "/healthz", 204, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/healthz", "5xx")))
}

func TestCollector_Retry(t *testing.T) {
	c, _ := newCollector(t)

	c.ObserveRetryAttempt("deploy-stack", types.ErrorTypeTransient)
	c.ObserveRetryAttempt("deploy-stack", types.ErrorTypeTransient)
	c.ObserveRetryOutcome("deploy-stack", true, 3)
	c.ObserveRetryOutcome("deploy-stack", false, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.retryAttempts.WithLabelValues("deploy-stack", "TRANSIENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryOutcomes.WithLabelValues("deploy-stack", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryOutcomes.WithLabelValues("deploy-stack", "failure")))
}

func TestCollector_RetryHandlerIntegration(t *testing.T) {
	c, _ := newCollector(t)
	h := retry.NewHandler(nil,
		retry.WithObserver(c),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))

	calls := 0
	_, err := retry.Do(context.Background(), h, retry.Invocation{OperationName: "generate-template"}, retry.DefaultConfig(),
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("connection reset by peer")
			}
			return "ok", nil
		})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.retryAttempts.WithLabelValues("generate-template", "TRANSIENT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retryOutcomes.WithLabelValues("generate-template", "success")))
}

func TestCollector_BreakerIntegration(t *testing.T) {
	c, _ := newCollector(t)
	b := circuitbreaker.New("cloudformation",
		circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour},
		circuitbreaker.WithObserver(c))

	boom := errors.New("503 service unavailable")
	require.ErrorIs(t, b.Execute(context.Background(), func(context.Context) error { return boom }), boom)
	require.ErrorIs(t, b.Execute(context.Background(), func(context.Context) error { return nil }), circuitbreaker.ErrCircuitOpen)

	assert.Equal(t, float64(circuitbreaker.StateOpen), testutil.ToFloat64(c.breakerState.WithLabelValues("cloudformation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerTransitions.WithLabelValues("cloudformation", "CLOSED", "OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerRejections.WithLabelValues("cloudformation")))
}

func TestCollector_AuditAndWorkflow(t *testing.T) {
	c, _ := newCollector(t)

	c.ObserveAuditWrite("CREATE_CHECKPOINT", types.AuditSuccess)
	c.ObserveAuditRejected("CREATE_CHECKPOINT")
	c.ObserveAuditEvicted(10)
	c.ObserveCheckpoint(types.CheckpointSuccess)
	c.ObserveCheckpoint(types.CheckpointFailure)
	c.ObserveStateTransition(types.WorkflowPending, types.WorkflowInProgress)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditWrites.WithLabelValues("CREATE_CHECKPOINT", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditRejections.WithLabelValues("CREATE_CHECKPOINT")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.auditEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpointsTotal.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpointsTotal.WithLabelValues("FAILURE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowTransitions.WithLabelValues("PENDING", "IN_PROGRESS")))
}

func TestCollector_ObserveHealth(t *testing.T) {
	c, reg := newCollector(t)

	c.ObserveHealth(nil)
	c.ObserveHealth(&monitor.HealthSummary{Total: 5, Healthy: 3, Unhealthy: 2})
	c.ObserveHealth(&monitor.HealthSummary{Total: 4, Healthy: 4})

	expected := `
# HELP provisionflow_workflows Workflows by health as of the last health scan
# TYPE provisionflow_workflows gauge
provisionflow_workflows{health="healthy"} 4
provisionflow_workflows{health="unhealthy"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "provisionflow_workflows"))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.healthChecks))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	c, _ := newCollector(t)

	c.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newCollector(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordHTTPRequest("GET", "/metrics", 200, time.Millisecond)
			c.ObserveCheckpoint(types.CheckpointSuccess)
			c.ObserveRetryAttempt("op", types.ErrorTypeTransient)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/metrics", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.checkpointsTotal.WithLabelValues("SUCCESS")))
}
