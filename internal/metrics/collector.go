package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/checkpoint"
	"github.com/BaSui01/provisionflow/monitor"
	"github.com/BaSui01/provisionflow/resilience/circuitbreaker"
	"github.com/BaSui01/provisionflow/resilience/retry"
	"github.com/BaSui01/provisionflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现各组件的 Observer 接口
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 重试指标
	retryAttempts     *prometheus.CounterVec
	retryOutcomes     *prometheus.CounterVec
	retryCallAttempts *prometheus.HistogramVec

	// 熔断器指标
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec

	// 审计指标
	auditWrites     *prometheus.CounterVec
	auditRejections *prometheus.CounterVec
	auditEvictions  prometheus.Counter

	// 工作流指标
	checkpointsTotal    *prometheus.CounterVec
	workflowTransitions *prometheus.CounterVec
	workflowsHealth     *prometheus.GaugeVec
	healthChecks        prometheus.Counter

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

var (
	_ retry.Observer          = (*Collector)(nil)
	_ circuitbreaker.Observer = (*Collector)(nil)
	_ audit.Observer          = (*Collector)(nil)
	_ audit.EvictionObserver  = (*Collector)(nil)
	_ checkpoint.Observer     = (*Collector)(nil)
	_ monitor.Observer        = (*Collector)(nil)
)

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认 Registerer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 重试指标
	c.retryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_failed_attempts_total",
			Help:      "Failed attempts by operation and classified error type",
		},
		[]string{"operation", "error_type"},
	)

	c.retryOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_outcomes_total",
			Help:      "Retried operations by final result",
		},
		[]string{"operation", "result"},
	)

	c.retryCallAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_attempts_per_call",
			Help:      "Number of attempts an operation took",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		},
		[]string{"operation"},
	)

	// 熔断器指标
	c.breakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"service", "from_state", "to_state"},
	)

	c.breakerRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected by an open circuit breaker",
		},
		[]string{"service"},
	)

	// 审计指标
	c.auditWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit log entries written",
		},
		[]string{"operation", "result"},
	)

	c.auditRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_validation_failures_total",
			Help:      "Audit log entries rejected by validation",
		},
		[]string{"operation"},
	)

	c.auditEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_evictions_total",
			Help:      "Audit log entries dropped by a full in-memory backend",
		},
	)

	// 工作流指标
	c.checkpointsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints persisted by status",
		},
		[]string{"status"},
	)

	c.workflowTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_state_transitions_total",
			Help:      "Workflow status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	c.workflowsHealth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows",
			Help:      "Workflows by health as of the last health scan",
		},
		[]string{"health"},
	)

	c.healthChecks = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_scans_total",
			Help:      "Completed health scans across all workflows",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔁 重试与熔断
// =============================================================================

// ObserveRetryAttempt implements retry.Observer.
func (c *Collector) ObserveRetryAttempt(operation string, errorType types.ErrorType) {
	c.retryAttempts.WithLabelValues(operation, string(errorType)).Inc()
}

// ObserveRetryOutcome implements retry.Observer.
func (c *Collector) ObserveRetryOutcome(operation string, success bool, attempts int) {
	c.retryOutcomes.WithLabelValues(operation, result(success)).Inc()
	c.retryCallAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// ObserveBreakerTransition implements circuitbreaker.Observer.
func (c *Collector) ObserveBreakerTransition(t circuitbreaker.Transition) {
	c.breakerState.WithLabelValues(t.Service).Set(float64(t.To))
	c.breakerTransitions.WithLabelValues(t.Service, t.From.String(), t.To.String()).Inc()
}

// ObserveBreakerRejected implements circuitbreaker.Observer.
func (c *Collector) ObserveBreakerRejected(service string) {
	c.breakerRejections.WithLabelValues(service).Inc()
}

// =============================================================================
// 📝 审计与工作流
// =============================================================================

// ObserveAuditWrite implements audit.Observer.
func (c *Collector) ObserveAuditWrite(operation string, res types.AuditResult) {
	c.auditWrites.WithLabelValues(operation, string(res)).Inc()
}

// ObserveAuditRejected implements audit.Observer.
func (c *Collector) ObserveAuditRejected(operation string) {
	c.auditRejections.WithLabelValues(operation).Inc()
}

// ObserveAuditEvicted implements audit.EvictionObserver.
func (c *Collector) ObserveAuditEvicted(n int) {
	c.auditEvictions.Add(float64(n))
}

// ObserveCheckpoint implements checkpoint.Observer.
func (c *Collector) ObserveCheckpoint(status types.CheckpointStatus) {
	c.checkpointsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveStateTransition implements monitor.Observer.
func (c *Collector) ObserveStateTransition(from, to types.WorkflowStatus) {
	c.workflowTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveHealth implements monitor.Observer.
func (c *Collector) ObserveHealth(summary *monitor.HealthSummary) {
	if summary == nil {
		return
	}
	c.workflowsHealth.WithLabelValues("healthy").Set(float64(summary.Healthy))
	c.workflowsHealth.WithLabelValues("unhealthy").Set(float64(summary.Unhealthy))
	c.healthChecks.Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
