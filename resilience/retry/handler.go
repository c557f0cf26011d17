package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/resilience/classifier"
	"github.com/BaSui01/provisionflow/types"
)

const instrumentationName = "github.com/BaSui01/provisionflow/resilience/retry"

// Invocation identifies a wrapped operation for error-context attribution.
type Invocation struct {
	AgentID       string
	WorkflowID    string
	OperationName string
	Parameters    map[string]any
}

// Operation 被重试的操作
type Operation[T any] func(ctx context.Context) (T, error)

// Result 一次 Execute 调用的结果。Value 仅在 Success 时有效，Err 仅在失败时非空。
type Result[T any] struct {
	Success       bool
	Value         T
	Err           error
	Attempts      int
	ErrorContexts []types.ErrorContext
}

// LastErrorContext returns the most recent failure context, or nil.
func (r Result[T]) LastErrorContext() *types.ErrorContext {
	if len(r.ErrorContexts) == 0 {
		return nil
	}
	ec := r.ErrorContexts[len(r.ErrorContexts)-1]
	return &ec
}

// Observer receives retry events. internal/metrics implements it.
type Observer interface {
	ObserveRetryAttempt(operation string, errorType types.ErrorType)
	ObserveRetryOutcome(operation string, success bool, attempts int)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Handler 基于错误分类的重试执行器，可被多个 goroutine 并发使用
type Handler struct {
	classifier *classifier.Classifier
	logger     *zap.Logger
	observer   Observer
	tracer     trace.Tracer
	sleep      SleepFunc
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(h *Handler) {
		if fn != nil {
			h.sleep = fn
		}
	}
}

// NewHandler 创建重试执行器。c 为 nil 时使用默认分类规则。
func NewHandler(c *classifier.Classifier, opts ...Option) *Handler {
	if c == nil {
		c = classifier.New()
	}
	h := &Handler{
		classifier: c,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "retry"))
	return h
}

// Classifier returns the classifier consulted by the handler.
func (h *Handler) Classifier() *classifier.Classifier {
	return h.classifier
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op up to cfg.MaxAttempts times. Only TRANSIENT failures are
// retried; the wait before retry i (0-based) is cfg.Delay(i). Invalid config
// values fall back to the defaults.
func Execute[T any](ctx context.Context, h *Handler, inv Invocation, cfg Config, op Operation[T]) Result[T] {
	cfg = cfg.normalized()

	ctx, span := h.tracer.Start(ctx, "retry "+inv.OperationName, trace.WithAttributes(
		attribute.String("agent.id", inv.AgentID),
		attribute.String("workflow.id", inv.WorkflowID),
		attribute.Int("retry.max_attempts", cfg.MaxAttempts),
	))
	defer span.End()

	logger := h.logger.With(
		zap.String("agent_id", inv.AgentID),
		zap.String("workflow_id", inv.WorkflowID),
		zap.String("operation", inv.OperationName),
	)

	var res Result[T]
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt + 1

		value, err := op(ctx)
		if err == nil {
			res.Success = true
			res.Value = value
			if attempt > 0 {
				logger.Info("重试成功", zap.Int("attempts", res.Attempts))
			}
			span.SetAttributes(attribute.Int("retry.attempts", res.Attempts))
			h.observeOutcome(inv.OperationName, true, res.Attempts)
			return res
		}

		ec := h.classifier.NewErrorContext(err, classifier.ErrorContextParams{
			AgentID:        inv.AgentID,
			WorkflowID:     inv.WorkflowID,
			OperationName:  inv.OperationName,
			Parameters:     inv.Parameters,
			RetryAttempt:   attempt,
			PreviousErrors: res.ErrorContexts,
		})
		res.ErrorContexts = append(res.ErrorContexts, ec)
		res.Err = err

		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.String("error.type", string(ec.ErrorType)),
			attribute.String("error.code", ec.ErrorCode),
		))
		if h.observer != nil {
			h.observer.ObserveRetryAttempt(inv.OperationName, ec.ErrorType)
		}

		if !classifier.ShouldRetry(ec.ErrorType) {
			logger.Warn("错误不可重试",
				zap.Int("attempt", attempt),
				zap.String("error_type", string(ec.ErrorType)),
				zap.Error(err),
			)
			break
		}
		if attempt == cfg.MaxAttempts-1 {
			logger.Warn("重试次数耗尽", zap.Int("attempts", res.Attempts), zap.Error(err))
			break
		}

		delay := cfg.Delay(attempt)
		logger.Debug("重试中",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if werr := h.sleep(ctx, delay); werr != nil {
			res.Err = fmt.Errorf("retry canceled after %d attempts: %w", res.Attempts, errors.Join(werr, err))
			logger.Warn("重试被取消", zap.Int("attempts", res.Attempts), zap.Error(werr))
			break
		}
	}

	span.SetAttributes(attribute.Int("retry.attempts", res.Attempts))
	span.RecordError(res.Err)
	span.SetStatus(codes.Error, res.Err.Error())
	h.observeOutcome(inv.OperationName, false, res.Attempts)
	return res
}

func (h *Handler) observeOutcome(operation string, success bool, attempts int) {
	if h.observer != nil {
		h.observer.ObserveRetryOutcome(operation, success, attempts)
	}
}

// Do is Execute for call sites that prefer (value, error).
// The returned error is the last underlying failure.
func Do[T any](ctx context.Context, h *Handler, inv Invocation, cfg Config, op Operation[T]) (T, error) {
	res := Execute(ctx, h, inv, cfg, op)
	if !res.Success {
		var zero T
		return zero, res.Err
	}
	return res.Value, nil
}

// Wrap returns op wrapped with retry behaviour.
//
//	deploy := retry.Wrap(h, inv, cfg, deployStack)
//	out, err := deploy(ctx)
func Wrap[T any](h *Handler, inv Invocation, cfg Config, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, h, inv, cfg, op)
	}
}
