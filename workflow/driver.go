package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/checkpoint"
	"github.com/BaSui01/provisionflow/monitor"
	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/resilience/circuitbreaker"
	"github.com/BaSui01/provisionflow/resilience/retry"
	"github.com/BaSui01/provisionflow/types"
)

const instrumentationName = "github.com/BaSui01/provisionflow/workflow"

var (
	// ErrWorkflowBusy 同一工作流已有步骤在执行
	ErrWorkflowBusy = errors.New("workflow is busy")
	// ErrWorkflowExists Start 时工作流已存在
	ErrWorkflowExists = errors.New("workflow already exists")
	// ErrWorkflowTerminal 工作流已完成或已取消
	ErrWorkflowTerminal = errors.New("workflow is in a terminal state")
	// ErrWorkflowCancelled 执行被取消
	ErrWorkflowCancelled = errors.New("workflow cancelled")
	// ErrInvalidDefinition 工作流定义不合法
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)

// StepError 步骤在重试后仍然失败
type StepError struct {
	WorkflowID string
	StepID     string
	Attempts   int
	ErrorType  types.ErrorType
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow %s step %s failed after %d attempt(s) [%s]: %v",
		e.WorkflowID, e.StepID, e.Attempts, e.ErrorType, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// EscalationHook 在步骤以 CRITICAL 错误失败时调用
type EscalationHook func(ctx context.Context, workflowID, stepID string, ec types.ErrorContext)

// Run 一次 Start / Resume 的结果
type Run struct {
	WorkflowID     string               `json:"workflowId"`
	Status         types.WorkflowStatus `json:"status"`
	StartIndex     int                  `json:"startIndex"`
	CompletedSteps []string             `json:"completedSteps"`
	FailedStep     string               `json:"failedStep,omitempty"`
	Output         map[string]any       `json:"output,omitempty"`
}

// Driver 顺序执行工作流步骤
type Driver struct {
	store       persistence.Store
	checkpoints *checkpoint.Manager
	monitor     *monitor.Monitor
	retry       *retry.Handler
	retryCfg    retry.Config
	breakers    *circuitbreaker.Registry
	audit       *audit.Logger
	escalate    EscalationHook
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu      sync.Mutex
	running map[string]*runHandle
}

type runHandle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	reason    atomic.Value
}

// Option configures a Driver.
type Option func(*Driver)

// WithRetryHandler sets the retry handler.
func WithRetryHandler(h *retry.Handler) Option {
	return func(d *Driver) { d.retry = h }
}

// WithRetryConfig sets the default retry configuration.
func WithRetryConfig(cfg retry.Config) Option {
	return func(d *Driver) { d.retryCfg = cfg }
}

// WithBreakers routes steps that name a service through the registry.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(d *Driver) { d.breakers = r }
}

// WithAuditLogger records every service call with LogAPICall.
func WithAuditLogger(l *audit.Logger) Option {
	return func(d *Driver) { d.audit = l }
}

// WithEscalation sets the hook for CRITICAL failures.
func WithEscalation(h EscalationHook) Option {
	return func(d *Driver) { d.escalate = h }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) {
		if t != nil {
			d.tracer = t
		}
	}
}

// NewDriver 创建驱动器。checkpoints 与 mon 为 nil 时基于 store 创建默认实例。
func NewDriver(store persistence.Store, checkpoints *checkpoint.Manager, mon *monitor.Monitor, opts ...Option) *Driver {
	d := &Driver{
		store:       store,
		checkpoints: checkpoints,
		monitor:     mon,
		retryCfg:    retry.DefaultConfig(),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
		now:         time.Now,
		running:     make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.retry == nil {
		d.retry = retry.NewHandler(nil, retry.WithLogger(d.logger))
	}
	if d.checkpoints == nil {
		d.checkpoints = checkpoint.NewManager(store, d.audit, checkpoint.WithClock(d.now), checkpoint.WithLogger(d.logger))
	}
	if d.monitor == nil {
		d.monitor = monitor.New(store, d.checkpoints, d.audit, monitor.DefaultConfig(), monitor.WithClock(d.now), monitor.WithLogger(d.logger))
	}
	d.logger = d.logger.With(zap.String("component", "workflow_driver"))
	return d
}

// acquire 标记工作流正在执行
func (d *Driver) acquire(ctx context.Context, workflowID string) (context.Context, *runHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.running[workflowID]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrWorkflowBusy, workflowID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &runHandle{cancel: cancel}
	d.running[workflowID] = h
	return runCtx, h, nil
}

func (d *Driver) release(workflowID string, h *runHandle) {
	d.mu.Lock()
	if d.running[workflowID] == h {
		delete(d.running, workflowID)
	}
	d.mu.Unlock()
	h.cancel()
}

// IsRunning reports whether a step of workflowID is executing.
func (d *Driver) IsRunning(workflowID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[workflowID]
	return ok
}

// Start 创建工作流并从第一个步骤开始执行。
// 步骤失败时返回 Run 与 *StepError；被 Cancel 时返回 Run 与 ErrWorkflowCancelled；
// ctx 结束时工作流保持 IN_PROGRESS，返回包装 ctx.Err() 的错误。
func (d *Driver) Start(ctx context.Context, workflowID string, def Definition, metadata map[string]any) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	runCtx, h, err := d.acquire(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	defer d.release(workflowID, h)

	existing, err := d.store.LoadWorkflowState(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, workflowID)
	}

	now := d.now()
	state := &types.WorkflowState{
		WorkflowID: workflowID,
		Type:       def.Type,
		Status:     types.WorkflowPending,
		Metadata:   maps.Clone(metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.store.SaveWorkflowState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create workflow %s: %w", workflowID, err)
	}
	d.logger.Info("workflow started", zap.String("workflow_id", workflowID), zap.Int("steps", len(def.Steps)))

	if err := d.transition(ctx, workflowID, types.WorkflowPending, types.WorkflowInProgress, "workflow started"); err != nil {
		return nil, err
	}
	return d.execute(runCtx, h, state, def, 0, nil)
}

// Resume 从最后一个成功检查点之后的步骤继续执行
func (d *Driver) Resume(ctx context.Context, workflowID string, def Definition) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	runCtx, h, err := d.acquire(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	defer d.release(workflowID, h)

	state, err := d.store.LoadWorkflowState(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if state == nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, persistence.ErrNotFound)
	}
	if state.Status == types.WorkflowCompleted || state.Status == types.WorkflowCancelled {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowTerminal, workflowID, state.Status)
	}

	info := checkpoint.Recovery(workflowID, state.Checkpoints)
	start := info.NextStepIndex(def.StepIDs())
	var previous map[string]any
	if info.LastSuccessfulCheckpoint != nil {
		previous = info.LastSuccessfulCheckpoint.Data
	}
	d.logger.Info("workflow resuming",
		zap.String("workflow_id", workflowID),
		zap.String("recovery_step", info.RecoveryStepID),
		zap.Int("start_index", start))

	if state.Status != types.WorkflowInProgress {
		reason := "resumed from the beginning"
		if info.CanRecover {
			reason = "resumed after step " + info.RecoveryStepID
		}
		if err := d.transition(ctx, workflowID, state.Status, types.WorkflowInProgress, reason); err != nil {
			return nil, err
		}
	}
	return d.execute(runCtx, h, state, def, start, previous)
}

// Cancel 取消工作流。正在执行时中止当前步骤，由执行方记录 CANCELLED。
func (d *Driver) Cancel(ctx context.Context, workflowID, reason string) error {
	d.mu.Lock()
	h, running := d.running[workflowID]
	if running {
		h.reason.Store(reason)
		h.cancelled.Store(true)
		h.cancel()
	}
	d.mu.Unlock()
	if running {
		d.logger.Info("cancel requested for running workflow", zap.String("workflow_id", workflowID))
		return nil
	}

	meta, err := d.store.GetWorkflowMetadata(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if meta == nil {
		return fmt.Errorf("workflow %s: %w", workflowID, persistence.ErrNotFound)
	}
	if meta.Status == types.WorkflowCompleted || meta.Status == types.WorkflowCancelled {
		return fmt.Errorf("%w: %s is %s", ErrWorkflowTerminal, workflowID, meta.Status)
	}
	return d.transition(ctx, workflowID, meta.Status, types.WorkflowCancelled, reason)
}

// transition 更新状态并经监控器记录迁移
func (d *Driver) transition(ctx context.Context, workflowID string, from, to types.WorkflowStatus, reason string) error {
	if _, err := persistence.UpdateStatus(ctx, d.store, workflowID, to, d.now()); err != nil {
		return fmt.Errorf("failed to update workflow %s to %s: %w", workflowID, to, err)
	}
	if _, err := d.monitor.LogStateTransition(ctx, workflowID, from, to, reason); err != nil {
		return err
	}
	return nil
}

// execute 从 start 开始依次执行步骤
func (d *Driver) execute(ctx context.Context, h *runHandle, state *types.WorkflowState, def Definition, start int, previous map[string]any) (*Run, error) {
	workflowID := state.WorkflowID
	// 取消后仍需完成记账
	bookCtx := context.WithoutCancel(ctx)
	run := &Run{WorkflowID: workflowID, Status: types.WorkflowInProgress, StartIndex: start, CompletedSteps: []string{}}

	for i := start; i < len(def.Steps); i++ {
		if h.cancelled.Load() {
			return d.finishCancelled(bookCtx, h, run)
		}
		if err := ctx.Err(); err != nil {
			return run, d.interrupted(run, def.Steps[i].ID, err)
		}
		step := def.Steps[i]
		in := StepInput{
			WorkflowID: workflowID,
			StepID:     step.ID,
			Previous:   maps.Clone(previous),
			Metadata:   maps.Clone(state.Metadata),
		}

		res := d.runStep(ctx, step, in)
		if res.Success {
			if _, err := d.checkpoints.CreateSuccessCheckpoint(bookCtx, workflowID, step.ID, step.AgentID, res.Value); err != nil {
				if checkpoint.IsValidationError(err) || !d.checkpointPersisted(bookCtx, workflowID, step.ID) {
					return d.finishFailed(bookCtx, run, step.ID, fmt.Errorf("checkpoint step %s: %w", step.ID, err))
				}
				d.logger.Warn("checkpoint persisted but not audited", zap.String("step_id", step.ID), zap.Error(err))
			}
			run.CompletedSteps = append(run.CompletedSteps, step.ID)
			previous = res.Value
			continue
		}

		if h.cancelled.Load() {
			return d.finishCancelled(bookCtx, h, run)
		}
		if err := ctx.Err(); err != nil {
			return run, d.interrupted(run, step.ID, err)
		}

		ec := res.LastErrorContext()
		stepErr := &StepError{WorkflowID: workflowID, StepID: step.ID, Attempts: res.Attempts, Err: res.Err}
		if ec != nil {
			stepErr.ErrorType = ec.ErrorType
		}
		failure := map[string]any{
			"attempts":                      res.Attempts,
			checkpoint.DataKeyErrorContexts: errorChain(res.ErrorContexts),
		}
		if _, err := d.checkpoints.CreateFailureCheckpoint(bookCtx, workflowID, step.ID, step.AgentID, res.Err, max(res.Attempts-1, 0), failure); err != nil {
			d.logger.Error("failure checkpoint not recorded", zap.String("step_id", step.ID), zap.Error(err))
		}
		if ec != nil && ec.ErrorType == types.ErrorTypeCritical && d.escalate != nil {
			d.logger.Error("critical failure escalated",
				zap.String("workflow_id", workflowID),
				zap.String("step_id", step.ID),
				zap.String("error_id", ec.ErrorID))
			d.escalate(bookCtx, workflowID, step.ID, *ec)
		}
		return d.finishFailed(bookCtx, run, step.ID, stepErr)
	}

	if err := d.transition(bookCtx, workflowID, types.WorkflowInProgress, types.WorkflowCompleted, "all steps succeeded"); err != nil {
		return run, err
	}
	run.Status = types.WorkflowCompleted
	run.Output = previous
	d.logger.Info("workflow completed", zap.String("workflow_id", workflowID), zap.Int("steps", len(run.CompletedSteps)))
	return run, nil
}

// checkpointPersisted 检查点写入报错后确认其是否已落库
func (d *Driver) checkpointPersisted(ctx context.Context, workflowID, stepID string) bool {
	cp, err := d.checkpoints.GetCheckpoint(ctx, workflowID, stepID)
	return err == nil && cp != nil && cp.Status == types.CheckpointSuccess
}

// runStep 经重试（及熔断器）执行单个步骤
func (d *Driver) runStep(ctx context.Context, step Step, in StepInput) retry.Result[map[string]any] {
	ctx, span := d.tracer.Start(ctx, "step "+step.ID, trace.WithAttributes(
		attribute.String("workflow.id", in.WorkflowID),
		attribute.String("workflow.step", step.ID),
		attribute.String("agent.id", step.AgentID),
		attribute.String("service", step.Service),
	))
	defer span.End()

	op := func(ctx context.Context) (map[string]any, error) { return step.Run(ctx, in) }
	if step.Service != "" && d.breakers != nil {
		inner := op
		op = func(ctx context.Context) (map[string]any, error) {
			return circuitbreaker.CallService(ctx, d.breakers, step.Service, inner, nil)
		}
	}

	cfg := d.retryCfg
	if step.Retry != nil {
		cfg = *step.Retry
	}
	inv := retry.Invocation{
		AgentID:       step.AgentID,
		WorkflowID:    in.WorkflowID,
		OperationName: step.ID,
		Parameters:    step.Parameters,
	}
	res := retry.Execute(ctx, d.retry, inv, cfg, op)

	if step.Service != "" && d.audit != nil {
		call := audit.APICall{
			ActorID:    step.AgentID,
			ActorType:  types.ActorAgent,
			Service:    step.Service,
			Call:       step.ID,
			Parameters: step.Parameters,
			Result:     map[string]any{"success": res.Success, "attempts": res.Attempts},
		}
		if ec := res.LastErrorContext(); !res.Success && ec != nil {
			call.ErrorDetails = ec.Info()
			call.Result = map[string]any{
				"success":                       false,
				"attempts":                      res.Attempts,
				checkpoint.DataKeyErrorContexts: errorChain(res.ErrorContexts),
			}
		}
		if _, err := d.audit.LogAPICall(context.WithoutCancel(ctx), call); err != nil {
			d.logger.Warn("api call audit failed", zap.String("service", step.Service), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("retry.attempts", res.Attempts))
	if !res.Success {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "step failed")
	}
	return res
}

// errorChain 按尝试顺序展开失败链，每个元素只保留本次尝试
func errorChain(ecs []types.ErrorContext) []types.ErrorContext {
	out := make([]types.ErrorContext, len(ecs))
	for i, ec := range ecs {
		ec.PreviousErrors = nil
		out[i] = ec
	}
	return out
}

func (d *Driver) finishFailed(ctx context.Context, run *Run, stepID string, cause error) (*Run, error) {
	run.Status = types.WorkflowFailed
	run.FailedStep = stepID
	d.logger.Warn("workflow failed", zap.String("workflow_id", run.WorkflowID), zap.String("step_id", stepID), zap.Error(cause))
	if err := d.transition(ctx, run.WorkflowID, types.WorkflowInProgress, types.WorkflowFailed, fmt.Sprintf("step %s failed: %v", stepID, cause)); err != nil {
		return run, errors.Join(cause, err)
	}
	return run, cause
}

// interrupted 调用方上下文结束：不写失败检查点，工作流保持 IN_PROGRESS 以便恢复
func (d *Driver) interrupted(run *Run, stepID string, cause error) error {
	d.logger.Warn("workflow interrupted",
		zap.String("workflow_id", run.WorkflowID),
		zap.String("step_id", stepID),
		zap.Error(cause))
	return fmt.Errorf("workflow %s interrupted at step %s: %w", run.WorkflowID, stepID, cause)
}

func (d *Driver) finishCancelled(ctx context.Context, h *runHandle, run *Run) (*Run, error) {
	run.Status = types.WorkflowCancelled
	reason, _ := h.reason.Load().(string)
	if reason == "" {
		reason = "workflow cancelled"
	}
	if err := d.transition(ctx, run.WorkflowID, types.WorkflowInProgress, types.WorkflowCancelled, reason); err != nil {
		return run, errors.Join(ErrWorkflowCancelled, err)
	}
	return run, ErrWorkflowCancelled
}
