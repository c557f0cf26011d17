package workflow

import (
	"context"
	"fmt"
	"maps"

	"github.com/BaSui01/provisionflow/resilience/retry"
	"github.com/BaSui01/provisionflow/types"
)

// StepInput 步骤执行时的输入
type StepInput struct {
	WorkflowID string
	StepID     string
	// Previous 上一个成功步骤的输出（恢复时取自其检查点 Data）
	Previous map[string]any
	// Metadata 工作流元数据
	Metadata map[string]any
}

// StepFunc 步骤执行函数，返回值写入检查点 Data
type StepFunc func(ctx context.Context, in StepInput) (map[string]any, error)

// Step 工作流中的一个步骤
type Step struct {
	ID      string
	AgentID string
	// Service 非空时调用经过该依赖的熔断器
	Service string
	// Retry 覆盖 Driver 的默认重试配置
	Retry      *retry.Config
	Parameters map[string]any
	Run        StepFunc
}

// Definition 工作流定义
type Definition struct {
	Type  types.WorkflowType
	Steps []Step
}

// StepIDs returns the ordered step ids.
func (d Definition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Validate checks that every step is runnable and ids are unique.
func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: workflow has no steps", ErrInvalidDefinition)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		switch {
		case s.ID == "":
			return fmt.Errorf("%w: step %d has no id", ErrInvalidDefinition, i)
		case s.AgentID == "":
			return fmt.Errorf("%w: step %s has no agent", ErrInvalidDefinition, s.ID)
		case s.Run == nil:
			return fmt.Errorf("%w: step %s has no run func", ErrInvalidDefinition, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %s", ErrInvalidDefinition, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Retry != nil {
			if err := s.Retry.Validate(); err != nil {
				return fmt.Errorf("%w: step %s: %v", ErrInvalidDefinition, s.ID, err)
			}
		}
	}
	return nil
}

// ============================================================
// Agent 调用
// ============================================================

// AgentInvoker 调用下游 Agent（如 Onboarding / Provisioning Agent）
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID string, payload map[string]any) (map[string]any, error)
}

// AgentStepOption configures an agent step.
type AgentStepOption func(*agentStep)

type agentStep struct {
	step         Step
	payload      func(StepInput) (map[string]any, error)
	outputMapper func(map[string]any) (map[string]any, error)
}

// WithService routes the call through the breaker for service.
func WithService(service string) AgentStepOption {
	return func(s *agentStep) { s.step.Service = service }
}

// WithStepRetry overrides the retry configuration for this step.
func WithStepRetry(cfg retry.Config) AgentStepOption {
	return func(s *agentStep) { s.step.Retry = &cfg }
}

// WithParameters attaches parameters recorded in error contexts and sent with the payload.
func WithParameters(params map[string]any) AgentStepOption {
	return func(s *agentStep) { s.step.Parameters = maps.Clone(params) }
}

// WithPayload sets a function building the agent payload from the step input.
func WithPayload(fn func(StepInput) (map[string]any, error)) AgentStepOption {
	return func(s *agentStep) { s.payload = fn }
}

// WithOutputMapper transforms the agent response before it is checkpointed.
func WithOutputMapper(fn func(map[string]any) (map[string]any, error)) AgentStepOption {
	return func(s *agentStep) { s.outputMapper = fn }
}

// AgentStep wraps an AgentInvoker call as a Step. The default payload is the
// previous step's output plus the step parameters and workflowId.
func AgentStep(id string, invoker AgentInvoker, agentID string, opts ...AgentStepOption) Step {
	s := &agentStep{step: Step{ID: id, AgentID: agentID}}
	for _, opt := range opts {
		opt(s)
	}
	params := s.step.Parameters
	s.step.Run = func(ctx context.Context, in StepInput) (map[string]any, error) {
		var payload map[string]any
		if s.payload != nil {
			var err error
			if payload, err = s.payload(in); err != nil {
				return nil, fmt.Errorf("payload mapping failed: %w", err)
			}
		} else {
			payload = make(map[string]any, len(in.Previous)+len(params)+1)
			maps.Copy(payload, in.Previous)
			maps.Copy(payload, params)
			payload["workflowId"] = in.WorkflowID
		}

		out, err := invoker.Invoke(ctx, agentID, payload)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agentID, err)
		}
		if s.outputMapper != nil {
			if out, err = s.outputMapper(out); err != nil {
				return nil, fmt.Errorf("output mapping failed: %w", err)
			}
		}
		return out, nil
	}
	return s.step
}
