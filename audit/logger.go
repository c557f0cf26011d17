package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/types"
)

// 预定义操作名
const (
	OperationAPICall = "API_CALL"
	// ResourceTypeService API 调用记录的资源类型，资源 ID 为服务名
	ResourceTypeService = "EXTERNAL_SERVICE"
	// ResourceTypeWorkflow 工作流级别的审计记录，资源 ID 为工作流 ID
	ResourceTypeWorkflow = "WORKFLOW"
)

// ModificationType 资源变更类型
type ModificationType string

const (
	ModificationCreate ModificationType = "CREATE"
	ModificationUpdate ModificationType = "UPDATE"
	ModificationDelete ModificationType = "DELETE"
)

// Entry 描述一次被审计的动作
type Entry struct {
	ActorID      string
	ActorType    types.ActorType
	Operation    string
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

// APICall 描述一次对外部依赖的 API 调用
type APICall struct {
	ActorID    string
	ActorType  types.ActorType
	Service    string
	Call       string
	Parameters map[string]any
	Result     any
	// ErrorDetails 非空时记录为 FAILURE
	ErrorDetails *types.ErrorInfo
}

// ResourceModification 描述一次资源变更
type ResourceModification struct {
	ActorID      string
	ActorType    types.ActorType
	Type         ModificationType
	ResourceType string
	ResourceID   string
	Changes      map[string]any
	// ErrorDetails 非空时记录为 FAILURE
	ErrorDetails *types.ErrorInfo
}

// ValidationResult 审计日志校验结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidationError is returned when a log fails validation; nothing is written.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid audit log: " + strings.Join(e.Errors, "; ")
}

// Observer receives audit events. internal/metrics implements it.
type Observer interface {
	ObserveAuditWrite(operation string, result types.AuditResult)
	ObserveAuditRejected(operation string)
}

// Logger 审计日志记录器，可被多个 goroutine 并发使用
type Logger struct {
	storage  Storage
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
	observer Observer
	logger   *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides the log id generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Logger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(l *Logger) { l.observer = o }
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLogger 创建审计日志记录器
func NewLogger(storage Storage, opts ...Option) *Logger {
	l := &Logger{
		storage:  storage,
		validate: newValidator(),
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "audit_logger"))
	return l
}

// newValidator 使用 json 标签名报告字段
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Storage returns the backing storage.
func (l *Logger) Storage() Storage { return l.storage }

// LogSuccess 记录成功动作
func (l *Logger) LogSuccess(ctx context.Context, e Entry) (*types.AuditLog, error) {
	return l.write(ctx, l.build(e, types.AuditSuccess, nil))
}

// LogFailure 记录失败动作，errorDetails 必填
func (l *Logger) LogFailure(ctx context.Context, e Entry, errorDetails *types.ErrorInfo) (*types.AuditLog, error) {
	return l.write(ctx, l.build(e, types.AuditFailure, errorDetails))
}

// LogAPICall 记录一次外部依赖 API 调用
func (l *Logger) LogAPICall(ctx context.Context, c APICall) (*types.AuditLog, error) {
	e := Entry{
		ActorID:      c.ActorID,
		ActorType:    c.ActorType,
		Operation:    OperationAPICall,
		ResourceType: ResourceTypeService,
		ResourceID:   c.Service,
		Details: map[string]any{
			"service":    c.Service,
			"apiCall":    c.Call,
			"parameters": c.Parameters,
			"result":     c.Result,
		},
	}
	if c.ErrorDetails != nil {
		return l.LogFailure(ctx, e, c.ErrorDetails)
	}
	return l.LogSuccess(ctx, e)
}

// LogResourceModification 记录资源的创建、更新或删除
func (l *Logger) LogResourceModification(ctx context.Context, m ResourceModification) (*types.AuditLog, error) {
	e := Entry{
		ActorID:      m.ActorID,
		ActorType:    m.ActorType,
		Operation:    string(m.Type),
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Details: map[string]any{
			"modificationType": string(m.Type),
			"changes":          m.Changes,
		},
	}
	if m.ErrorDetails != nil {
		return l.LogFailure(ctx, e, m.ErrorDetails)
	}
	return l.LogSuccess(ctx, e)
}

func (l *Logger) build(e Entry, result types.AuditResult, errorDetails *types.ErrorInfo) *types.AuditLog {
	return &types.AuditLog{
		LogID:            l.newID(),
		Timestamp:        l.now(),
		ActorID:          e.ActorID,
		ActorType:        e.ActorType,
		Operation:        e.Operation,
		ResourceType:     e.ResourceType,
		ResourceID:       e.ResourceID,
		OperationDetails: maps.Clone(e.Details),
		Result:           result,
		ErrorDetails:     errorDetails,
	}
}

// Validate checks a log without writing it.
func (l *Logger) Validate(log *types.AuditLog) ValidationResult {
	var errs []string
	if log == nil {
		return ValidationResult{Errors: []string{"audit log is nil"}}
	}
	errs = append(errs, l.structErrors(log)...)
	if log.Timestamp.IsZero() {
		errs = append(errs, "timestamp is required")
	}
	switch log.Result {
	case types.AuditFailure:
		if log.ErrorDetails == nil {
			errs = append(errs, "errorDetails is required for FAILURE results")
		}
	case types.AuditSuccess:
	}
	if log.ErrorDetails != nil {
		for _, e := range l.structErrors(log.ErrorDetails) {
			errs = append(errs, "errorDetails."+e)
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (l *Logger) structErrors(s any) []string {
	err := l.validate.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			out = append(out, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return out
}

// write 校验通过后序列化并写入存储
func (l *Logger) write(ctx context.Context, log *types.AuditLog) (*types.AuditLog, error) {
	if res := l.Validate(log); !res.Valid {
		l.logger.Warn("audit log rejected",
			zap.String("operation", log.Operation),
			zap.Strings("errors", res.Errors))
		if l.observer != nil {
			l.observer.ObserveAuditRejected(log.Operation)
		}
		return nil, &ValidationError{Errors: res.Errors}
	}

	data, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("marshal audit log: %w", err)
	}
	if err := l.storage.Append(ctx, Key(log.LogID), data); err != nil {
		l.logger.Error("audit write failed", zap.String("log_id", log.LogID), zap.Error(err))
		return nil, fmt.Errorf("append audit log %s: %w", log.LogID, err)
	}
	if l.observer != nil {
		l.observer.ObserveAuditWrite(log.Operation, log.Result)
	}
	l.logger.Debug("audit log written",
		zap.String("log_id", log.LogID),
		zap.String("operation", log.Operation),
		zap.String("result", string(log.Result)))
	return log, nil
}
