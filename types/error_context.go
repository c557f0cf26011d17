package types

import "time"

// ErrorType 错误分类
type ErrorType string

const (
	// ErrorTypeTransient 瞬时错误，可以重试
	ErrorTypeTransient ErrorType = "TRANSIENT"
	// ErrorTypePermanent 永久错误，重试无济于事
	ErrorTypePermanent ErrorType = "PERMANENT"
	// ErrorTypeCritical 严重错误，需要人工介入
	ErrorTypeCritical ErrorType = "CRITICAL"
)

// Valid reports whether t is one of the known error types.
func (t ErrorType) Valid() bool {
	switch t {
	case ErrorTypeTransient, ErrorTypePermanent, ErrorTypeCritical:
		return true
	default:
		return false
	}
}

// ErrorContext 记录一次失败尝试的完整上下文。创建后不可修改，
// 同一次调用内的多次失败通过 PreviousErrors 串联。
type ErrorContext struct {
	ErrorID             string         `json:"errorId"`
	Timestamp           time.Time      `json:"timestamp"`
	ErrorType           ErrorType      `json:"errorType"`
	ErrorCode           string         `json:"errorCode,omitempty"`
	ErrorMessage        string         `json:"errorMessage"`
	StackTrace          string         `json:"stackTrace,omitempty"`
	AgentID             string         `json:"agentId"`
	WorkflowID          string         `json:"workflowId"`
	OperationName       string         `json:"operationName"`
	OperationParameters map[string]any `json:"operationParameters,omitempty"`
	RetryAttempt        int            `json:"retryAttempt"`
	PreviousErrors      []ErrorContext `json:"previousErrors,omitempty"`
}

// ErrorInfo 检查点与审计日志中携带的错误详情
type ErrorInfo struct {
	ErrorID      string    `json:"errorId" validate:"required"`
	ErrorType    ErrorType `json:"errorType" validate:"required,oneof=TRANSIENT PERMANENT CRITICAL"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage" validate:"required"`
	StackTrace   string    `json:"stackTrace,omitempty"`
	RetryAttempt int       `json:"retryAttempt" validate:"gte=0"`
	Timestamp    time.Time `json:"timestamp"`
}

// Info projects the context onto the ErrorInfo carried by checkpoints and audit logs.
func (c ErrorContext) Info() *ErrorInfo {
	return &ErrorInfo{
		ErrorID:      c.ErrorID,
		ErrorType:    c.ErrorType,
		ErrorCode:    c.ErrorCode,
		ErrorMessage: c.ErrorMessage,
		StackTrace:   c.StackTrace,
		RetryAttempt: c.RetryAttempt,
		Timestamp:    c.Timestamp,
	}
}
