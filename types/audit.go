package types

import "time"

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAgent  ActorType = "AGENT"
	ActorSystem ActorType = "SYSTEM"
)

// AuditResult is the outcome of an audited action.
type AuditResult string

const (
	AuditSuccess AuditResult = "SUCCESS"
	AuditFailure AuditResult = "FAILURE"
)

// AuditLog is a single append-only audit trail entry.
type AuditLog struct {
	LogID            string         `json:"logId" validate:"required"`
	Timestamp        time.Time      `json:"timestamp"`
	ActorID          string         `json:"actorId" validate:"required"`
	ActorType        ActorType      `json:"actorType" validate:"required,oneof=USER AGENT SYSTEM"`
	Operation        string         `json:"operation" validate:"required"`
	ResourceType     string         `json:"resourceType" validate:"required"`
	ResourceID       string         `json:"resourceId" validate:"required"`
	OperationDetails map[string]any `json:"operationDetails,omitempty"`
	Result           AuditResult    `json:"result" validate:"required,oneof=SUCCESS FAILURE"`
	ErrorDetails     *ErrorInfo     `json:"errorDetails,omitempty" validate:"-"`
}
