package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/provisionflow/types"
)

// KeyPrefix 审计日志存储键前缀
const KeyPrefix = "audit:log:"

// Key returns the storage key of a log: "audit:log:{logID}".
func Key(logID string) string {
	return KeyPrefix + logID
}

// Storage 审计日志存储后端。值为序列化后的 AuditLog。
type Storage interface {
	// Append 追加一条日志
	Append(ctx context.Context, key string, value []byte) error
	// Query 返回 [start, end] 区间内匹配过滤条件的日志，按时间升序
	Query(ctx context.Context, start, end time.Time, filters *Filters) ([][]byte, error)
	// Count 返回匹配过滤条件的日志数量
	Count(ctx context.Context, filters *Filters) (int, error)
}

// Filters 审计查询过滤条件，空字段忽略，各字段之间为 AND 关系
type Filters struct {
	ActorID      string            `json:"actorId,omitempty"`
	ActorType    types.ActorType   `json:"actorType,omitempty"`
	Operation    string            `json:"operation,omitempty"`
	ResourceType string            `json:"resourceType,omitempty"`
	ResourceID   string            `json:"resourceId,omitempty"`
	Result       types.AuditResult `json:"result,omitempty"`
}

// IsEmpty reports whether no field is set. A nil Filters is empty.
func (f *Filters) IsEmpty() bool {
	return f == nil || *f == Filters{}
}

// Match reports whether log satisfies every set field.
func (f *Filters) Match(log *types.AuditLog) bool {
	return f.matchFields(fieldsOf(log))
}

func (f *Filters) matchFields(v Filters) bool {
	if f == nil {
		return true
	}
	if f.ActorID != "" && v.ActorID != f.ActorID {
		return false
	}
	if f.ActorType != "" && v.ActorType != f.ActorType {
		return false
	}
	if f.Operation != "" && v.Operation != f.Operation {
		return false
	}
	if f.ResourceType != "" && v.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && v.ResourceID != f.ResourceID {
		return false
	}
	if f.Result != "" && v.Result != f.Result {
		return false
	}
	return true
}

// fieldsOf projects the filterable fields of a log.
func fieldsOf(log *types.AuditLog) Filters {
	return Filters{
		ActorID:      log.ActorID,
		ActorType:    log.ActorType,
		Operation:    log.Operation,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		Result:       log.Result,
	}
}

// with returns a copy of f with result set.
func (f *Filters) with(result types.AuditResult) *Filters {
	out := Filters{}
	if f != nil {
		out = *f
	}
	out.Result = result
	return &out
}

// inRange reports whether t lies in [start, end].
func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// decodeLog 反序列化存储中的日志
func decodeLog(value []byte) (*types.AuditLog, error) {
	var log types.AuditLog
	if err := json.Unmarshal(value, &log); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	return &log, nil
}
