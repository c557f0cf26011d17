package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/provisionflow/types"
)

// Statistics 审计统计
type Statistics struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"` // 0..1，无日志时为 0
}

// ActorActivity 某个执行者的活动汇总
type ActorActivity struct {
	ActorID         string         `json:"actorId"`
	TotalOperations int            `json:"totalOperations"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	OperationCounts map[string]int `json:"operationCounts"`
	FirstSeen       time.Time      `json:"firstSeen,omitzero"`
	LastSeen        time.Time      `json:"lastSeen,omitzero"`
}

// QueryLogs 查询 [start, end] 区间内匹配过滤条件的日志，按时间升序
func (l *Logger) QueryLogs(ctx context.Context, start, end time.Time, filters *Filters) ([]*types.AuditLog, error) {
	raw, err := l.storage.Query(ctx, start, end, filters)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	logs := make([]*types.AuditLog, 0, len(raw))
	for _, v := range raw {
		log, err := decodeLog(v)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// LogsByActor 查询指定执行者的日志
func (l *Logger) LogsByActor(ctx context.Context, actorID string, start, end time.Time) ([]*types.AuditLog, error) {
	return l.QueryLogs(ctx, start, end, &Filters{ActorID: actorID})
}

// LogsByResource 查询指定资源的日志
func (l *Logger) LogsByResource(ctx context.Context, resourceType, resourceID string, start, end time.Time) ([]*types.AuditLog, error) {
	return l.QueryLogs(ctx, start, end, &Filters{ResourceType: resourceType, ResourceID: resourceID})
}

// LogsByOperation 查询指定操作的日志
func (l *Logger) LogsByOperation(ctx context.Context, operation string, start, end time.Time) ([]*types.AuditLog, error) {
	return l.QueryLogs(ctx, start, end, &Filters{Operation: operation})
}

// FailedOperations 查询失败的日志
func (l *Logger) FailedOperations(ctx context.Context, start, end time.Time) ([]*types.AuditLog, error) {
	return l.QueryLogs(ctx, start, end, &Filters{Result: types.AuditFailure})
}

// SuccessfulOperations 查询成功的日志
func (l *Logger) SuccessfulOperations(ctx context.Context, start, end time.Time) ([]*types.AuditLog, error) {
	return l.QueryLogs(ctx, start, end, &Filters{Result: types.AuditSuccess})
}

// Statistics 统计匹配过滤条件的日志。filters.Result 会被覆盖。
func (l *Logger) Statistics(ctx context.Context, filters *Filters) (Statistics, error) {
	var s Statistics
	var err error
	if s.Successful, err = l.storage.Count(ctx, filters.with(types.AuditSuccess)); err != nil {
		return s, fmt.Errorf("count successful audit logs: %w", err)
	}
	if s.Failed, err = l.storage.Count(ctx, filters.with(types.AuditFailure)); err != nil {
		return s, fmt.Errorf("count failed audit logs: %w", err)
	}
	s.Total = s.Successful + s.Failed
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total)
	}
	return s, nil
}

// ActorActivity 汇总执行者在 [start, end] 内的活动
func (l *Logger) ActorActivity(ctx context.Context, actorID string, start, end time.Time) (*ActorActivity, error) {
	logs, err := l.LogsByActor(ctx, actorID, start, end)
	if err != nil {
		return nil, err
	}
	a := &ActorActivity{
		ActorID:         actorID,
		OperationCounts: make(map[string]int),
	}
	for _, log := range logs {
		a.TotalOperations++
		a.OperationCounts[log.Operation]++
		switch log.Result {
		case types.AuditSuccess:
			a.Successful++
		case types.AuditFailure:
			a.Failed++
		}
		if a.FirstSeen.IsZero() || log.Timestamp.Before(a.FirstSeen) {
			a.FirstSeen = log.Timestamp
		}
		if log.Timestamp.After(a.LastSeen) {
			a.LastSeen = log.Timestamp
		}
	}
	return a, nil
}
