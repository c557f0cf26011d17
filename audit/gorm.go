package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// auditLogRecord audit_logs 表的行，过滤字段单独成列，完整日志存于 payload
type auditLogRecord struct {
	LogID        string    `gorm:"column:log_id;primaryKey;size:64"`
	StorageKey   string    `gorm:"column:storage_key;size:128;uniqueIndex"`
	LoggedAt     time.Time `gorm:"column:logged_at;not null"`
	LoggedAtNs   int64     `gorm:"column:logged_at_ns;not null;index"`
	ActorID      string    `gorm:"column:actor_id;size:128;index"`
	ActorType    string    `gorm:"column:actor_type;size:16"`
	Operation    string    `gorm:"column:operation;size:128;index"`
	ResourceType string    `gorm:"column:resource_type;size:64"`
	ResourceID   string    `gorm:"column:resource_id;size:255"`
	Result       string    `gorm:"column:result;size:16;index"`
	Payload      string    `gorm:"column:payload;type:text;not null"`
}

func (auditLogRecord) TableName() string { return "audit_logs" }

// TxRunner 在一个事务中执行 fn，fn 返回错误时回滚
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormStorage stores audit logs in the audit_logs table.
type GormStorage struct {
	db     *gorm.DB
	tx     TxRunner
	logger *zap.Logger
}

// GormOption configures a GormStorage.
type GormOption func(*GormStorage)

// WithTxRunner runs each insert through run instead of a plain gorm transaction.
func WithTxRunner(run TxRunner) GormOption {
	return func(s *GormStorage) {
		if run != nil {
			s.tx = run
		}
	}
}

// NewGormStorage creates a gorm-backed storage.
func NewGormStorage(db *gorm.DB, logger *zap.Logger, opts ...GormOption) *GormStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GormStorage{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_audit_storage")),
	}
	s.tx = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates the audit_logs table when schema migrations are not used.
func (s *GormStorage) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&auditLogRecord{})
}

// Append 插入一行
func (s *GormStorage) Append(ctx context.Context, key string, value []byte) error {
	log, err := decodeLog(value)
	if err != nil {
		return err
	}
	rec := auditLogRecord{
		LogID:        log.LogID,
		StorageKey:   key,
		LoggedAt:     log.Timestamp.UTC(),
		LoggedAtNs:   log.Timestamp.UnixNano(),
		ActorID:      log.ActorID,
		ActorType:    string(log.ActorType),
		Operation:    log.Operation,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		Result:       string(log.Result),
		Payload:      string(value),
	}
	if err := s.tx(ctx, func(tx *gorm.DB) error { return tx.Create(&rec).Error }); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Query 按 logged_at_ns 升序返回区间内匹配的日志
func (s *GormStorage) Query(ctx context.Context, start, end time.Time, filters *Filters) ([][]byte, error) {
	var payloads []string
	err := applyFilters(s.db.WithContext(ctx).Model(&auditLogRecord{}), filters).
		Where("logged_at_ns BETWEEN ? AND ?", start.UnixNano(), end.UnixNano()).
		Order("logged_at_ns ASC").
		Pluck("payload", &payloads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	out := make([][]byte, len(payloads))
	for i, p := range payloads {
		out[i] = []byte(p)
	}
	return out, nil
}

// Count 返回匹配的行数
func (s *GormStorage) Count(ctx context.Context, filters *Filters) (int, error) {
	var n int64
	if err := applyFilters(s.db.WithContext(ctx).Model(&auditLogRecord{}), filters).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return int(n), nil
}

func applyFilters(q *gorm.DB, f *Filters) *gorm.DB {
	if f == nil {
		return q
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.ActorType != "" {
		q = q.Where("actor_type = ?", string(f.ActorType))
	}
	if f.Operation != "" {
		q = q.Where("operation = ?", f.Operation)
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if f.Result != "" {
		q = q.Where("result = ?", string(f.Result))
	}
	return q
}
