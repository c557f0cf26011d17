package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/provisionflow/types"
)

// workflowStateRow workflow_states 表
type workflowStateRow struct {
	WorkflowID  string         `gorm:"column:workflow_id;primaryKey;size:128"`
	Type        string         `gorm:"column:type;size:32;not null"`
	Status      string         `gorm:"column:status;size:32;not null;index"`
	CurrentStep string         `gorm:"column:current_step;size:128"`
	Metadata    map[string]any `gorm:"column:metadata;serializer:json;type:text"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (workflowStateRow) TableName() string { return "workflow_states" }

// checkpointRow workflow_checkpoints 表，自增 ID 保证追加顺序
type checkpointRow struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	WorkflowID   string    `gorm:"column:workflow_id;size:128;not null;index"`
	StepID       string    `gorm:"column:step_id;size:128;not null"`
	AgentID      string    `gorm:"column:agent_id;size:128"`
	Status       string    `gorm:"column:status;size:16;not null"`
	CheckpointAt time.Time `gorm:"column:checkpoint_at;not null"`
	Payload      string    `gorm:"column:payload;type:text;not null"`
}

func (checkpointRow) TableName() string { return "workflow_checkpoints" }

// TxRunner 在一个事务中执行 fn，fn 返回错误时回滚
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// GormStore is a Store on top of gorm (PostgreSQL, MySQL or SQLite).
type GormStore struct {
	db     *gorm.DB
	tx     TxRunner
	logger *zap.Logger
}

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithTxRunner runs every write transaction through run instead of a plain
// gorm transaction.
func WithTxRunner(run TxRunner) GormOption {
	return func(s *GormStore) {
		if run != nil {
			s.tx = run
		}
	}
}

// NewGormStore creates a store on db.
func NewGormStore(db *gorm.DB, logger *zap.Logger, opts ...GormOption) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_workflow_store")),
	}
	s.tx = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates the tables when schema migrations are not used.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&workflowStateRow{}, &checkpointRow{})
}

func toRow(state *types.WorkflowState) *workflowStateRow {
	return &workflowStateRow{
		WorkflowID:  state.WorkflowID,
		Type:        string(state.Type),
		Status:      string(state.Status),
		CurrentStep: state.CurrentStep,
		Metadata:    state.Metadata,
		CreatedAt:   state.CreatedAt,
		UpdatedAt:   state.UpdatedAt,
	}
}

func (r *workflowStateRow) toState() *types.WorkflowState {
	return &types.WorkflowState{
		WorkflowID:  r.WorkflowID,
		Type:        types.WorkflowType(r.Type),
		Status:      types.WorkflowStatus(r.Status),
		CurrentStep: r.CurrentStep,
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// SaveWorkflowState 按 workflow_id upsert
func (s *GormStore) SaveWorkflowState(ctx context.Context, state *types.WorkflowState) error {
	if err := validateState(state); err != nil {
		return err
	}
	err := s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "workflow_id"}}, UpdateAll: true}).
			Create(toRow(state)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	return nil
}

func (s *GormStore) loadRow(db *gorm.DB, workflowID string) (*workflowStateRow, error) {
	var row workflowStateRow
	err := db.Where("workflow_id = ?", workflowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow state: %w", err)
	}
	return &row, nil
}

// LoadWorkflowState 返回工作流及其检查点
func (s *GormStore) LoadWorkflowState(ctx context.Context, workflowID string) (*types.WorkflowState, error) {
	row, err := s.loadRow(s.db.WithContext(ctx), workflowID)
	if err != nil || row == nil {
		return nil, err
	}
	state := row.toState()
	if state.Checkpoints, err = s.GetCheckpoints(ctx, workflowID); err != nil {
		return nil, err
	}
	return state, nil
}

// ListWorkflows 按创建时间返回工作流 ID
func (s *GormStore) ListWorkflows(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&workflowStateRow{}).
		Order("created_at ASC").Order("workflow_id ASC").
		Pluck("workflow_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return ids, nil
}

// GetWorkflowMetadata 返回工作流元数据
func (s *GormStore) GetWorkflowMetadata(ctx context.Context, workflowID string) (*types.WorkflowMetadata, error) {
	row, err := s.loadRow(s.db.WithContext(ctx), workflowID)
	if err != nil || row == nil {
		return nil, err
	}
	return metadataOf(row.toState()), nil
}

// CreateCheckpoint 在事务中插入检查点并推进头信息
func (s *GormStore) CreateCheckpoint(ctx context.Context, workflowID string, cp *types.Checkpoint) error {
	if err := validateCheckpoint(workflowID, cp); err != nil {
		return err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	err = s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&checkpointRow{
			WorkflowID:   workflowID,
			StepID:       cp.StepID,
			AgentID:      cp.AgentID,
			Status:       string(cp.Status),
			CheckpointAt: cp.Timestamp,
			Payload:      string(payload),
		}).Error; err != nil {
			return err
		}

		row, err := s.loadRow(tx, workflowID)
		if err != nil || row == nil {
			return err
		}
		state := row.toState()
		applyCheckpoint(state, cp)
		return tx.Model(&workflowStateRow{}).Where("workflow_id = ?", workflowID).
			Updates(map[string]any{
				"current_step": state.CurrentStep,
				"updated_at":   state.UpdatedAt,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return nil
}

func decodeCheckpointRows(rows []checkpointRow) ([]*types.Checkpoint, error) {
	cps := make([]*types.Checkpoint, 0, len(rows))
	for _, r := range rows {
		var cp types.Checkpoint
		if err := json.Unmarshal([]byte(r.Payload), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint %d: %w", r.ID, err)
		}
		cps = append(cps, &cp)
	}
	return cps, nil
}

// GetCheckpoints 按插入顺序返回检查点
func (s *GormStore) GetCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	var rows []checkpointRow
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoints: %w", err)
	}
	return decodeCheckpointRows(rows)
}

func (s *GormStore) lastCheckpoint(ctx context.Context, query string, args ...any) (*types.Checkpoint, error) {
	var rows []checkpointRow
	err := s.db.WithContext(ctx).Where(query, args...).Order("id DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cps, err := decodeCheckpointRows(rows)
	if err != nil {
		return nil, err
	}
	return cps[0], nil
}

// GetCheckpoint 返回该步骤最近的检查点
func (s *GormStore) GetCheckpoint(ctx context.Context, workflowID, stepID string) (*types.Checkpoint, error) {
	return s.lastCheckpoint(ctx, "workflow_id = ? AND step_id = ?", workflowID, stepID)
}

// GetLastSuccessfulCheckpoint 返回最后一个 SUCCESS 检查点
func (s *GormStore) GetLastSuccessfulCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error) {
	return s.lastCheckpoint(ctx, "workflow_id = ? AND status = ?", workflowID, string(types.CheckpointSuccess))
}

// Close 关闭底层连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
