package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/types"
)

// maxWatchRetries 乐观锁冲突时的最大重试次数
const maxWatchRetries = 10

// RedisStore is a Redis-backed Store for distributed deployments.
// Headers are JSON strings, checkpoints a list per workflow, and the set of
// workflows a sorted set scored by creation time.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore creates a store on client. keyPrefix is prepended to every key.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "workflow:",
		logger:    logger.With(zap.String("component", "redis_workflow_store")),
	}
}

// stateKey returns the Redis key for a workflow header
func (s *RedisStore) stateKey(workflowID string) string {
	return s.keyPrefix + "state:" + workflowID
}

// checkpointsKey returns the Redis key for a workflow's checkpoint list
func (s *RedisStore) checkpointsKey(workflowID string) string {
	return s.keyPrefix + "checkpoints:" + workflowID
}

// allKey returns the Redis key for the workflow index
func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

// SaveWorkflowState 写入头信息并加入索引
func (s *RedisStore) SaveWorkflowState(ctx context.Context, state *types.WorkflowState) error {
	if err := validateState(state); err != nil {
		return err
	}
	data, err := json.Marshal(cloneHeader(state))
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stateKey(state.WorkflowID), data, 0)
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: float64(state.CreatedAt.UnixMilli()), Member: state.WorkflowID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	return nil
}

// stringGetter is satisfied by both the client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) loadHeader(ctx context.Context, c stringGetter, workflowID string) (*types.WorkflowState, error) {
	data, err := c.Get(ctx, s.stateKey(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow state: %w", err)
	}
	var state types.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	return &state, nil
}

// LoadWorkflowState 返回工作流及其检查点
func (s *RedisStore) LoadWorkflowState(ctx context.Context, workflowID string) (*types.WorkflowState, error) {
	state, err := s.loadHeader(ctx, s.client, workflowID)
	if err != nil || state == nil {
		return nil, err
	}
	cps, err := s.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	state.Checkpoints = cps
	return state, nil
}

// ListWorkflows 按创建时间返回工作流 ID
func (s *RedisStore) ListWorkflows(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return ids, nil
}

// GetWorkflowMetadata 返回工作流元数据
func (s *RedisStore) GetWorkflowMetadata(ctx context.Context, workflowID string) (*types.WorkflowMetadata, error) {
	state, err := s.loadHeader(ctx, s.client, workflowID)
	if err != nil || state == nil {
		return nil, err
	}
	return metadataOf(state), nil
}

// CreateCheckpoint 在 WATCH 事务中追加检查点并推进头信息
func (s *RedisStore) CreateCheckpoint(ctx context.Context, workflowID string, cp *types.Checkpoint) error {
	if err := validateCheckpoint(workflowID, cp); err != nil {
		return err
	}
	cpData, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		state, err := s.loadHeader(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		var stateData []byte
		if state != nil {
			applyCheckpoint(state, cp)
			if stateData, err = json.Marshal(state); err != nil {
				return fmt.Errorf("failed to marshal workflow state: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.checkpointsKey(workflowID), cpData)
			if stateData != nil {
				pipe.Set(ctx, s.stateKey(workflowID), stateData, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, s.stateKey(workflowID))
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.Debug("checkpoint transaction conflict, retrying", zap.String("workflow_id", workflowID))
	}
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoints 按追加顺序返回检查点
func (s *RedisStore) GetCheckpoints(ctx context.Context, workflowID string) ([]*types.Checkpoint, error) {
	raw, err := s.client.LRange(ctx, s.checkpointsKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoints: %w", err)
	}
	cps := make([]*types.Checkpoint, 0, len(raw))
	for _, r := range raw {
		var cp types.Checkpoint
		if err := json.Unmarshal([]byte(r), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		cps = append(cps, &cp)
	}
	return cps, nil
}

// GetCheckpoint 返回该步骤最近的检查点
func (s *RedisStore) GetCheckpoint(ctx context.Context, workflowID, stepID string) (*types.Checkpoint, error) {
	cps, err := s.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return lastWithStep(cps, stepID), nil
}

// GetLastSuccessfulCheckpoint 返回最后一个 SUCCESS 检查点
func (s *RedisStore) GetLastSuccessfulCheckpoint(ctx context.Context, workflowID string) (*types.Checkpoint, error) {
	cps, err := s.GetCheckpoints(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return lastSuccessful(cps), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
