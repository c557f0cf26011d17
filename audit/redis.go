package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// mgetBatchSize 单次 MGET 的最大键数
const mgetBatchSize = 500

// RedisStorage stores each log under its key and indexes keys in a sorted set
// scored by timestamp (Unix milliseconds).
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStorage creates a redis storage. keyPrefix is prepended to every key.
func NewRedisStorage(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_audit_storage")),
	}
}

// valueKey returns the Redis key for a log
func (s *RedisStorage) valueKey(key string) string {
	return s.keyPrefix + key
}

// indexKey returns the Redis key for the time index
func (s *RedisStorage) indexKey() string {
	return s.keyPrefix + "audit:index"
}

// Append 写入日志并更新时间索引
func (s *RedisStorage) Append(ctx context.Context, key string, value []byte) error {
	log, err := decodeLog(value)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, s.valueKey(key), value, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(log.Timestamp.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

// Query 按时间索引取出区间内的键，再过滤
func (s *RedisStorage) Query(ctx context.Context, start, end time.Time, filters *Filters) ([][]byte, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query audit index: %w", err)
	}

	type hit struct {
		ts    time.Time
		value []byte
	}
	var hits []hit
	err = s.load(ctx, keys, func(value []byte) error {
		log, err := decodeLog(value)
		if err != nil {
			return err
		}
		if inRange(log.Timestamp, start, end) && filters.Match(log) {
			hits = append(hits, hit{ts: log.Timestamp, value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 同一毫秒内的成员按字典序返回，这里按精确时间重排
	slices.SortStableFunc(hits, func(a, b hit) int { return a.ts.Compare(b.ts) })
	out := make([][]byte, len(hits))
	for i, h := range hits {
		out[i] = h.value
	}
	return out, nil
}

// Count 无过滤条件时直接使用索引基数
func (s *RedisStorage) Count(ctx context.Context, filters *Filters) (int, error) {
	if filters.IsEmpty() {
		n, err := s.client.ZCard(ctx, s.indexKey()).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count audit logs: %w", err)
		}
		return int(n), nil
	}

	keys, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read audit index: %w", err)
	}
	n := 0
	err = s.load(ctx, keys, func(value []byte) error {
		log, err := decodeLog(value)
		if err != nil {
			return err
		}
		if filters.Match(log) {
			n++
		}
		return nil
	})
	return n, err
}

// load 分批 MGET，按索引顺序回调
func (s *RedisStorage) load(ctx context.Context, keys []string, visit func(value []byte) error) error {
	for i := 0; i < len(keys); i += mgetBatchSize {
		batch := keys[i:min(i+mgetBatchSize, len(keys))]
		full := make([]string, len(batch))
		for j, k := range batch {
			full[j] = s.valueKey(k)
		}

		values, err := s.client.MGet(ctx, full...).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to load audit logs: %w", err)
		}
		for j, v := range values {
			str, ok := v.(string)
			if !ok {
				s.logger.Warn("audit index references a missing log", zap.String("key", batch[j]))
				continue
			}
			if err := visit([]byte(str)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
