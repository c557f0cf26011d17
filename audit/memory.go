package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMemoryCapacity MemoryStorage 默认容量
const DefaultMemoryCapacity = 100000

type memoryRecord struct {
	key   string
	value []byte
	log   decodedFields
}

// decodedFields 过滤所需的字段
type decodedFields struct {
	timestamp time.Time
	filters   Filters
}

// EvictionObserver is told how many logs a full MemoryStorage dropped.
type EvictionObserver interface {
	ObserveAuditEvicted(n int)
}

// MemoryStorage stores audit logs in memory. When full, the oldest 10% are
// evicted; every eviction is logged and reported to the EvictionObserver.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []memoryRecord
	maxSize int
	evicted int

	logger   *zap.Logger
	observer EvictionObserver
}

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithMemoryLogger sets the logger that reports evictions.
func WithMemoryLogger(logger *zap.Logger) MemoryOption {
	return func(m *MemoryStorage) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEvictionObserver registers an eviction counter.
func WithEvictionObserver(o EvictionObserver) MemoryOption {
	return func(m *MemoryStorage) { m.observer = o }
}

// NewMemoryStorage creates a memory storage holding at most maxSize logs.
func NewMemoryStorage(maxSize int, opts ...MemoryOption) *MemoryStorage {
	if maxSize <= 0 {
		maxSize = DefaultMemoryCapacity
	}
	m := &MemoryStorage{maxSize: maxSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "memory_audit_storage"))
	return m
}

// Append 追加一条日志
func (m *MemoryStorage) Append(_ context.Context, key string, value []byte) error {
	log, err := decodeLog(value)
	if err != nil {
		return err
	}
	rec := memoryRecord{
		key:   key,
		value: slices.Clone(value),
		log: decodedFields{
			timestamp: log.Timestamp,
			filters:   fieldsOf(log),
		},
	}

	m.mu.Lock()
	removed := 0
	if len(m.records) >= m.maxSize {
		removed = max(m.maxSize/10, 1)
		m.records = slices.Delete(m.records, 0, removed)
		m.evicted += removed
	}
	m.records = append(m.records, rec)
	total := m.evicted
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Warn("audit storage full, oldest logs evicted",
			zap.Int("evicted", removed),
			zap.Int("evicted_total", total),
			zap.Int("capacity", m.maxSize))
		if m.observer != nil {
			m.observer.ObserveAuditEvicted(removed)
		}
	}
	return nil
}

// Evicted returns how many logs have been dropped to make room.
func (m *MemoryStorage) Evicted() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evicted
}

// Query 返回 [start, end] 区间内匹配的日志
func (m *MemoryStorage) Query(_ context.Context, start, end time.Time, filters *Filters) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []memoryRecord
	for _, r := range m.records {
		if inRange(r.log.timestamp, start, end) && filters.matchFields(r.log.filters) {
			matched = append(matched, r)
		}
	}
	slices.SortStableFunc(matched, func(a, b memoryRecord) int {
		return a.log.timestamp.Compare(b.log.timestamp)
	})

	out := make([][]byte, 0, len(matched))
	for _, r := range matched {
		out = append(out, slices.Clone(r.value))
	}
	return out, nil
}

// Count 返回匹配的日志数量
func (m *MemoryStorage) Count(_ context.Context, filters *Filters) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.records {
		if filters.matchFields(r.log.filters) {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored logs.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
