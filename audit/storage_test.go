package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/BaSui01/provisionflow/types"
)

// =============================================================================
// 🧪 Storage 契约测试
// =============================================================================

func encode(t *testing.T, log *types.AuditLog) []byte {
	t.Helper()
	data, err := json.Marshal(log)
	require.NoError(t, err)
	return data
}

func seedLog(id string, ts time.Time, actor string, op string, result types.AuditResult) *types.AuditLog {
	log := &types.AuditLog{
		LogID:        id,
		Timestamp:    ts,
		ActorID:      actor,
		ActorType:    types.ActorAgent,
		Operation:    op,
		ResourceType: "WORKFLOW",
		ResourceID:   "wf-" + id,
		Result:       result,
	}
	if result == types.AuditFailure {
		log.ErrorDetails = &types.ErrorInfo{ErrorID: "e-" + id, ErrorType: types.ErrorTypeTransient, ErrorMessage: "timeout"}
	}
	return log
}

func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 23, 58, 0, 0, time.UTC)

	seed := []*types.AuditLog{
		seedLog("a", base, "mwc-agent", "START_WORKFLOW", types.AuditSuccess),
		seedLog("b", base.Add(time.Minute), "onboarding-agent", "GENERATE_TEMPLATE", types.AuditSuccess),
		// crosses into the next UTC day
		seedLog("c", base.Add(3*time.Minute), "provisioning-agent", "DEPLOY_STACK", types.AuditFailure),
		seedLog("d", base.Add(4*time.Minute+500*time.Microsecond), "provisioning-agent", "DEPLOY_STACK", types.AuditSuccess),
	}

	t.Run("query returns entries inside the closed range in order", func(t *testing.T) {
		s := newStorage(t)
		// appended out of order
		for _, i := range []int{2, 0, 3, 1} {
			require.NoError(t, s.Append(ctx, Key(seed[i].LogID), encode(t, seed[i])))
		}

		got, err := s.Query(ctx, base.Add(time.Minute), base.Add(3*time.Minute), nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		first, err := decodeLog(got[0])
		require.NoError(t, err)
		second, err := decodeLog(got[1])
		require.NoError(t, err)
		assert.Equal(t, "b", first.LogID)
		assert.Equal(t, "c", second.LogID)
		require.NotNil(t, second.ErrorDetails)
		assert.Equal(t, "e-c", second.ErrorDetails.ErrorID)

		all, err := s.Query(ctx, base, base.Add(time.Hour), nil)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		// sub-millisecond boundary
		none, err := s.Query(ctx, base.Add(4*time.Minute), base.Add(4*time.Minute+400*time.Microsecond), nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("filters are ANDed", func(t *testing.T) {
		s := newStorage(t)
		for _, l := range seed {
			require.NoError(t, s.Append(ctx, Key(l.LogID), encode(t, l)))
		}
		wide := base.Add(time.Hour)

		tests := []struct {
			filters *Filters
			want    int
		}{
			{nil, 4},
			{&Filters{}, 4},
			{&Filters{ActorID: "provisioning-agent"}, 2},
			{&Filters{ActorID: "provisioning-agent", Result: types.AuditFailure}, 1},
			{&Filters{Operation: "START_WORKFLOW"}, 1},
			{&Filters{ActorType: types.ActorUser}, 0},
			{&Filters{ResourceType: "WORKFLOW", ResourceID: "wf-d"}, 1},
			{&Filters{ResourceType: "STACK"}, 0},
		}
		for i, tt := range tests {
			got, err := s.Query(ctx, base, wide, tt.filters)
			require.NoError(t, err)
			assert.Len(t, got, tt.want, "case %d", i)

			n, err := s.Count(ctx, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n, "count case %d", i)
		}
	})

	t.Run("empty storage", func(t *testing.T) {
		s := newStorage(t)
		got, err := s.Query(ctx, base, base.Add(time.Hour), nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		n, err := s.Count(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, func(*testing.T) Storage { return NewMemoryStorage(0) })
}

type evictionCounter struct{ n int }

func (c *evictionCounter) ObserveAuditEvicted(n int) { c.n += n }

func TestMemoryStorage_EvictsOldest(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	counter := &evictionCounter{}
	s := NewMemoryStorage(10, WithMemoryLogger(zap.New(core)), WithEvictionObserver(counter))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 11; i++ {
		l := seedLog(fmt.Sprint(i), base.Add(time.Duration(i)*time.Second), "a", "OP", types.AuditSuccess)
		require.NoError(t, s.Append(ctx, Key(l.LogID), encode(t, l)))
	}
	assert.Equal(t, 10, s.Len())

	got, err := s.Query(ctx, base, base.Add(time.Minute), nil)
	require.NoError(t, err)
	first, err := decodeLog(got[0])
	require.NoError(t, err)
	assert.Equal(t, "1", first.LogID)

	assert.Equal(t, 1, s.Evicted())
	assert.Equal(t, 1, counter.n)
	warned := logs.FilterMessage("audit storage full, oldest logs evicted").All()
	require.Len(t, warned, 1)
	assert.EqualValues(t, 1, warned[0].ContextMap()["evicted"])
}

func TestMemoryStorage_RejectsMalformedValue(t *testing.T) {
	s := NewMemoryStorage(0)
	assert.Error(t, s.Append(context.Background(), Key("x"), []byte("not json")))
}

func TestFileStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		s, err := NewFileStorage(t.TempDir(), zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFileStorage_DailyFilesAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	day1 := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStorage(dir, nil)
	require.NoError(t, err)
	for i, ts := range []time.Time{day1, day1.Add(time.Hour), day1.Add(24 * time.Hour)} {
		l := seedLog(fmt.Sprint(i), ts, "a", "OP", types.AuditSuccess)
		require.NoError(t, s.Append(ctx, Key(l.LogID), encode(t, l)))
	}
	require.NoError(t, s.Close())

	files, err := filepath.Glob(filepath.Join(dir, "audit_*.jsonl"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "audit_2026-05-04.jsonl"),
		filepath.Join(dir, "audit_2026-05-05.jsonl"),
	}, files)

	// a malformed line is skipped
	f, err := os.OpenFile(filepath.Join(dir, "audit_2026-05-04.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewFileStorage(dir, nil)
	require.NoError(t, err)
	n, err := reopened.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := reopened.Query(ctx, day1.Add(23*time.Hour), day1.Add(48*time.Hour), nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileStorage_LargeEntryStaysReadable(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	s, err := NewFileStorage(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	large := seedLog("big", day, "mwc-agent", "API_CALL", types.AuditSuccess)
	large.OperationDetails = map[string]any{"templateBody": strings.Repeat("x", 5<<20)}
	small := seedLog("small", day.Add(time.Minute), "mwc-agent", "API_CALL", types.AuditSuccess)
	require.NoError(t, s.Append(ctx, Key(large.LogID), encode(t, large)))
	require.NoError(t, s.Append(ctx, Key(small.LogID), encode(t, small)))

	got, err := s.Query(ctx, day.Add(-time.Hour), day.Add(time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	var first types.AuditLog
	require.NoError(t, json.Unmarshal(got[0], &first))
	assert.Equal(t, "big", first.LogID)
	assert.Len(t, first.OperationDetails["templateBody"], 5<<20)

	n, err := s.Count(ctx, &Filters{ActorID: "mwc-agent"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		t.Cleanup(mr.Close)

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStorage(client, "provisionflow:", zap.NewNop())
	})
}

func TestRedisStorage_KeysAndPing(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStorage(client, "pf:", nil)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	l := seedLog("k1", time.Now(), "a", "OP", types.AuditSuccess)
	require.NoError(t, s.Append(ctx, Key(l.LogID), encode(t, l)))

	assert.True(t, mr.Exists("pf:audit:log:k1"))
	members, err := mr.ZMembers("pf:audit:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"audit:log:k1"}, members)

	// dangling index entries are skipped
	mr.Del("pf:audit:log:k1")
	got, err := s.Query(ctx, l.Timestamp.Add(-time.Second), l.Timestamp.Add(time.Second), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGormStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		s := NewGormStorage(newSQLiteDB(t), zap.NewNop())
		require.NoError(t, s.AutoMigrate(context.Background()))
		return s
	})
}

func TestGormStorage_DuplicateKeyRejected(t *testing.T) {
	s := NewGormStorage(newSQLiteDB(t), nil)
	ctx := context.Background()
	require.NoError(t, s.AutoMigrate(ctx))

	l := seedLog("dup", time.Now(), "a", "OP", types.AuditSuccess)
	require.NoError(t, s.Append(ctx, Key(l.LogID), encode(t, l)))
	assert.Error(t, s.Append(ctx, Key(l.LogID), encode(t, l)))
}

func TestGormStorage_AppendRunsThroughTxRunner(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()
	var runs int
	s := NewGormStorage(db, nil, WithTxRunner(func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		runs++
		if runs == 1 {
			// 首次插入回滚，模拟锁冲突后的重试
			_ = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := fn(tx); err != nil {
					return err
				}
				return errors.New("database is locked")
			})
		}
		return db.WithContext(ctx).Transaction(fn)
	}))
	require.NoError(t, s.AutoMigrate(ctx))

	l := seedLog("tx", time.Now(), "a", "OP", types.AuditSuccess)
	require.NoError(t, s.Append(ctx, Key(l.LogID), encode(t, l)))
	assert.Equal(t, 1, runs)

	n, err := s.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMongoFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, mongoFilter(nil))
	assert.Equal(t, bson.M{
		"actorId":      "provisioning-agent",
		"actorType":    "AGENT",
		"operation":    "DEPLOY_STACK",
		"resourceType": "WORKFLOW",
		"resourceId":   "wf-1",
		"result":       "FAILURE",
	}, mongoFilter(&Filters{
		ActorID:      "provisioning-agent",
		ActorType:    types.ActorAgent,
		Operation:    "DEPLOY_STACK",
		ResourceType: "WORKFLOW",
		ResourceID:   "wf-1",
		Result:       types.AuditFailure,
	}))
}

// TestMongoStorage runs against a real server when PROVISIONFLOW_TEST_MONGO_URI is set.
func TestMongoStorage(t *testing.T) {
	uri := os.Getenv("PROVISIONFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PROVISIONFLOW_TEST_MONGO_URI not set")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	runStorageContract(t, func(t *testing.T) Storage {
		db := client.Database("provisionflow_test_" + uuid.NewString()[:8])
		t.Cleanup(func() { _ = db.Drop(context.Background()) })
		s := NewMongoStorage(db.Collection(DefaultMongoCollection), zap.NewNop())
		require.NoError(t, s.EnsureIndexes(context.Background()))
		return s
	})
}
