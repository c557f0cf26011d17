package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/provisionflow/audit"
	"github.com/BaSui01/provisionflow/checkpoint"
	"github.com/BaSui01/provisionflow/config"
	"github.com/BaSui01/provisionflow/internal/database"
	"github.com/BaSui01/provisionflow/internal/metrics"
	"github.com/BaSui01/provisionflow/internal/migration"
	"github.com/BaSui01/provisionflow/internal/telemetry"
	"github.com/BaSui01/provisionflow/monitor"
	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/resilience/circuitbreaker"
	"github.com/BaSui01/provisionflow/resilience/retry"
)

// txMaxAttempts 单个数据库写事务的最大尝试次数
const txMaxAttempts = 3

// runtime 按配置装配的组件图
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	retry    *retry.Handler
	breakers *circuitbreaker.Registry

	db   *gorm.DB
	pool *database.PoolManager

	store       persistence.Store
	audit       *audit.Logger
	checkpoints *checkpoint.Manager
	monitor     *monitor.Monitor

	closers []func(ctx context.Context) error
}

// newRuntime 装配组件；后端连接经由熔断器与重试，失败时释放已打开的资源
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.collector = metrics.NewCollector("provisionflow", rt.registry, logger)

	rt.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("telemetry unavailable, continuing without exporters", zap.Error(err))
		rt.telemetry = &telemetry.Providers{}
		err = nil
	}
	rt.closers = append(rt.closers, rt.telemetry.Shutdown)

	rt.retry = retry.NewHandler(nil,
		retry.WithLogger(logger),
		retry.WithObserver(rt.collector),
		retry.WithTracer(rt.telemetry.Tracer("provisionflow/retry")),
	)
	rt.breakers = circuitbreaker.NewRegistry(cfg.CircuitBreaker.ToCircuitBreaker(), logger,
		circuitbreaker.WithObserver(rt.collector),
	)

	if cfg.UsesDatabase() {
		if err = rt.openDatabase(ctx); err != nil {
			return nil, err
		}
	}

	storage, err := rt.openAuditStorage(ctx)
	if err != nil {
		return nil, err
	}
	rt.audit = audit.NewLogger(storage,
		audit.WithLogger(logger),
		audit.WithObserver(rt.collector),
	)

	rt.store, err = persistence.NewStore(ctx, cfg.StoreConfig(), rt.db, logger,
		persistence.WithTxRunner(rt.txRunner()))
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return rt.store.Close() })
	if err = rt.connect(ctx, "workflow-store", rt.store.Ping); err != nil {
		return nil, err
	}

	rt.checkpoints = checkpoint.NewManager(rt.store, rt.audit,
		checkpoint.WithLogger(logger),
		checkpoint.WithObserver(rt.collector),
	)
	rt.monitor = monitor.New(rt.store, rt.checkpoints, rt.audit, cfg.Monitor.ToMonitor(),
		monitor.WithLogger(logger),
		monitor.WithObserver(rt.collector),
	)
	return rt, nil
}

// connect 通过熔断器与重试执行一次连接探测
func (rt *runtime) connect(ctx context.Context, service string, ping func(ctx context.Context) error) error {
	inv := retry.Invocation{AgentID: "provisionflow", OperationName: "connect:" + service}
	_, err := retry.Do(ctx, rt.retry, inv, rt.cfg.Retry.ToRetry(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rt.breakers.Execute(ctx, service, ping, nil)
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", service, err)
	}
	return nil
}

func (rt *runtime) openDatabase(ctx context.Context) error {
	dbCfg := rt.cfg.Database
	db, err := database.Open(dbCfg, rt.logger)
	if err != nil {
		return err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), rt.logger,
		database.WithStatsFunc(func(s sql.DBStats) {
			rt.collector.RecordDBConnections(dbCfg.Driver, s.OpenConnections, s.Idle)
		}),
	)
	if err != nil {
		return err
	}
	rt.db, rt.pool = db, pool
	rt.closers = append(rt.closers, func(context.Context) error { return pool.Close() })

	if err := rt.connect(ctx, "database", pool.Ping); err != nil {
		return err
	}

	if dbCfg.AutoMigrate {
		m, err := migration.NewMigratorFromDatabaseConfig(dbCfg, rt.logger)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Up(ctx); err != nil {
			return err
		}
	}
	return nil
}

// txRunner 数据库写事务经连接池执行，死锁与序列化冲突时重试
func (rt *runtime) txRunner() func(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if rt.pool == nil {
		return nil
	}
	return func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return rt.pool.WithTransactionRetry(ctx, txMaxAttempts, fn)
	}
}

func (rt *runtime) openAuditStorage(ctx context.Context) (audit.Storage, error) {
	ac := rt.cfg.Audit
	switch ac.Backend {
	case config.AuditBackendMemory:
		return audit.NewMemoryStorage(ac.MaxEntries,
			audit.WithMemoryLogger(rt.logger),
			audit.WithEvictionObserver(rt.collector),
		), nil

	case config.AuditBackendFile:
		fs, err := audit.NewFileStorage(ac.Dir, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return fs.Close() })
		return fs, nil

	case config.AuditBackendRedis:
		rc := rt.cfg.Redis
		client := redis.NewClient(&redis.Options{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
		})
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
		if err := rt.connect(ctx, "audit-redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}); err != nil {
			return nil, err
		}
		return audit.NewRedisStorage(client, ac.KeyPrefix, rt.logger), nil

	case config.AuditBackendDatabase:
		if rt.db == nil {
			return nil, errors.New("audit database backend requires a database connection")
		}
		return audit.NewGormStorage(rt.db, rt.logger, audit.WithTxRunner(rt.txRunner())), nil

	case config.AuditBackendMongo:
		mc := rt.cfg.Mongo
		client, err := mongo.Connect(options.Client().ApplyURI(mc.URI).SetTimeout(mc.Timeout))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		rt.closers = append(rt.closers, client.Disconnect)
		if err := rt.connect(ctx, "audit-mongo", func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}); err != nil {
			return nil, err
		}
		s := audit.NewMongoStorage(client.Database(mc.Database).Collection(ac.Collection), rt.logger)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported audit backend %q", ac.Backend)
	}
}

// Close 逆序释放资源
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
