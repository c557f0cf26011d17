package migration

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// Embedded Migration Files
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// =============================================================================
// Types and Interfaces
// =============================================================================

// DatabaseType represents the type of database
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	// DatabaseTypeSQLite uses the pure-Go modernc driver
	DatabaseTypeSQLite DatabaseType = "sqlite"
)

// Tables created by the embedded migrations, in creation order.
var Tables = []string{"audit_logs", "workflow_states", "workflow_checkpoints"}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo contains information about the current migration state
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	DatabaseType DatabaseType
	// DatabaseURL 由 BuildDatabaseURL 生成的驱动连接串
	DatabaseURL string
	// TableName 版本表，默认 schema_migrations
	TableName string
	// LockTimeout 获取迁移锁的超时，默认 15s
	LockTimeout time.Duration
}

// Migrator defines the operations exposed by the migrate command.
type Migrator interface {
	// Up applies all pending migrations
	Up(ctx context.Context) error
	// Down rolls back the last migration
	Down(ctx context.Context) error
	// Force sets the migration version without running migrations
	Force(ctx context.Context, version int) error
	// Version returns the current migration version
	Version(ctx context.Context) (uint, bool, error)
	// Status returns the status of all migrations
	Status(ctx context.Context) ([]MigrationStatus, error)
	// Info returns information about the current migration state
	Info(ctx context.Context) (*MigrationInfo, error)
	// Close closes the migrator and releases resources
	Close() error
}

// dialect 描述一种数据库的 database/sql 驱动名与 golang-migrate 驱动构造方式
type dialect struct {
	sqlDriver string
	instance  func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {"postgres", func(db *sql.DB, table string) (database.Driver, error) {
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	}},
	DatabaseTypeMySQL: {"mysql", func(db *sql.DB, table string) (database.Driver, error) {
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	}},
	// modernc 纯 Go 驱动
	DatabaseTypeSQLite: {"sqlite", func(db *sql.DB, table string) (database.Driver, error) {
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: table})
	}},
}

// DefaultMigrator 基于 golang-migrate 与内嵌 SQL 文件的 Migrator 实现
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 打开数据库连接并加载对应方言的内嵌迁移
func NewMigrator(cfg *Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, ok := dialects[cfg.DatabaseType]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "migration"), zap.String("database", string(cfg.DatabaseType)))

	table := cmp.Or(cfg.TableName, "schema_migrations")
	mg, err := open(d, cfg.DatabaseType, cfg.DatabaseURL, table)
	if err != nil {
		return nil, err
	}
	mg.LockTimeout = cmp.Or(cfg.LockTimeout, 15*time.Second)
	mg.Log = &zapMigrateLogger{logger: logger}

	return &DefaultMigrator{dbType: cfg.DatabaseType, migrate: mg, logger: logger}, nil
}

func open(d dialect, dbType DatabaseType, url, table string) (*migrate.Migrate, error) {
	db, err := sql.Open(d.sqlDriver, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	mg, err := func() (*migrate.Migrate, error) {
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		driver, err := d.instance(db, table)
		if err != nil {
			return nil, fmt.Errorf("migrate driver: %w", err)
		}
		src, err := iofs.New(migrationsFS, migrationsDir(dbType))
		if err != nil {
			return nil, fmt.Errorf("migration source: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, string(dbType), driver)
	}()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return mg, nil
}

// Up 应用全部待执行迁移；已是最新版本时不报错
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ignoreNoChange(m.migrate.Up()); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

// Down 回滚一个版本；没有可回滚的迁移时不报错
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ignoreNoChange(m.migrate.Steps(-1)); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	m.logger.Info("migration rolled back")
	return nil
}

// Force 写入版本号并清除 dirty 标记，不执行 SQL
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migrate force: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 未执行过任何迁移时返回 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出内嵌迁移及其相对当前版本的状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(files))
	for i, f := range files {
		out[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out, nil
}

// Info 汇总当前版本与已应用/待执行数量
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(files)}
	for _, f := range files {
		if f.version <= current {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close 释放迁移源与数据库连接
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	return errors.Join(m.migrate.Close())
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// zapMigrateLogger 把 migrate.Logger 输出转为 zap Debug 日志
type zapMigrateLogger struct {
	logger *zap.Logger
}

func (l *zapMigrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *zapMigrateLogger) Verbose() bool { return false }

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 按版本升序列出内嵌的 up 迁移
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []migrationFile
	for _, e := range entries {
		mig, err := source.Parse(e.Name())
		if err != nil || mig.Direction != source.Up {
			continue
		}
		out = append(out, migrationFile{version: mig.Version, name: mig.Identifier})
	}
	slices.SortFunc(out, func(a, b migrationFile) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

func migrationsDir(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}

// =============================================================================
// Helper Functions
// =============================================================================

// ParseDatabaseType parses a database type string
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// BuildDatabaseURL builds a driver connection string from components
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc", database)
	default:
		return ""
	}
}
