package migration

import (
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/config"
)

// NewMigratorFromDatabaseConfig 按 database 配置段创建迁移器；SQLite 时 Name 为文件路径
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode),
	}, logger)
}
