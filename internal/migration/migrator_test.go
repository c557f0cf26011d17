package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/config"

	_ "modernc.org/sqlite"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"PostgreSQL", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	tests := []struct {
		name     string
		dbType   DatabaseType
		host     string
		port     int
		database string
		user     string
		pass     string
		sslMode  string
		expected string
	}{
		{
			name: "postgres", dbType: DatabaseTypePostgres, host: "db", port: 5432,
			database: "provisionflow", user: "pf", pass: "secret", sslMode: "disable",
			expected: "postgres://pf:secret@db:5432/provisionflow?sslmode=disable",
		},
		{
			name: "postgres default ssl", dbType: DatabaseTypePostgres, host: "db", port: 5432,
			database: "provisionflow", user: "pf", pass: "secret",
			expected: "postgres://pf:secret@db:5432/provisionflow?sslmode=require",
		},
		{
			name: "mysql", dbType: DatabaseTypeMySQL, host: "db", port: 3306,
			database: "provisionflow", user: "pf", pass: "secret",
			expected: "pf:secret@tcp(db:3306)/provisionflow?parseTime=true&multiStatements=true",
		},
		{
			name: "sqlite", dbType: DatabaseTypeSQLite, database: "/tmp/pf.db",
			expected: "file:/tmp/pf.db?mode=rwc",
		},
		{
			name: "unknown", dbType: "oracle", expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDatabaseURL(tt.dbType, tt.host, tt.port, tt.database, tt.user, tt.pass, tt.sslMode)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			migrations, err := availableMigrations(dbType)
			require.NoError(t, err)
			require.Len(t, migrations, 2)
			assert.Equal(t, uint(1), migrations[0].version)
			assert.Equal(t, "create_audit_logs", migrations[0].name)
			assert.Equal(t, uint(2), migrations[1].version)
			assert.Equal(t, "create_workflow_tables", migrations[1].name)
		})
	}
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "provisionflow.db")
	m, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "sqlite", Name: dbPath}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func tableExists(t *testing.T, dbPath, table string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return name == table
}

func TestMigrator_SQLite_Integration(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复执行无变更
	require.NoError(t, m.Up(ctx))

	version, dirty, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range Tables {
		assert.True(t, tableExists(t, dbPath, table), table)
	}

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalMigrations)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.True(t, tableExists(t, dbPath, "audit_logs"))
	assert.False(t, tableExists(t, dbPath, "workflow_states"))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)
}

func TestMigrator_Force(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Force(ctx, 1))
	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestReporter_Output(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()

	var out bytes.Buffer
	rep := NewReporter(m, &out)

	require.NoError(t, rep.Version(ctx))
	assert.Contains(t, out.String(), "No migrations applied yet")

	out.Reset()
	require.NoError(t, rep.Up(ctx))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, rep.Status(ctx))
	assert.Contains(t, out.String(), "000001")
	assert.Contains(t, out.String(), "create_workflow_tables")
	assert.Contains(t, out.String(), "applied")
	assert.Contains(t, out.String(), "Total: 2, Applied: 2, Pending: 0")

	out.Reset()
	require.NoError(t, rep.Info(ctx))
	assert.Regexp(t, `Pending Migrations:\s+0`, out.String())

	out.Reset()
	require.NoError(t, rep.Down(ctx))
	assert.Contains(t, out.String(), "Rollback complete. Current version: 1")
}
