package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/config"
	"github.com/BaSui01/provisionflow/persistence"
	"github.com/BaSui01/provisionflow/testutil"
	"github.com/BaSui01/provisionflow/testutil/fixtures"
	"github.com/BaSui01/provisionflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := `
log:
  level: error
  output_paths: ["stderr"]
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(base+body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// seedFileStore 写入一个带失败检查点的工作流
func seedFileStore(t *testing.T, dir, workflowID string) {
	t.Helper()
	store, err := persistence.NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	testutil.SeedWorkflow(t, store, fixtures.WorkflowState(workflowID, types.WorkflowFailed),
		fixtures.SuccessCheckpoint("generate-template", fixtures.T0.Add(1)),
		fixtures.FailureCheckpoint("deploy-stack", fixtures.T0.Add(2)),
	)
}

// =============================================================================
// 🧪 命令测试
// =============================================================================

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ProvisionFlow dev")
	assert.Contains(t, out, "Git Commit: unknown")
}

func TestHealthCommand_EmptyStore(t *testing.T) {
	out, err := execute(t, "health", "--config", writeConfig(t, ""))
	require.NoError(t, err)

	var summary struct {
		Total     int `json:"total"`
		Unhealthy int `json:"unhealthy"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, summary.Unhealthy)
}

func TestHealthCommand_ReportsUnhealthyWorkflow(t *testing.T) {
	dir := t.TempDir()
	seedFileStore(t, dir, "wf-1")
	cfg := writeConfig(t, fmt.Sprintf("storage:\n  type: file\n  base_dir: %q\n", dir))

	out, err := execute(t, "health", "--config", cfg)
	require.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out, `"workflowId": "wf-1"`)
	assert.Contains(t, out, "1 failed checkpoint(s)")

	out, err = execute(t, "health", "--config", cfg, "--workflow", "wf-1")
	require.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out, `"healthy": false`)
}

func TestRecoverCommand(t *testing.T) {
	dir := t.TempDir()
	seedFileStore(t, dir, "wf-1")
	cfg := writeConfig(t, fmt.Sprintf("storage:\n  type: file\n  base_dir: %q\n", dir))

	out, err := execute(t, "recover", "wf-1", "--config", cfg)
	require.NoError(t, err)

	var info struct {
		CanRecover     bool   `json:"canRecover"`
		RecoveryStepID string `json:"recoveryStepId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.CanRecover)
	assert.Equal(t, "generate-template", info.RecoveryStepID)

	_, err = execute(t, "recover", "--config", cfg)
	assert.Error(t, err)
}

func TestMigrateCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pf.db")
	cfg := writeConfig(t, fmt.Sprintf("database:\n  driver: sqlite\n  name: %q\n", dbPath))

	out, err := execute(t, "migrate", "version", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations applied yet")

	out, err = execute(t, "migrate", "up", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")

	out, err = execute(t, "migrate", "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2, Applied: 2, Pending: 0")

	_, err = execute(t, "migrate", "force", "abc", "--config", cfg)
	assert.Error(t, err)
}

func TestMigrateCommand_RequiresDriver(t *testing.T) {
	_, err := execute(t, "migrate", "up", "--config", writeConfig(t, "database:\n  driver: \"\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestInvalidConfigFails(t *testing.T) {
	_, err := execute(t, "health", "--config", writeConfig(t, "storage:\n  type: tape\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.type")
}

// =============================================================================
// 🧪 HTTP 端点测试
// =============================================================================

func newTestRuntime(t *testing.T, storeDir string) *runtime {
	t.Helper()
	cfg := config.DefaultConfig()
	if storeDir != "" {
		cfg.Storage.Type = string(persistence.StoreTypeFile)
		cfg.Storage.BaseDir = storeDir
	}
	rt, err := newRuntime(testutil.TestContext(t), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestNewRuntime_DatabaseWritesUsePool(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = string(persistence.StoreTypeDatabase)
	cfg.Audit.Backend = config.AuditBackendDatabase
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "pf.db")
	cfg.Database.AutoMigrate = true
	ctx := testutil.TestContext(t)

	rt, err := newRuntime(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	require.NotNil(t, rt.pool)
	require.NotNil(t, rt.txRunner())

	testutil.SeedWorkflow(t, rt.store, fixtures.WorkflowState("wf-db", types.WorkflowInProgress))
	_, err = rt.checkpoints.CreateSuccessCheckpoint(ctx, "wf-db", "generate-template", fixtures.OnboardingAgent,
		map[string]any{"templateUrl": "s3://bucket/t.yaml"})
	require.NoError(t, err)

	state, err := rt.store.LoadWorkflowState(ctx, "wf-db")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Checkpoints, 1)
	assert.Equal(t, "generate-template", state.CurrentStep)

	n, err := rt.audit.Storage().Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.String()
}

func TestHandler_Endpoints(t *testing.T) {
	rt := newTestRuntime(t, "")
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	code, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"total":0`)

	code, _ = get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = get(t, srv, "/version")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"version":"dev"`)

	code, _ = get(t, srv, "/workflows/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get(t, srv, "/breakers")
	assert.Equal(t, http.StatusOK, code)
	// 启动时的连接探测注册了 workflow-store 熔断器
	assert.Contains(t, body, "workflow-store")

	code, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `provisionflow_http_requests_total{method="GET",path="/workflows/:id",status="4xx"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestHandler_UnhealthyWorkflow(t *testing.T) {
	dir := t.TempDir()
	seedFileStore(t, dir, "wf-9")
	rt := newTestRuntime(t, dir)
	srv := httptest.NewServer(rt.handler())
	defer srv.Close()

	code, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "wf-9")

	code, body = get(t, srv, "/workflows/wf-9")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, `"status":"FAILED"`), body)

	code, body = get(t, srv, "/workflows/wf-9/recovery")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"canRecover":true`)
}
