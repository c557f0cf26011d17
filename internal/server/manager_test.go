package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func randomPortConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager(okHandler(), randomPortConfig(), zap.NewNop())
	assert.Equal(t, "127.0.0.1:0", m.Addr())
	assert.False(t, m.Running())

	require.NoError(t, m.Start())
	assert.True(t, m.Running())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.NotEqual(t, "127.0.0.1:0", m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.Running())
	// 幂等
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.ErrorIs(t, m.Start(), ErrAlreadyStarted)
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_WaitReturnsOnCancel(t *testing.T) {
	m := NewManager(okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.False(t, m.Running())
}

func TestManager_StartFailsOnBusyPort(t *testing.T) {
	first := NewManager(okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := randomPortConfig()
	cfg.Addr = first.Addr()
	second := NewManager(okHandler(), cfg, zap.NewNop())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestManager_WaitReturnsServeError(t *testing.T) {
	m := NewManager(okHandler(), randomPortConfig(), nil)
	require.NoError(t, m.Start())

	// 直接关闭监听器使 Serve 异常返回
	m.mu.Lock()
	require.NoError(t, m.ln.Close())
	m.mu.Unlock()

	err := m.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.False(t, m.Running())
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	m := NewManager(okHandler(), randomPortConfig(), nil)
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}
