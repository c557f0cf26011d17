package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/provisionflow/internal/server"
	"github.com/BaSui01/provisionflow/persistence"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and health endpoints and run periodic health scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.logger.Info("starting provisionflow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			rt, err := newRuntime(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.Background()); err != nil {
					a.logger.Error("shutdown error", zap.Error(err))
				}
			}()

			g, gctx := errgroup.WithContext(ctx)

			if a.cfg.Metrics.Enabled {
				srvCfg := server.DefaultConfig()
				srvCfg.Addr = a.cfg.Metrics.Addr
				srvCfg.ShutdownTimeout = a.cfg.Metrics.ShutdownTimeout
				srv := server.NewManager(rt.handler(), srvCfg, a.logger)
				if err := srv.Start(); err != nil {
					return err
				}
				g.Go(func() error { return srv.Wait(gctx) })
			}

			if interval := a.cfg.Metrics.HealthInterval; interval > 0 {
				g.Go(func() error {
					rt.healthLoop(gctx, interval)
					return nil
				})
			}

			err = g.Wait()
			a.logger.Info("provisionflow stopped")
			return err
		},
	}
}

// healthLoop 周期性扫描全部工作流直到 ctx 结束
func (rt *runtime) healthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := rt.monitor.CheckAllWorkflows(ctx)
			if err != nil {
				if ctx.Err() == nil {
					rt.logger.Error("health scan failed", zap.Error(err))
				}
				continue
			}
			if summary.Unhealthy > 0 {
				rt.logger.Warn("unhealthy workflows",
					zap.Int("unhealthy", summary.Unhealthy),
					zap.Int("total", summary.Total),
				)
			}
		}
	}
}

// =============================================================================
// 🌐 HTTP 端点
// =============================================================================

func (rt *runtime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+rt.cfg.Metrics.Path, promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry}))
	mux.HandleFunc("GET /healthz", rt.handleHealthz)
	mux.HandleFunc("GET /readyz", rt.handleReadyz)
	mux.HandleFunc("GET /version", handleVersion)
	mux.HandleFunc("GET /workflows/{id}", rt.handleWorkflow)
	mux.HandleFunc("GET /workflows/{id}/recovery", rt.handleRecovery)
	mux.HandleFunc("GET /breakers", rt.handleBreakers)

	return Chain(mux,
		Recovery(rt.logger),
		RequestID(),
		OTelTracing(),
		RequestLogger(rt.logger),
		MetricsMiddleware(rt.collector),
	)
}

// handleHealthz 全部工作流健康时 200，否则 503
func (rt *runtime) handleHealthz(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.monitor.CheckAllWorkflows(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if summary.Unhealthy > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, summary)
}

// handleReadyz 探测工作流存储
func (rt *runtime) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := rt.store.Ping(r.Context()); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (rt *runtime) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	q, err := rt.monitor.QueryWorkflowStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (rt *runtime) handleRecovery(w http.ResponseWriter, r *http.Request) {
	info, err := rt.checkpoints.GetRecoveryInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (rt *runtime) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.breakers.Stats())
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
