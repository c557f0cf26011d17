package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/internal/migration"
)

// =============================================================================
// 🏥 health
// =============================================================================

func newHealthCmd(a *app) *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print a one-shot health report; exits 1 when any workflow is unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				out := cmd.OutOrStdout()
				if workflowID != "" {
					report, err := rt.monitor.CheckWorkflowHealth(cmd.Context(), workflowID)
					if err != nil {
						return err
					}
					if err := printJSON(out, report); err != nil {
						return err
					}
					if !report.Healthy {
						return errUnhealthy
					}
					return nil
				}

				summary, err := rt.monitor.CheckAllWorkflows(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(out, summary); err != nil {
					return err
				}
				if summary.Unhealthy > 0 {
					return errUnhealthy
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "check a single workflow")
	return cmd
}

// =============================================================================
// 🔁 recover
// =============================================================================

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <workflow-id>",
		Short: "Print recovery info for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd.Context(), func(rt *runtime) error {
				info, err := rt.checkpoints.GetRecoveryInfo(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

// withRuntime 装配组件、执行 fn 后释放
func (a *app) withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := newRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.Background()); cerr != nil {
			a.logger.Warn("close runtime", zap.Error(cerr))
		}
	}()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// 🗄️ migrate
// =============================================================================

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations for audit and workflow tables",
	}

	run := func(fn func(ctx context.Context, rep *migration.Reporter, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if a.cfg.Database.Driver == "" {
				return fmt.Errorf("database.driver is not configured")
			}
			m, err := migration.NewMigratorFromDatabaseConfig(a.cfg.Database, a.logger)
			if err != nil {
				return err
			}
			defer m.Close()

			return fn(cmd.Context(), migration.NewReporter(m, cmd.OutOrStdout()), args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, rep *migration.Reporter, _ []string) error {
				return rep.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, rep *migration.Reporter, _ []string) error {
				return rep.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, rep *migration.Reporter, _ []string) error {
				return rep.Status(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, rep *migration.Reporter, _ []string) error {
				return rep.Version(ctx)
			}),
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show migration summary",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, rep *migration.Reporter, _ []string) error {
				return rep.Info(ctx)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the migration version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, rep *migration.Reporter, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return rep.Force(ctx, v)
			}),
		},
	)
	return cmd
}
