package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smallbiznis/marketledger/internal/migration"
	"github.com/smallbiznis/marketledger/internal/scheduler"
	"github.com/smallbiznis/marketledger/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	flagNodeID        = "node-id"
	flagWithScheduler = "with-scheduler"
	startTimeout      = 30 * time.Second
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "marketledger",
		Short:         "Payment, credit and earnings ledger for the practitioner marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Int64(flagNodeID, 1, "snowflake node id, unique per running instance")

	cmd.AddCommand(
		newServeCommand(),
		newSchedulerCommand(),
		newMigrateCommand(),
		newSweepCommand(),
	)
	return cmd
}

func nodeID(cmd *cobra.Command) int64 {
	id, _ := cmd.Flags().GetInt64(flagNodeID)
	return id
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			withScheduler, _ := cmd.Flags().GetBool(flagWithScheduler)
			opts := []fx.Option{
				infrastructure(nodeID(cmd)),
				ledger(),
				server.Module,
			}
			if withScheduler {
				opts = append(opts, fx.Invoke(scheduler.Register))
			}
			fx.New(opts...).Run()
			return nil
		},
	}
	cmd.Flags().Bool(flagWithScheduler, false, "also run the background jobs in this process")
	return cmd
}

func newSchedulerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the earnings, credit expiry and payout jobs on their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				infrastructure(nodeID(cmd)),
				ledger(),
				fx.Invoke(scheduler.Register),
			).Run()
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, func(conn *gorm.DB, log *zap.Logger) error {
					if err := migration.Migrate(conn); err != nil {
						return err
					}
					log.Info("schema migrated", zap.String("dialect", conn.Dialector.Name()))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDatabase(cmd, func(conn *gorm.DB, log *zap.Logger) error {
					sqlDB, err := conn.DB()
					if err != nil {
						return err
					}
					if err := migration.Rollback(sqlDB); err != nil {
						return err
					}
					log.Info("schema rolled back")
					return nil
				})
			},
		},
	)
	return cmd
}

func newSweepCommand() *cobra.Command {
	jobs := []string{
		scheduler.JobMatureEarnings,
		scheduler.JobReleaseEarnings,
		scheduler.JobExpireCredits,
		scheduler.JobPayoutBatch,
	}
	return &cobra.Command{
		Use:       "sweep [job]",
		Short:     "Run one background job now, or every job in order when none is named",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			app := fx.New(
				infrastructure(nodeID(cmd)),
				ledger(),
				fx.Populate(&sched),
				fx.NopLogger,
			)
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				if len(args) == 0 {
					return sched.RunOnce(ctx)
				}
				return sched.RunJob(ctx, strings.TrimSpace(args[0]))
			})
		},
	}
}

func withDatabase(cmd *cobra.Command, fn func(conn *gorm.DB, log *zap.Logger) error) error {
	var (
		conn *gorm.DB
		log  *zap.Logger
	)
	app := fx.New(
		infrastructure(nodeID(cmd)),
		fx.Populate(&conn, &log),
		fx.NopLogger,
	)
	return runOnce(cmd.Context(), app, func(context.Context) error {
		return fn(conn, log)
	})
}

// runOnce starts app, runs fn until it returns or a signal arrives, and stops
// the app.
func runOnce(parent context.Context, app *fx.App, fn func(ctx context.Context) error) error {
	if err := app.Err(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	runErr := fn(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), startTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("stop: %w", err)
	}
	return runErr
}
