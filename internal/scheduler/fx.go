package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Register starts the cron loop with the application and drains running
// jobs on shutdown.
func Register(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			done := sched.Stop()
			select {
			case <-done.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}
