package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"github.com/smallbiznis/marketledger/internal/clock"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	"github.com/smallbiznis/marketledger/internal/lock"
	obsmetrics "github.com/smallbiznis/marketledger/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Earnings earningsdomain.Service
	Credit   creditdomain.Service
	Payouts  payoutdomain.Service
	Locker   *lock.Locker `optional:"true"`
	Config   Config       `optional:"true"`
}

// Scheduler runs the ledger sweeps on cron schedules.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	earnings earningsdomain.Service
	credit   creditdomain.Service
	payouts  payoutdomain.Service
	locker   *lock.Locker
	cron     *cron.Cron
}

type job struct {
	name     string
	resource string
	run      func(ctx context.Context, now time.Time) (int, error)
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Earnings == nil || p.Credit == nil || p.Payouts == nil {
		return nil, ErrInvalidConfig
	}
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	return &Scheduler{
		log:      log,
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		earnings: p.Earnings,
		credit:   p.Credit,
		payouts:  p.Payouts,
		locker:   p.Locker,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{log: log})),
		),
	}, nil
}

// jobs lists the sweeps in dependency order: maturing feeds releasing, and
// releasing feeds the payout batch.
func (s *Scheduler) jobs() []job {
	return []job{
		{JobMatureEarnings, "earnings_transaction", s.earnings.MatureDelivered},
		{JobReleaseEarnings, "earnings_transaction", s.earnings.ReleaseAvailable},
		{JobExpireCredits, "credit_entry", s.credit.ExpireCredits},
		{JobPayoutBatch, "payout", func(ctx context.Context, _ time.Time) (int, error) {
			result, err := s.payouts.RunBatch(ctx)
			return result.Created, err
		}},
	}
}

// Start registers every enabled job with its cron expression.
func (s *Scheduler) Start() error {
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		expr := strings.TrimSpace(s.cfg.schedule(j.name))
		if expr == "" {
			s.log.Info("scheduler.job.disabled", zap.String("job", j.name))
			continue
		}
		j := j
		if _, err := s.cron.AddFunc(expr, func() {
			if err := s.runJob(context.Background(), j); err != nil {
				s.log.Warn("scheduler run failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, expr, err)
		}
		s.log.Info("scheduler.job.registered", zap.String("job", j.name), zap.String("schedule", expr))
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop. The returned context is done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs every enabled sweep immediately, in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if s.isJobEnabled(j.name) {
			err = errors.Join(err, s.runJob(ctx, j))
		}
	}
	return err
}

// RunJob runs a single sweep by name.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs() {
		if strings.EqualFold(j.name, name) {
			return s.runJob(ctx, j)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) runJob(parent context.Context, j job) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, j.name)
	s.logJobStart(ctx, run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(j.name)

	err := s.locker.With(ctx, lock.JobKey(j.name), s.cfg.LockTTL, func(ctx context.Context) error {
		n, err := j.run(ctx, start)
		run.AddProcessed(n)
		schedMetrics.AddBatchProcessed(j.name, j.resource, n)
		return err
	})
	schedMetrics.ObserveJobDuration(j.name, time.Since(start))
	if errors.Is(err, lock.ErrLockHeld) {
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", j.name))
		return nil
	}
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	schedMetrics.IncJobError(j.name, err)
	if isTimeout {
		schedMetrics.IncJobTimeout(j.name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", j.name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	s.logSchedulerError(ctx, run, err)
	return fmt.Errorf("%s: %w", j.name, err)
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err, "code", apperror.CodeOf(err))...)
}
