package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/clock"
	entitlementdomain "github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"github.com/smallbiznis/creatorpay/internal/ratelimit"
	webhookservice "github.com/smallbiznis/creatorpay/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobReplayStuckEvents = "replay_stuck_events"
	JobExpireTrials      = "expire_trials"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

// EventReplayer re-drives ledger rows that never reached processed.
type EventReplayer interface {
	ReplayStale(ctx context.Context, limit int) (webhookservice.ReplayStats, error)
}

// TrialExpirer settles users whose trial window has passed.
type TrialExpirer interface {
	ExpireTrials(ctx context.Context, users []entitlementdomain.User) (int, error)
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
	Replayer     EventReplayer
	Trials       TrialExpirer
	Entitlements entitlementdomain.Repository
	Locker       *ratelimit.Locker `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	replayer     EventReplayer
	trials       TrialExpirer
	entitlements entitlementdomain.Repository
	locker       *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Replayer == nil || p.Trials == nil || p.Entitlements == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		replayer:     p.Replayer,
		trials:       p.Trials,
		entitlements: p.Entitlements,
		locker:       p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	ran, err := s.locker.WithLock(ctx, "scheduler:"+name, s.cfg.LockTTL, fn)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if !ran && err == nil {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerJobReasonLockUnavailable)
		log.Debug("job skipped, lease held elsewhere")
	}
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReplayStuckEvents, s.ReplayStuckEventsJob},
		{JobExpireTrials, s.ExpireTrialsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReplayStuckEventsJob re-runs webhook events left pending or errored.
func (s *Scheduler) ReplayStuckEventsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReplayStuckEvents, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	stats, err := s.replayer.ReplayStale(ctx, s.cfg.BatchSize)
	run.AddProcessed(stats.Processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobReplayStuckEvents, "webhook_event", stats.Processed)
	for i := 0; i < stats.Failed; i++ {
		run.IncError()
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.replay.claim_failed", err)
		return err
	}
	if stats.Claimed > 0 {
		s.logger(ctx).Info("scheduler.replay.batch",
			zap.Int("claimed", stats.Claimed),
			zap.Int("processed", stats.Processed),
			zap.Int("failed", stats.Failed),
		)
	}
	return nil
}

// ExpireTrialsJob downgrades users whose trial ended without a conversion.
func (s *Scheduler) ExpireTrialsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireTrials, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	users, err := s.entitlements.ListExpiredTrials(ctx, s.db.WithContext(ctx), s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.trials.list_failed", err)
		return err
	}
	if len(users) == 0 {
		return nil
	}

	settled, err := s.trials.ExpireTrials(ctx, users)
	run.AddProcessed(settled)
	obsmetrics.Scheduler().AddBatchProcessed(JobExpireTrials, "user", settled)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.trials.expire_failed", err,
			zap.Int("settled", settled),
			zap.Int("claimed", len(users)),
		)
		return err
	}
	return nil
}
