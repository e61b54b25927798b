package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	entitlementdomain "github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/creatorpay/internal/entitlement/repository"
	"github.com/smallbiznis/creatorpay/internal/testutil"
	webhookservice "github.com/smallbiznis/creatorpay/internal/webhook/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubReplayer struct {
	mu     sync.Mutex
	limits []int
	stats  webhookservice.ReplayStats
	err    error
}

func (s *stubReplayer) ReplayStale(ctx context.Context, limit int) (webhookservice.ReplayStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	return s.stats, s.err
}

func (s *stubReplayer) limitsSnapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.limits...)
}

type stubTrials struct {
	batches [][]entitlementdomain.User
	err     error
}

func (s *stubTrials) ExpireTrials(ctx context.Context, users []entitlementdomain.User) (int, error) {
	s.batches = append(s.batches, users)
	if s.err != nil {
		return 0, s.err
	}
	return len(users), nil
}

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	replayer *stubReplayer
	trials   *stubTrials
	sched    *Scheduler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		db:       testutil.OpenDB(t),
		clock:    clock.NewFakeClock(now),
		replayer: &stubReplayer{},
		trials:   &stubTrials{},
	}
	sched, err := New(Params{
		DB:           f.db,
		Log:          zap.NewNop(),
		GenID:        testutil.Node(t),
		Clock:        f.clock,
		Config:       cfg,
		Replayer:     f.replayer,
		Trials:       f.trials,
		Entitlements: entitlementrepo.Provide(),
	})
	require.NoError(t, err)
	f.sched = sched
	return f
}

func (f *fixture) seedUser(t *testing.T, id int64, status string, endAt time.Time) {
	t.Helper()
	user := entitlementdomain.User{
		ID:                 snowflake.ID(id),
		Email:              "creator@example.com",
		SubscriptionTier:   entitlementdomain.TierFree,
		SubscriptionStatus: &status,
		SubscriptionEndAt:  &endAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, f.db.Create(&user).Error)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvideConfigAppliesDefaults(t *testing.T) {
	cfg := ProvideConfig(config.Config{Scheduler: config.SchedulerConfig{IntervalSeconds: 0, BatchSize: 0}})
	require.Equal(t, time.Minute, cfg.RunInterval)
	require.Equal(t, 50, cfg.BatchSize)
	require.GreaterOrEqual(t, cfg.LockTTL, cfg.JobTimeout)

	cfg = ProvideConfig(config.Config{Scheduler: config.SchedulerConfig{IntervalSeconds: 15, BatchSize: 7, Jobs: []string{JobExpireTrials}}})
	require.Equal(t, 15*time.Second, cfg.RunInterval)
	require.Equal(t, 7, cfg.BatchSize)
	require.Equal(t, []string{JobExpireTrials}, cfg.EnabledJobs)
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10})
	f.replayer.stats = webhookservice.ReplayStats{Claimed: 2, Processed: 2}
	f.seedUser(t, 1, "trialing", now.Add(-time.Hour))
	f.seedUser(t, 2, "trialing", now.Add(time.Hour))
	f.seedUser(t, 3, "active", now.Add(-time.Hour))

	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Equal(t, []int{10}, f.replayer.limitsSnapshot())
	require.Len(t, f.trials.batches, 1)
	require.Len(t, f.trials.batches[0], 1)
	require.Equal(t, snowflake.ID(1), f.trials.batches[0][0].ID)
}

func TestExpireTrialsJobSkipsEmptyBatch(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "trialing", now.Add(time.Hour))

	require.NoError(t, f.sched.ExpireTrialsJob(context.Background()))
	require.Empty(t, f.trials.batches)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.sched.ExpireTrialsJob(context.Background()))
	require.Len(t, f.trials.batches, 1)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"REPLAY_STUCK_EVENTS"}})
	f.seedUser(t, 1, "trialing", now.Add(-time.Hour))

	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Len(t, f.replayer.limitsSnapshot(), 1)
	require.Empty(t, f.trials.batches)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	f := newFixture(t, Config{})
	f.replayer.err = errors.New("claim failed")
	f.trials.err = errors.New("downgrade failed")
	f.seedUser(t, 1, "trialing", now.Add(-time.Hour))

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, f.replayer.err)
	require.ErrorIs(t, err, f.trials.err)
	require.Contains(t, err.Error(), JobReplayStuckEvents)
	require.Contains(t, err.Error(), JobExpireTrials)
}

func TestRunJobTreatsDeadlineAsSoftTimeout(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sched.runJob(context.Background(), "slow", 1, time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{RunInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(f.replayer.limitsSnapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
