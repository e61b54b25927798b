package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/smallbiznis/creatorpay/internal/automation/domain"
	automationrepo "github.com/smallbiznis/creatorpay/internal/automation/repository"
	automationservice "github.com/smallbiznis/creatorpay/internal/automation/service"
	"github.com/smallbiznis/creatorpay/internal/clock"
	entitlementdomain "github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	entitlementrepo "github.com/smallbiznis/creatorpay/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/creatorpay/internal/entitlement/service"
	invoicerepo "github.com/smallbiznis/creatorpay/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/creatorpay/internal/invoice/service"
	subscriptiondomain "github.com/smallbiznis/creatorpay/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/creatorpay/internal/subscription/repository"
	"github.com/smallbiznis/creatorpay/internal/testutil"
	webhookdomain "github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	now        = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	freeLimits = entitlementdomain.PlanLimits{MaxProducts: 1, MaxStorageMb: 100}
	proLimits  = entitlementdomain.PlanLimits{MaxProducts: 100, MaxStorageMb: 20480, MaxTeamMembers: 3, MaxAiGenerations: 200, CustomDomain: true, CanRemoveBranding: true}
)

const (
	userID snowflake.ID = 100
	subID  snowflake.ID = 500
	extSub              = "sub_Q1"
)

type fixture struct {
	db     *gorm.DB
	svc    *Service
	repo   subscriptiondomain.Repository
	ent    entitlementdomain.Resolver
	clock  *clock.FakeClock
	params ServiceParam
}

func newFixture(t *testing.T, status subscriptiondomain.Status) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(now)
	log := zap.NewNop()

	ent := entitlementservice.NewService(entitlementservice.Params{Log: log, Clock: clk, Repo: entitlementrepo.Provide()})
	recorder := invoiceservice.NewService(invoiceservice.Params{Log: log, GenID: node, Repo: invoicerepo.Provide()})
	queue := automationrepo.NewQueue(automationrepo.QueueParams{GenID: node, Clock: clk})
	repo := subscriptionrepo.Provide()

	params := ServiceParam{
		DB:           db,
		Log:          log,
		Clock:        clk,
		Repo:         repo,
		Entitlements: ent,
		Recorder:     recorder,
		Dunning:      automationservice.NewDunning(automationservice.DunningParams{Queue: queue}),
	}
	svc := NewService(params)

	for _, plan := range []entitlementdomain.Plan{
		{ID: 1, Name: "Free", Tier: entitlementdomain.TierFree, Limits: datatypes.NewJSONType(freeLimits)},
		{ID: 2, Name: "Creator Pro", Tier: "creator_pro", Limits: datatypes.NewJSONType(proLimits), PriceAmount: 49900},
	} {
		plan.Currency = "INR"
		plan.BillingInterval = "monthly"
		plan.CreatedAt = now
		plan.UpdatedAt = now
		require.NoError(t, db.Create(&plan).Error)
	}

	username := "user1"
	require.NoError(t, db.Create(&entitlementdomain.User{
		ID: userID, Username: &username, Email: "user1@example.com",
		SubscriptionTier: entitlementdomain.TierFree, CreatedAt: now, UpdatedAt: now,
	}).Error)

	require.NoError(t, repo.Insert(context.Background(), db, &subscriptiondomain.Subscription{
		ID: subID, UserID: userID, PlanID: 2, ExternalSubscriptionID: extSub,
		Status: status, AutoRenew: true, CreatedAt: now, UpdatedAt: now,
	}))

	return &fixture{db: db, svc: svc, repo: repo, ent: ent, clock: clk, params: params}
}

func subscriptionEvent(startAt, endAt int64) *webhookdomain.Envelope {
	return &webhookdomain.Envelope{
		Payload: webhookdomain.Payload{
			Subscription: &webhookdomain.SubscriptionWrapper{Entity: webhookdomain.SubscriptionEntity{
				ID: extSub, StartAt: startAt, CurrentEnd: endAt,
			}},
		},
	}
}

func chargedEvent(paymentID string, endAt int64) *webhookdomain.Envelope {
	env := subscriptionEvent(0, endAt)
	env.Payload.Payment = &webhookdomain.PaymentWrapper{Entity: webhookdomain.PaymentEntity{
		ID: paymentID, Amount: 49900, Currency: "INR", Status: "captured",
	}}
	return env
}

func (f *fixture) handle(t *testing.T, eventType webhookdomain.EventType, env *webhookdomain.Envelope) {
	t.Helper()
	require.NoError(t, f.svc.HandleEvent(context.Background(), eventType, env))
}

func (f *fixture) subscription(t *testing.T) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.repo.FindByID(context.Background(), f.db, subID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func (f *fixture) user(t *testing.T) *entitlementdomain.User {
	t.Helper()
	user, err := f.ent.FindUser(context.Background(), f.db, userID)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func TestActivatedFutureStartIsTrial(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusPending)
	start := now.Add(14 * 24 * time.Hour)

	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(start.Unix(), start.Add(30*24*time.Hour).Unix()))

	sub := f.subscription(t)
	require.Equal(t, subscriptiondomain.StatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	require.True(t, sub.TrialEndsAt.Equal(start))
	require.EqualValues(t, 1, sub.Version)

	user := f.user(t)
	require.Equal(t, "creator_pro", user.SubscriptionTier)
	require.Equal(t, "trialing", user.Status())
	require.NotNil(t, user.SubscriptionEndAt)
	require.True(t, user.SubscriptionEndAt.Equal(start))
}

func TestActivatedPastStartIsActive(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusPending)

	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(now.Add(-time.Minute).Unix(), now.Add(30*24*time.Hour).Unix()))

	require.Equal(t, subscriptiondomain.StatusActive, f.subscription(t).Status)
	user := f.user(t)
	require.Equal(t, "active", user.Status())
	limits, ok := user.Limits()
	require.True(t, ok)
	require.Equal(t, proLimits, limits)
}

func TestTwoChargesIssueSequentialInvoices(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	end := now.Add(30 * 24 * time.Hour).Unix()

	f.handle(t, webhookdomain.EventSubscriptionCharged, chargedEvent("pay_1", end))
	f.handle(t, webhookdomain.EventSubscriptionCharged, chargedEvent("pay_2", end))

	sub := f.subscription(t)
	require.Equal(t, 2, sub.RenewalCount)
	require.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	require.NotNil(t, sub.LastPaymentID)
	require.Equal(t, "pay_2", *sub.LastPaymentID)

	var numbers []string
	require.NoError(t, f.db.Table("invoices").Where("user_id = ?", userID).Order("invoice_number").Pluck("invoice_number", &numbers).Error)
	require.Equal(t, []string{"INV-USER1-0001", "INV-USER1-0002"}, numbers)

	var payments int64
	require.NoError(t, f.db.Table("payments").Where("user_id = ?", userID).Count(&payments).Error)
	require.EqualValues(t, 2, payments)

	user := f.user(t)
	require.True(t, user.TrialUsed)
	require.Equal(t, "creator_pro", user.SubscriptionTier)
}

func TestReplayedChargeIsNotCountedTwice(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	env := chargedEvent("pay_1", now.Add(30*24*time.Hour).Unix())

	f.handle(t, webhookdomain.EventSubscriptionCharged, env)
	f.handle(t, webhookdomain.EventSubscriptionCharged, env)

	require.Equal(t, 1, f.subscription(t).RenewalCount)
	var invoices int64
	require.NoError(t, f.db.Table("invoices").Count(&invoices).Error)
	require.EqualValues(t, 1, invoices)
}

func TestChargeBeforeActivationConverts(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusPending)

	f.handle(t, webhookdomain.EventSubscriptionCharged, chargedEvent("pay_1", now.Add(30*24*time.Hour).Unix()))
	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(now.Add(-time.Hour).Unix(), now.Add(30*24*time.Hour).Unix()))

	sub := f.subscription(t)
	require.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	require.Equal(t, 1, sub.RenewalCount)
	require.Equal(t, "creator_pro", f.user(t).SubscriptionTier)
}

func TestCancellationDowngradesToFree(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusPending)
	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(now.Add(-time.Hour).Unix(), 0))
	require.Equal(t, "creator_pro", f.user(t).SubscriptionTier)

	f.handle(t, webhookdomain.EventSubscriptionCancelled, subscriptionEvent(0, 0))
	f.handle(t, webhookdomain.EventSubscriptionCancelled, subscriptionEvent(0, 0))

	sub := f.subscription(t)
	require.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	require.False(t, sub.AutoRenew)

	user := f.user(t)
	require.Equal(t, entitlementdomain.TierFree, user.SubscriptionTier)
	limits, ok := user.Limits()
	require.True(t, ok)
	require.Equal(t, freeLimits, limits)

	// A late activation must not resurrect the subscription.
	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(now.Add(-time.Hour).Unix(), 0))
	require.Equal(t, subscriptiondomain.StatusCanceled, f.subscription(t).Status)
	require.Equal(t, entitlementdomain.TierFree, f.user(t).SubscriptionTier)
}

func TestPendingEnqueuesDunning(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	env := subscriptionEvent(0, 0)
	env.Payload.Payment = &webhookdomain.PaymentWrapper{Entity: webhookdomain.PaymentEntity{ID: "pay_x", ErrorDescription: "insufficient funds"}}

	f.handle(t, webhookdomain.EventSubscriptionPending, env)

	sub := f.subscription(t)
	require.Equal(t, subscriptiondomain.StatusPending, sub.Status)
	require.Equal(t, 1, sub.FailureCount)
	require.NotNil(t, sub.LastFailureReason)
	require.Equal(t, "insufficient funds", *sub.LastFailureReason)

	jobs, err := automationrepo.Pending(context.Background(), f.db, automationdomain.JobTypeDunningNotice)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Contains(t, string(jobs[0].Payload), "insufficient funds")
}

func TestHaltedDowngrades(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusPending)
	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(now.Add(-time.Hour).Unix(), 0))

	f.handle(t, webhookdomain.EventSubscriptionHalted, subscriptionEvent(0, 0))

	require.Equal(t, subscriptiondomain.StatusHalted, f.subscription(t).Status)
	user := f.user(t)
	require.Equal(t, entitlementdomain.TierFree, user.SubscriptionTier)
	require.Equal(t, "halted", user.Status())
}

func TestUnknownSubscriptionIsNoop(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	env := subscriptionEvent(0, 0)
	env.Payload.Subscription.Entity.ID = "sub_foreign"

	f.handle(t, webhookdomain.EventSubscriptionCancelled, env)
	require.Equal(t, subscriptiondomain.StatusActive, f.subscription(t).Status)
}

func TestHandleEventRejectsMissingEntity(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	err := f.svc.HandleEvent(context.Background(), webhookdomain.EventSubscriptionCancelled, &webhookdomain.Envelope{})
	require.ErrorIs(t, err, webhookdomain.ErrInvalidPayload)
}

func TestUpdateVersionedRejectsStaleVersion(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	ctx := context.Background()

	stale := f.subscription(t)
	fresh := f.subscription(t)

	fresh.Status = subscriptiondomain.StatusPastDue
	ok, err := f.repo.UpdateVersioned(ctx, f.db, fresh, fresh.Version)
	require.NoError(t, err)
	require.True(t, ok)

	stale.Status = subscriptiondomain.StatusCanceled
	ok, err = f.repo.UpdateVersioned(ctx, f.db, stale, stale.Version)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, subscriptiondomain.StatusPastDue, f.subscription(t).Status)
}

func TestExpireTrials(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusPending)
	ctx := context.Background()
	start := now.Add(7 * 24 * time.Hour)
	f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(start.Unix(), 0))

	f.clock.Set(start.Add(time.Hour))
	users, err := entitlementrepo.Provide().ListExpiredTrials(ctx, f.db, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, users, 1)

	settled, err := f.svc.ExpireTrials(ctx, users)
	require.NoError(t, err)
	require.Equal(t, 1, settled)

	user := f.user(t)
	require.Equal(t, entitlementdomain.TierFree, user.SubscriptionTier)
	require.Equal(t, "expired", user.Status())

	users, err = entitlementrepo.Provide().ListExpiredTrials(ctx, f.db, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, users)
}

// conflictingRepo loses the version race a fixed number of times, or forever
// when conflicts is negative.
type conflictingRepo struct {
	subscriptiondomain.Repository
	conflicts int
	calls     int
}

func (r *conflictingRepo) UpdateVersioned(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription, expected int64) (bool, error) {
	r.calls++
	if r.conflicts != 0 {
		if r.conflicts > 0 {
			r.conflicts--
		}
		return false, nil
	}
	return r.Repository.UpdateVersioned(ctx, db, sub, expected)
}

func (f *fixture) withRepo(repo subscriptiondomain.Repository) *Service {
	params := f.params
	params.Repo = repo
	return NewService(params)
}

func TestChargeRetriesAfterVersionConflict(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	repo := &conflictingRepo{Repository: f.repo, conflicts: 1}
	svc := f.withRepo(repo)

	err := svc.HandleEvent(context.Background(), webhookdomain.EventSubscriptionCharged, chargedEvent("pay_1", now.Add(30*24*time.Hour).Unix()))
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)

	sub := f.subscription(t)
	require.Equal(t, 1, sub.RenewalCount)
	require.EqualValues(t, 1, sub.Version)

	var payments, invoices int64
	require.NoError(t, f.db.Table("payments").Count(&payments).Error)
	require.NoError(t, f.db.Table("invoices").Count(&invoices).Error)
	require.EqualValues(t, 1, payments)
	require.EqualValues(t, 1, invoices)
}

func TestChargeGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	repo := &conflictingRepo{Repository: f.repo, conflicts: -1}
	svc := f.withRepo(repo)

	err := svc.HandleEvent(context.Background(), webhookdomain.EventSubscriptionCharged, chargedEvent("pay_1", now.Add(30*24*time.Hour).Unix()))
	require.ErrorIs(t, err, subscriptiondomain.ErrVersionConflict)
	require.Equal(t, maxVersionAttempts, repo.calls)

	sub := f.subscription(t)
	require.Zero(t, sub.RenewalCount)
	require.Zero(t, sub.Version)
	require.Nil(t, sub.LastPaymentID)

	var payments, invoices int64
	require.NoError(t, f.db.Table("payments").Count(&payments).Error)
	require.NoError(t, f.db.Table("invoices").Count(&invoices).Error)
	require.Zero(t, payments)
	require.Zero(t, invoices)

	user := f.user(t)
	require.False(t, user.TrialUsed)
	require.Equal(t, entitlementdomain.TierFree, user.SubscriptionTier)
}

func (f *fixture) seedProducts(t *testing.T, owner snowflake.ID, count int) []snowflake.ID {
	t.Helper()
	ids := make([]snowflake.ID, 0, count)
	for i := 0; i < count; i++ {
		id := snowflake.ID(int64(owner)*10 + int64(i) + 1)
		created := now.Add(time.Duration(i-count) * time.Hour)
		require.NoError(t, f.db.Create(&automationdomain.Product{
			ID: id, CreatorID: owner, Name: "product", CreatedAt: created, UpdatedAt: created,
		}).Error)
		ids = append(ids, id)
	}
	return ids
}

func (f *fixture) activeProducts(t *testing.T, owner snowflake.ID) []snowflake.ID {
	t.Helper()
	var ids []snowflake.ID
	require.NoError(t, f.db.Table("products").
		Where("creator_id = ? AND status = ? AND is_active = ?", owner, entitlementdomain.ProductStatusActive, true).
		Order("id").Pluck("id", &ids).Error)
	return ids
}

func TestRunOutSubscriptionParksExcessProducts(t *testing.T) {
	for _, event := range []webhookdomain.EventType{
		webhookdomain.EventSubscriptionExpired,
		webhookdomain.EventSubscriptionCompleted,
	} {
		t.Run(event.String(), func(t *testing.T) {
			f := newFixture(t, subscriptiondomain.StatusPending)
			f.handle(t, webhookdomain.EventSubscriptionActivated, subscriptionEvent(now.Add(-time.Hour).Unix(), 0))
			mine := f.seedProducts(t, userID, 3)
			theirs := f.seedProducts(t, 900, 2)

			f.handle(t, event, subscriptionEvent(0, 0))

			require.Equal(t, subscriptiondomain.StatusExpired, f.subscription(t).Status)
			user := f.user(t)
			require.Equal(t, entitlementdomain.TierFree, user.SubscriptionTier)
			require.Equal(t, "expired", user.Status())

			require.Equal(t, mine[:freeLimits.MaxProducts], f.activeProducts(t, userID))
			require.Equal(t, theirs, f.activeProducts(t, 900))

			var drafted int64
			require.NoError(t, f.db.Table("products").Where("creator_id = ? AND status = ?", userID, entitlementdomain.ProductStatusDraft).Count(&drafted).Error)
			require.EqualValues(t, 2, drafted)
		})
	}
}

func TestCancellationKeepsProducts(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusActive)
	mine := f.seedProducts(t, userID, 3)

	f.handle(t, webhookdomain.EventSubscriptionCancelled, subscriptionEvent(0, 0))

	require.Equal(t, entitlementdomain.TierFree, f.user(t).SubscriptionTier)
	require.Equal(t, mine, f.activeProducts(t, userID))
}

// failingResolver refuses to downgrade one user.
type failingResolver struct {
	entitlementdomain.Resolver
	failFor snowflake.ID
}

var errDowngrade = errors.New("downgrade refused")

func (r failingResolver) Downgrade(ctx context.Context, tx *gorm.DB, target entitlementdomain.Target, reason string) error {
	if target.UserID == r.failFor {
		return errDowngrade
	}
	return r.Resolver.Downgrade(ctx, tx, target, reason)
}

func TestExpireTrialsContinuesPastFailingUser(t *testing.T) {
	f := newFixture(t, subscriptiondomain.StatusTrialing)
	ctx := context.Background()

	const otherID snowflake.ID = 101
	trialing := "trialing"
	ended := now.Add(-time.Hour)
	require.NoError(t, f.db.Create(&entitlementdomain.User{
		ID: otherID, Email: "user2@example.com", SubscriptionTier: "creator_pro",
		SubscriptionStatus: &trialing, SubscriptionEndAt: &ended, CreatedAt: now, UpdatedAt: now,
	}).Error)

	params := f.params
	params.Entitlements = failingResolver{Resolver: f.ent, failFor: userID}
	svc := NewService(params)

	poisoned := f.user(t)
	other, err := f.ent.FindUser(ctx, f.db, otherID)
	require.NoError(t, err)

	settled, err := svc.ExpireTrials(ctx, []entitlementdomain.User{*poisoned, *other})
	require.ErrorIs(t, err, errDowngrade)
	require.Equal(t, 1, settled)

	other, err = f.ent.FindUser(ctx, f.db, otherID)
	require.NoError(t, err)
	require.Equal(t, entitlementdomain.TierFree, other.SubscriptionTier)
	require.Equal(t, "expired", other.Status())
}
