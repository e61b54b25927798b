package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	"github.com/smallbiznis/creatorpay/internal/entitlement/repository"
	"github.com/smallbiznis/creatorpay/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newResolver(t *testing.T, holder *config.EntitlementConfigHolder) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	svc := newService(Params{
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(now),
		Repo:   repository.Provide(),
		Config: holder,
	})
	return svc, db
}

func seedPlan(t *testing.T, db *gorm.DB, id snowflake.ID, tier string, limits domain.PlanLimits) {
	t.Helper()
	plan := domain.Plan{
		ID:              id,
		Name:            tier,
		Tier:            tier,
		Limits:          datatypes.NewJSONType(limits),
		Currency:        "INR",
		BillingInterval: "monthly",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, db.Create(&plan).Error)
}

func seedUser(t *testing.T, db *gorm.DB, id snowflake.ID, tier string) {
	t.Helper()
	user := domain.User{
		ID:               id,
		Email:            "creator@example.com",
		SubscriptionTier: tier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, db.Create(&user).Error)
}

func TestRefreshCopiesPlanOntoUser(t *testing.T) {
	svc, db := newResolver(t, nil)
	ctx := context.Background()
	pro := domain.PlanLimits{MaxProducts: 50, MaxStorageMb: 10240, MaxTeamMembers: 5, MaxAiGenerations: 500, CustomDomain: true, CanRemoveBranding: true}
	seedPlan(t, db, 10, "pro", pro)
	seedUser(t, db, 1, "free")

	end := now.Add(30 * 24 * time.Hour)
	err := svc.Refresh(ctx, db, domain.Target{UserID: 1, SubscriptionID: 77, PlanID: 10, Status: "active", EndAt: &end}, "activated")
	require.NoError(t, err)

	user, err := svc.FindUser(ctx, db, 1)
	require.NoError(t, err)
	require.Equal(t, "pro", user.SubscriptionTier)
	require.Equal(t, "active", user.Status())
	require.NotNil(t, user.ActiveSubscriptionID)
	require.EqualValues(t, 77, *user.ActiveSubscriptionID)
	require.NotNil(t, user.SubscriptionEndAt)
	require.True(t, user.SubscriptionEndAt.Equal(end))
	limits, ok := user.Limits()
	require.True(t, ok)
	require.Equal(t, pro, limits)
}

func TestRefreshWithMissingPlanSyncsStatusOnly(t *testing.T) {
	svc, db := newResolver(t, nil)
	ctx := context.Background()
	seedUser(t, db, 1, "starter")

	err := svc.Refresh(ctx, db, domain.Target{UserID: 1, PlanID: 999, Status: "trialing"}, "activated")
	require.NoError(t, err)

	user, err := svc.FindUser(ctx, db, 1)
	require.NoError(t, err)
	require.Equal(t, "starter", user.SubscriptionTier)
	require.Equal(t, "trialing", user.Status())
	_, ok := user.Limits()
	require.False(t, ok)
}

func TestDowngradeUsesFreePlanRow(t *testing.T) {
	svc, db := newResolver(t, nil)
	ctx := context.Background()
	free := domain.PlanLimits{MaxProducts: 3, MaxStorageMb: 250}
	seedPlan(t, db, 1, domain.TierFree, free)
	seedUser(t, db, 5, "pro")

	target := domain.Target{UserID: 5, Status: "canceled"}
	require.NoError(t, svc.Downgrade(ctx, db, target, "cancelled"))
	require.NoError(t, svc.Downgrade(ctx, db, target, "cancelled"))

	user, err := svc.FindUser(ctx, db, 5)
	require.NoError(t, err)
	require.Equal(t, domain.TierFree, user.SubscriptionTier)
	require.Equal(t, "canceled", user.Status())
	limits, ok := user.Limits()
	require.True(t, ok)
	require.Equal(t, free, limits)
}

func TestDowngradeFallsBackToConfiguredLimits(t *testing.T) {
	cfg := config.DefaultEntitlementConfig()
	cfg.FreeTier.MaxProducts = 2
	svc, db := newResolver(t, config.NewStaticEntitlementConfigHolder(cfg))
	ctx := context.Background()
	seedUser(t, db, 5, "pro")

	require.NoError(t, svc.Downgrade(ctx, db, domain.Target{UserID: 5, Status: "halted"}, "halted"))

	user, err := svc.FindUser(ctx, db, 5)
	require.NoError(t, err)
	limits, ok := user.Limits()
	require.True(t, ok)
	require.Equal(t, domain.PlanLimits{MaxProducts: 2, MaxStorageMb: 100}, limits)
}

func TestPlanLookupsAreCached(t *testing.T) {
	svc, db := newResolver(t, nil)
	ctx := context.Background()
	seedPlan(t, db, 10, "pro", domain.PlanLimits{MaxProducts: 50})
	seedUser(t, db, 1, "free")

	target := domain.Target{UserID: 1, PlanID: 10, Status: "active"}
	require.NoError(t, svc.Refresh(ctx, db, target, "activated"))

	// a deleted plan row keeps being served until the entry expires
	require.NoError(t, db.Exec(`DELETE FROM plans WHERE id = ?`, 10).Error)
	require.NoError(t, svc.Refresh(ctx, db, target, "charged"))

	user, err := svc.FindUser(ctx, db, 1)
	require.NoError(t, err)
	require.Equal(t, "pro", user.SubscriptionTier)
}

func TestUpdatesForMissingUserAreNoops(t *testing.T) {
	svc, db := newResolver(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Downgrade(ctx, db, domain.Target{UserID: 404, Status: "canceled"}, "cancelled"))
	require.NoError(t, svc.MarkTrialUsed(ctx, db, 404))
	user, err := svc.FindUser(ctx, db, 404)
	require.NoError(t, err)
	require.Nil(t, user)
}
