package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const planCacheSize = 256

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Config     *config.EntitlementConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics             `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	config     *config.EntitlementConfigHolder
	obsMetrics *obsmetrics.Metrics

	plans *expirable.LRU[string, domain.Plan]
	group singleflight.Group
}

func NewService(p Params) domain.Resolver {
	return newService(p)
}

func newService(p Params) *Service {
	ttl := time.Duration(p.Config.Get().PlanCacheSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Service{
		log:        p.Log.Named("entitlement.resolver"),
		clock:      clk,
		repo:       p.Repo,
		config:     p.Config,
		obsMetrics: p.ObsMetrics,
		plans:      expirable.NewLRU[string, domain.Plan](planCacheSize, nil, ttl),
	}
}

// Refresh copies the subscription's plan onto the user. A missing plan leaves
// tier and limits as they are and only syncs status and end date.
func (s *Service) Refresh(ctx context.Context, tx *gorm.DB, target domain.Target, reason string) error {
	plan, err := s.planByID(ctx, tx, target.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		s.logger(ctx).Warn("plan not found, syncing status only",
			zap.String("plan_id", target.PlanID.String()),
			zap.String("user_id", target.UserID.String()),
		)
		return s.SyncStatus(ctx, tx, target)
	}

	limits := plan.Limits.Data()
	subscriptionID := target.SubscriptionID
	update := domain.UserUpdate{
		Tier:                 &plan.Tier,
		Limits:               &limits,
		Status:               &target.Status,
		EndAt:                target.EndAt,
		ActiveSubscriptionID: &subscriptionID,
		UpdatedAt:            s.clock.Now(),
	}
	if err := s.apply(ctx, tx, target.UserID, update); err != nil {
		return err
	}
	s.obsMetrics.RecordEntitlementChange(ctx, plan.Tier, reason)
	return nil
}

// Downgrade moves the user to the free tier. Applying it twice is harmless.
func (s *Service) Downgrade(ctx context.Context, tx *gorm.DB, target domain.Target, reason string) error {
	limits, err := s.FreeLimits(ctx, tx)
	if err != nil {
		return err
	}

	tier := domain.TierFree
	now := s.clock.Now()
	update := domain.UserUpdate{
		Tier:      &tier,
		Limits:    &limits,
		Status:    &target.Status,
		EndAt:     target.EndAt,
		UpdatedAt: now,
	}
	if err := s.apply(ctx, tx, target.UserID, update); err != nil {
		return err
	}

	if target.TrimProducts {
		drafted, err := s.repo.DeactivateExcessProducts(ctx, tx, target.UserID, max(limits.MaxProducts, 0), now)
		if err != nil {
			return err
		}
		if drafted > 0 {
			s.logger(ctx).Info("excess products deactivated",
				zap.String("user_id", target.UserID.String()),
				zap.Int64("count", drafted),
				zap.Int("kept", limits.MaxProducts),
			)
		}
	}

	s.obsMetrics.RecordEntitlementChange(ctx, tier, reason)
	return nil
}

func (s *Service) SyncStatus(ctx context.Context, tx *gorm.DB, target domain.Target) error {
	return s.apply(ctx, tx, target.UserID, domain.UserUpdate{
		Status:    &target.Status,
		EndAt:     target.EndAt,
		UpdatedAt: s.clock.Now(),
	})
}

func (s *Service) MarkTrialUsed(ctx context.Context, tx *gorm.DB, userID snowflake.ID) error {
	used := true
	return s.apply(ctx, tx, userID, domain.UserUpdate{
		TrialUsed: &used,
		UpdatedAt: s.clock.Now(),
	})
}

func (s *Service) FindUser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*domain.User, error) {
	return s.repo.FindUser(ctx, tx, userID)
}

// FreeLimits returns the free plan's limits, falling back to the configured
// defaults when no free plan row exists.
func (s *Service) FreeLimits(ctx context.Context, tx *gorm.DB) (domain.PlanLimits, error) {
	plan, err := s.cachedPlan(ctx, "tier:"+domain.TierFree, func() (*domain.Plan, error) {
		return s.repo.FindPlanByTier(ctx, tx, domain.TierFree)
	})
	if err != nil {
		return domain.PlanLimits{}, err
	}
	if plan != nil {
		return plan.Limits.Data(), nil
	}

	fallback := s.config.Get().FreeTier
	return domain.PlanLimits{
		MaxProducts:       fallback.MaxProducts,
		MaxStorageMb:      fallback.MaxStorageMb,
		MaxTeamMembers:    fallback.MaxTeamMembers,
		MaxAiGenerations:  fallback.MaxAiGenerations,
		CustomDomain:      fallback.CustomDomain,
		CanRemoveBranding: fallback.CanRemoveBranding,
	}, nil
}

func (s *Service) planByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, nil
	}
	return s.cachedPlan(ctx, "id:"+id.String(), func() (*domain.Plan, error) {
		return s.repo.FindPlan(ctx, tx, id)
	})
}

// cachedPlan serves plans from the LRU and collapses concurrent misses for
// the same key into one query. Misses are not cached.
func (s *Service) cachedPlan(ctx context.Context, key string, load func() (*domain.Plan, error)) (*domain.Plan, error) {
	if plan, ok := s.plans.Get(key); ok {
		return &plan, nil
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		if plan, ok := s.plans.Get(key); ok {
			return &plan, nil
		}
		plan, err := load()
		if err != nil || plan == nil {
			return plan, err
		}
		s.plans.Add(key, *plan)
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	plan, _ := result.(*domain.Plan)
	return plan, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, userID snowflake.ID, update domain.UserUpdate) error {
	found, err := s.repo.UpdateUser(ctx, tx, userID, update)
	if err != nil {
		return err
	}
	if !found {
		s.logger(ctx).Debug("user not found for entitlement update", zap.String("user_id", userID.String()))
	}
	return nil
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
