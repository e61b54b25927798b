package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creatorpay/internal/automation"
	"github.com/smallbiznis/creatorpay/internal/automation/crypto"
	automationdomain "github.com/smallbiznis/creatorpay/internal/automation/domain"
	automationrepo "github.com/smallbiznis/creatorpay/internal/automation/repository"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/entitlement"
	entitlementdomain "github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	"github.com/smallbiznis/creatorpay/internal/invoice"
	"github.com/smallbiznis/creatorpay/internal/observability"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"github.com/smallbiznis/creatorpay/internal/order"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	orderrepo "github.com/smallbiznis/creatorpay/internal/order/repository"
	"github.com/smallbiznis/creatorpay/internal/ratelimit"
	"github.com/smallbiznis/creatorpay/internal/scheduler"
	"github.com/smallbiznis/creatorpay/internal/server"
	"github.com/smallbiznis/creatorpay/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/creatorpay/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/creatorpay/internal/subscription/repository"
	"github.com/smallbiznis/creatorpay/internal/testutil"
	"github.com/smallbiznis/creatorpay/internal/webhook"
	"github.com/smallbiznis/creatorpay/internal/webhook/signature"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_e2e"
	channelSecret = "e2e-master-secret"
)

var now = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	app       *fxtest.App
	server    *server.Server
	scheduler *scheduler.Scheduler
	db        *gorm.DB
	clock     *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		db:    testutil.OpenDB(t),
		clock: clock.NewFakeClock(now),
	}

	cfg := config.Config{
		AppName:     "creatorpay",
		Environment: "test",
		HTTPAddr:    "127.0.0.1:0",
		DBType:      "sqlite",
	}
	cfg.Webhook.RazorpaySecret = webhookSecret
	cfg.Webhook.PendingSweepAfterSeconds = 900
	cfg.Webhook.MaxReplayAttempts = 5
	cfg.Automation.ChannelTokenKeys = map[int]string{1: channelSecret}
	cfg.Scheduler.BatchSize = 10

	env.app = fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Supply(env.db),
		fx.Supply(zap.NewNop()),
		fx.Supply(observability.Config{}),
		fx.Supply(testutil.Node(t)),
		fx.Provide(func() clock.Clock { return env.clock }),
		fx.Provide(func() *obsmetrics.HTTPMetrics { return nil }),
		fx.Provide(config.NewEntitlementConfigHolder),

		ratelimit.Module,
		webhook.Module,
		entitlement.Module,
		invoice.Module,
		automation.Module,
		subscription.Module,
		order.Module,
		scheduler.Module,
		server.Module,

		fx.Populate(&env.server, &env.scheduler),
	)
	env.app.RequireStart()
	t.Cleanup(env.app.RequireStop)

	env.seed(t)
	return env
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	free := entitlementdomain.PlanLimits{MaxProducts: 1, MaxStorageMb: 100}
	pro := entitlementdomain.PlanLimits{MaxProducts: 100, MaxStorageMb: 20480, MaxTeamMembers: 3, CustomDomain: true}
	for _, plan := range []entitlementdomain.Plan{
		{ID: 1, Name: "Free", Tier: entitlementdomain.TierFree, Limits: datatypes.NewJSONType(free)},
		{ID: 2, Name: "Creator Pro", Tier: "creator_pro", Limits: datatypes.NewJSONType(pro), PriceAmount: 49900},
	} {
		plan.Currency = "INR"
		plan.BillingInterval = "monthly"
		plan.CreatedAt = now
		plan.UpdatedAt = now
		require.NoError(t, e.db.Create(&plan).Error)
	}

	username := "maya"
	require.NoError(t, e.db.Create(&entitlementdomain.User{
		ID: 100, Username: &username, Email: "maya@example.com",
		SubscriptionTier: entitlementdomain.TierFree, CreatedAt: now, UpdatedAt: now,
	}).Error)
	require.NoError(t, subscriptionrepo.Provide().Insert(ctx, e.db, &subscriptiondomain.Subscription{
		ID: 500, UserID: 100, PlanID: 2, ExternalSubscriptionID: "sub_E2E",
		Status: subscriptiondomain.StatusPending, AutoRenew: true, CreatedAt: now, UpdatedAt: now,
	}))

	keys, err := crypto.NewKeyring(map[int]string{1: channelSecret})
	require.NoError(t, err)
	sealed, err := keys.Encrypt("ig-page-token")
	require.NoError(t, err)
	dm := "Thanks for buying!"
	require.NoError(t, e.db.Create(&automationdomain.Product{
		ID: 20, CreatorID: 100, Name: "Preset pack", PostPurchaseDMTemplate: &dm,
		CreatedAt: now, UpdatedAt: now,
	}).Error)
	require.NoError(t, e.db.Create(&automationdomain.CreatorChannel{
		ID: 40, CreatorID: 100, Channel: "instagram", Status: automationdomain.ChannelStatusActive,
		EncryptedToken: sealed.Ciphertext, TokenIV: sealed.IV, TokenTag: sealed.Tag, KeyVersion: sealed.KeyVersion,
		CreatedAt: now, UpdatedAt: now,
	}).Error)

	metadata := `{"dm_recipient_id":"ig-buyer-9"}`
	require.NoError(t, orderrepo.Provide().Insert(ctx, e.db, &orderdomain.Order{
		ID: 1, ExternalOrderID: "order_E2E", Status: orderdomain.StatusPending,
		PaymentStatus: orderdomain.PaymentStatusPending, CustomerEmail: "buyer@example.com",
		TotalAmount: 99900, Currency: "INR", Metadata: &metadata,
		CreatedAt: now, UpdatedAt: now,
	}, []orderdomain.OrderItem{{ID: 2, OrderID: 1, ProductID: 20, Quantity: 1, UnitAmount: 99900}}))
}

func (e *testEnv) post(t *testing.T, body, sig string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("X-Razorpay-Signature", sig)
	}
	rec := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["status"]
}

func (e *testEnv) postSigned(t *testing.T, body string) string {
	t.Helper()
	return e.post(t, body, signature.Sign([]byte(body), webhookSecret))
}

func subscriptionBody(eventID, event, extra string) string {
	return fmt.Sprintf(`{"id":%q,"event":%q,"payload":{"subscription":{"entity":{"id":"sub_E2E","start_at":%d,"current_end":%d}}%s}}`,
		eventID, event, now.Add(-time.Minute).Unix(), now.Add(30*24*time.Hour).Unix(), extra)
}

func TestSubscriptionLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, "ok", env.postSigned(t, subscriptionBody("evt_act", "subscription.activated", "")))

	charged := subscriptionBody("evt_chg", "subscription.charged",
		`,"payment":{"entity":{"id":"pay_S1","amount":49900,"currency":"INR","status":"captured"}}`)
	require.Equal(t, "ok", env.postSigned(t, charged))
	require.Equal(t, "already_processed", env.postSigned(t, charged))

	var user entitlementdomain.User
	require.NoError(t, env.db.First(&user, 100).Error)
	require.Equal(t, "creator_pro", user.SubscriptionTier)
	require.Equal(t, "active", user.Status())

	var numbers []string
	require.NoError(t, env.db.Table("invoices").Order("invoice_number").Pluck("invoice_number", &numbers).Error)
	require.Equal(t, []string{"INV-MAYA-0001"}, numbers)

	require.Equal(t, "ok", env.postSigned(t, subscriptionBody("evt_cxl", "subscription.cancelled", "")))
	require.NoError(t, env.db.First(&user, 100).Error)
	require.Equal(t, entitlementdomain.TierFree, user.SubscriptionTier)
	require.Equal(t, "canceled", user.Status())
}

func TestOrderCaptureQueuesAutomation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	body := `{"id":"evt_pay","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_O1","order_id":"order_E2E","amount":99900,"currency":"INR","status":"captured","email":"buyer@example.com"}}}}`
	require.Equal(t, "ok", env.postSigned(t, body))

	var stored orderdomain.Order
	require.NoError(t, env.db.First(&stored, 1).Error)
	require.Equal(t, orderdomain.StatusCompleted, stored.Status)

	dm, err := automationrepo.Pending(ctx, env.db, automationdomain.JobTypeDMDelivery)
	require.NoError(t, err)
	require.Len(t, dm, 1)
	require.Contains(t, string(dm[0].Payload), "ig-page-token")

	delivery, err := automationrepo.Pending(ctx, env.db, automationdomain.JobTypeDigitalDelivery)
	require.NoError(t, err)
	require.Len(t, delivery, 1)
}

func TestUnsignedDeliveryIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	body := subscriptionBody("evt_forged", "subscription.activated", "")
	require.Equal(t, "ignored", env.post(t, body, ""))
	require.Equal(t, "ignored", env.post(t, body, signature.Sign([]byte(body), "wrong")))

	var count int64
	require.NoError(t, env.db.Table("webhook_events").Count(&count).Error)
	require.Zero(t, count)
}

func TestSchedulerRunOnceWithNothingToDo(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.scheduler.RunOnce(context.Background()))
}
