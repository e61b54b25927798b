package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	"github.com/smallbiznis/creatorpay/internal/automation/mocks"
	"github.com/smallbiznis/creatorpay/internal/automation/repository"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func strptr(s string) *string { return &s }

func seedProduct(t *testing.T, db *gorm.DB, id, creator snowflake.ID, dm, email string) {
	t.Helper()
	p := domain.Product{ID: id, CreatorID: creator, Name: "Preset pack", CreatedAt: fixedNow, UpdatedAt: fixedNow}
	if dm != "" {
		p.PostPurchaseDMTemplate = strptr(dm)
	}
	if email != "" {
		p.PostPurchaseEmailTemplate = strptr(email)
	}
	require.NoError(t, db.Create(&p).Error)
}

func seedChannel(t *testing.T, db *gorm.DB, id, creator snowflake.ID) {
	t.Helper()
	require.NoError(t, db.Create(&domain.CreatorChannel{
		ID: id, CreatorID: creator, Channel: "instagram", Status: domain.ChannelStatusActive,
		EncryptedToken: "c1", TokenIV: "i1", TokenTag: "t1", KeyVersion: 1,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}).Error)
}

func TestDispatchCaptureEnqueuesEachBranch(t *testing.T) {
	db := testutil.OpenDB(t)
	ctrl := gomock.NewController(t)
	keys := mocks.NewMockTokenDecrypter(ctrl)
	fulfiller := mocks.NewMockFulfiller(ctrl)

	seedProduct(t, db, 100, 9, "thanks {{name}}", "your files")
	seedChannel(t, db, 50, 9)

	keys.EXPECT().Decrypt(domain.EncryptedToken{Ciphertext: "c1", IV: "i1", Tag: "t1", KeyVersion: 1}).Return("plain-token", nil)
	fulfiller.EXPECT().FulfillOrder(gomock.Any(), snowflake.ID(1)).Return(nil)

	queue := repository.NewQueue(repository.QueueParams{GenID: testutil.Node(t), Clock: clock.NewFakeClock(fixedNow)})
	d := NewDispatcher(DispatcherParams{
		DB: db, Log: zap.NewNop(), Catalog: repository.NewCatalog(),
		Queue: queue, Keys: keys, Fulfiller: fulfiller,
	})

	report := d.DispatchCapture(context.Background(), domain.CaptureContext{
		OrderID:       1,
		CustomerEmail: "buyer@example.com",
		RecipientID:   "ig-123",
		ProductIDs:    []snowflake.ID{100, 100},
	})
	require.Equal(t, domain.DispatchReport{DMJobs: 1, EmailJobs: 1, Fulfillment: true}, report)

	dms, err := repository.Pending(context.Background(), db, domain.JobTypeDMDelivery)
	require.NoError(t, err)
	require.Len(t, dms, 1)
	require.Contains(t, string(dms[0].Payload), "plain-token")
	require.Contains(t, string(dms[0].Payload), "ig-123")
}

func TestDispatchCaptureBranchFailuresAreIsolated(t *testing.T) {
	db := testutil.OpenDB(t)
	ctrl := gomock.NewController(t)
	keys := mocks.NewMockTokenDecrypter(ctrl)
	fulfiller := mocks.NewMockFulfiller(ctrl)
	queue := mocks.NewMockEnqueuer(ctrl)

	seedProduct(t, db, 100, 9, "dm", "email")
	seedChannel(t, db, 50, 9)

	keys.EXPECT().Decrypt(gomock.Any()).Return("", domain.ErrTokenCorrupt)
	queue.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *gorm.DB, req domain.EnqueueRequest) (bool, error) {
			require.Equal(t, domain.JobTypeOneOffEmail, req.Type)
			return false, errors.New("queue down")
		})
	fulfiller.EXPECT().FulfillOrder(gomock.Any(), snowflake.ID(2)).Return(nil)

	d := NewDispatcher(DispatcherParams{
		DB: db, Log: zap.NewNop(), Catalog: repository.NewCatalog(),
		Queue: queue, Keys: keys, Fulfiller: fulfiller,
	})

	report := d.DispatchCapture(context.Background(), domain.CaptureContext{
		OrderID:       2,
		CustomerEmail: "buyer@example.com",
		RecipientID:   "ig-123",
		ProductIDs:    []snowflake.ID{100},
	})
	require.Equal(t, 2, report.Failures)
	require.True(t, report.Fulfillment)
	require.Zero(t, report.DMJobs)
	require.Zero(t, report.EmailJobs)
}

func TestDispatchCaptureSkipsWithoutRecipientOrChannel(t *testing.T) {
	db := testutil.OpenDB(t)
	ctrl := gomock.NewController(t)
	keys := mocks.NewMockTokenDecrypter(ctrl)
	fulfiller := mocks.NewMockFulfiller(ctrl)
	queue := mocks.NewMockEnqueuer(ctrl)

	seedProduct(t, db, 100, 9, "dm", "")
	seedProduct(t, db, 101, 10, "dm", "")
	fulfiller.EXPECT().FulfillOrder(gomock.Any(), gomock.Any()).Return(errors.New("boom"))

	d := NewDispatcher(DispatcherParams{
		DB: db, Log: zap.NewNop(), Catalog: repository.NewCatalog(),
		Queue: queue, Keys: keys, Fulfiller: fulfiller,
	})

	report := d.DispatchCapture(context.Background(), domain.CaptureContext{
		OrderID:     3,
		RecipientID: "ig-1",
		ProductIDs:  []snowflake.ID{100, 101, 555},
	})
	require.False(t, report.Fulfillment)
	require.Equal(t, 1, report.Failures)
	require.Zero(t, report.DMJobs)
}

func TestFulfillerAndDunningAreIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	queue := repository.NewQueue(repository.QueueParams{GenID: testutil.Node(t), Clock: clock.NewFakeClock(fixedNow)})

	f := NewFulfiller(FulfillerParams{DB: db, Queue: queue})
	require.NoError(t, f.FulfillOrder(ctx, 7))
	require.NoError(t, f.FulfillOrder(ctx, 7))
	require.NoError(t, f.RevokeOrder(ctx, 7, "refund"))

	deliveries, err := repository.Pending(ctx, db, domain.JobTypeDigitalDelivery)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	revocations, err := repository.Pending(ctx, db, domain.JobTypeDigitalRevocation)
	require.NoError(t, err)
	require.Len(t, revocations, 1)

	dn := NewDunning(DunningParams{Queue: queue})
	notice := domain.DunningNotice{SubscriptionID: 5, UserID: 6, Reason: "card_declined", FailureCount: 1}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return dn.EnqueueDunning(ctx, tx, notice)
	}))
	require.NoError(t, dn.EnqueueDunning(ctx, db, notice))
	notice.FailureCount = 2
	require.NoError(t, dn.EnqueueDunning(ctx, db, notice))

	notices, err := repository.Pending(ctx, db, domain.JobTypeDunningNotice)
	require.NoError(t, err)
	require.Len(t, notices, 2)
}
