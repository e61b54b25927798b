package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/testutil"
	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var node, _ = snowflake.NewNode(1)

func newEvent(eventID string, receivedAt time.Time) *domain.WebhookEvent {
	body := []byte(`{"id":"` + eventID + `","event":"payment.captured"}`)
	return &domain.WebhookEvent{
		ID:          node.Generate(),
		EventID:     eventID,
		Platform:    domain.PlatformRazorpay,
		EventType:   string(domain.EventPaymentCaptured),
		PayloadHash: domain.PayloadHash(body),
		Payload:     datatypes.JSON(body),
		ReceivedAt:  receivedAt,
	}
}

func TestRecordPendingIsIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	seen, err := repo.HasProcessed(ctx, db, "evt_1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, repo.RecordPending(ctx, db, newEvent("evt_1", now)))

	err = repo.RecordPending(ctx, db, newEvent("evt_1", now))
	require.True(t, errors.Is(err, domain.ErrEventAlreadyProcessed), "got %v", err)

	seen, err = repo.HasProcessed(ctx, db, "evt_1")
	require.NoError(t, err)
	require.True(t, seen)

	stored, err := repo.Find(ctx, db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, domain.EventStatusPending, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.Nil(t, stored.ProcessedAt)
}

func TestRecordPendingConcurrentDuplicatesInsertOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.RecordPending(ctx, db, newEvent("evt_race", now))
			if err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, inserted)

	var count int64
	require.NoError(t, db.Model(&domain.WebhookEvent{}).Where("event_id = ?", "evt_race").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestMarkProcessedAndFailed(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordPending(ctx, db, newEvent("evt_fail", now)))
	require.NoError(t, repo.MarkFailed(ctx, db, "evt_fail", "boom", now.Add(time.Second)))

	stored, err := repo.Find(ctx, db, "evt_fail")
	require.NoError(t, err)
	require.Equal(t, domain.EventStatusError, stored.Status)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "boom", *stored.LastError)

	require.NoError(t, repo.MarkProcessed(ctx, db, "evt_fail", now.Add(2*time.Second)))
	stored, err = repo.Find(ctx, db, "evt_fail")
	require.NoError(t, err)
	require.Equal(t, domain.EventStatusProcessed, stored.Status)
	require.NotNil(t, stored.ProcessedAt)
	require.Nil(t, stored.LastError)

	// processed rows are never downgraded back to error
	require.NoError(t, repo.MarkFailed(ctx, db, "evt_fail", "late", now.Add(3*time.Second)))
	stored, err = repo.Find(ctx, db, "evt_fail")
	require.NoError(t, err)
	require.Equal(t, domain.EventStatusProcessed, stored.Status)

	require.ErrorIs(t, repo.MarkProcessed(ctx, db, "evt_missing", now), domain.ErrEventNotFound)
}

func TestClaimStale(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordPending(ctx, db, newEvent("evt_stuck", base)))
	require.NoError(t, repo.RecordPending(ctx, db, newEvent("evt_fresh", base.Add(20*time.Minute))))
	require.NoError(t, repo.RecordPending(ctx, db, newEvent("evt_done", base)))
	require.NoError(t, repo.MarkProcessed(ctx, db, "evt_done", base.Add(time.Second)))
	require.NoError(t, repo.RecordPending(ctx, db, newEvent("evt_err", base)))
	require.NoError(t, repo.MarkFailed(ctx, db, "evt_err", "boom", base.Add(time.Second)))

	now := base.Add(30 * time.Minute)
	filter := domain.ClaimFilter{
		OlderThan:   now.Add(-15 * time.Minute),
		MaxAttempts: 2,
		Limit:       10,
		Now:         now,
	}

	claimed, err := repo.ClaimStale(ctx, db, filter)
	require.NoError(t, err)
	ids := map[string]int{}
	for _, item := range claimed {
		ids[item.EventID] = item.Attempts
	}
	require.Equal(t, map[string]int{"evt_stuck": 2, "evt_err": 2}, ids)

	// claimed rows were touched at now, and attempts reached the ceiling
	filter.OlderThan = now.Add(time.Minute)
	claimed, err = repo.ClaimStale(ctx, db, filter)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "evt_fresh", claimed[0].EventID)
}
