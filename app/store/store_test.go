package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/store"
	"github.com/joe02740/wmapp/app/store/storetest"
)

var t0 = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestUserInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	users := s.Repos().Users

	created, err := users.Insert(ctx, "auth0|a", "a@example.com", "A", t0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = users.Insert(ctx, "auth0|a", "other@example.com", "Other", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	u, err := users.Get(ctx, "auth0|a")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Nil(t, u.SubscriptionEndDate)
	assert.True(t, u.CreatedAt.Equal(t0))
}

func TestUserTouchOnlyRecordsVisit(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	users := s.Repos().Users

	_, err := users.Insert(ctx, "u1", "u1@example.com", "Uno", t0)
	require.NoError(t, err)
	require.NoError(t, users.Touch(ctx, "u1", t0.Add(time.Hour)))

	u, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", u.Email)
	assert.Equal(t, "Uno", u.Name)
	assert.True(t, u.LastSeenAt.Equal(t0.Add(time.Hour)))

	assert.Equal(t, models.TierFree, u.Tier)

	assert.ErrorIs(t, users.Touch(ctx, "missing", t0), store.ErrNotFound)
}

func TestUserGetMissing(t *testing.T) {
	s := storetest.New(t)
	_, err := s.Repos().Users.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpireLapsed(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	users := s.Repos().Users

	_, err := users.Insert(ctx, "u1", "", "", t0)
	require.NoError(t, err)
	end := t0.Add(24 * time.Hour)
	require.NoError(t, users.SetSubscription(ctx, "u1", models.Subscription{
		Tier: models.TierBasic, EndDate: &end, SubscriptionRef: "sub_1",
	}))

	changed, err := users.ExpireLapsed(ctx, "u1", t0)
	require.NoError(t, err)
	assert.False(t, changed, "term has not ended")

	changed, err = users.ExpireLapsed(ctx, "u1", end.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	u, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Nil(t, u.SubscriptionEndDate)
	assert.Equal(t, "sub_1", u.BillingSubscriptionRef, "ref kept so the subscription can still be canceled")
}

func TestLookupByBillingRefs(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	users := s.Repos().Users

	_, err := users.Insert(ctx, "u1", "", "", t0)
	require.NoError(t, err)
	require.NoError(t, users.SetCustomerRef(ctx, "u1", "cus_1"))
	require.NoError(t, users.SetSubscription(ctx, "u1", models.Subscription{Tier: models.TierPro, SubscriptionRef: "sub_9"}))

	u, err := users.GetByCustomerRef(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	u, err = users.GetBySubscriptionRef(ctx, "sub_9")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = users.GetByCustomerRef(ctx, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = users.GetByCustomerRef(ctx, "cus_unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsageCountBetweenIsHalfOpen(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	_, err := s.Repos().Users.Insert(ctx, "u1", "", "", t0)
	require.NoError(t, err)

	usage := s.Repos().Usage
	for _, at := range []time.Time{t0.Add(-time.Nanosecond), t0, t0.Add(time.Hour), t0.Add(24 * time.Hour)} {
		_, err := usage.Insert(ctx, models.UsageEvent{UserID: "u1", QueryText: "q", ScopeTag: "mass_laws", TokensConsumed: 5, CreatedAt: at})
		require.NoError(t, err)
	}

	n, err := usage.CountBetween(ctx, "u1", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := usage.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	recent, err := usage.Recent(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].CreatedAt.Equal(t0.Add(24*time.Hour)))
	assert.True(t, recent[1].CreatedAt.Equal(t0.Add(time.Hour)))
}

func TestUsageRejectsNegativeTokens(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	_, err := s.Repos().Users.Insert(ctx, "u1", "", "", t0)
	require.NoError(t, err)

	_, err = s.Repos().Usage.Insert(ctx, models.UsageEvent{UserID: "u1", QueryText: "q", ScopeTag: "hb44", TokensConsumed: -1, CreatedAt: t0})
	assert.Error(t, err)
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	err := store.InTx(ctx, s, func(r store.Repositories) error {
		if _, err := r.Users.Insert(ctx, "u1", "", "", t0); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.Repos().Users.Get(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatSessionsAndMessages(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	_, err := s.Repos().Users.Insert(ctx, "u1", "", "", t0)
	require.NoError(t, err)
	chats := s.Repos().Chats

	first, err := chats.CreateSession(ctx, "u1", "first", t0)
	require.NoError(t, err)
	second, err := chats.CreateSession(ctx, "u1", "second", t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = chats.AppendMessages(ctx, first.ID, []models.ChatMessage{
		{Text: "hello", Sender: models.SenderUser},
		{Text: "hi there", Sender: models.SenderAssistant},
		{Text: "follow up", Sender: models.SenderUser},
	}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.NoError(t, chats.TouchSession(ctx, first.ID, "", t0.Add(2*time.Minute)))

	list, err := chats.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "first", list[0].Title)
	assert.Equal(t, second.ID, list[1].ID)

	msgs, err := chats.Messages(ctx, first.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, models.SenderAssistant, msgs[1].Sender)

	tail, err := chats.Messages(ctx, first.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "hi there", tail[0].Text)
	assert.Equal(t, "follow up", tail[1].Text)

	_, err = chats.GetSession(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBillingEventLedger(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	ledger := s.Repos().BillingEvents

	seen, err := ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	fresh, err := ledger.Record(ctx, "evt_1", "invoice.paid", "u1", t0)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = ledger.Record(ctx, "evt_1", "invoice.paid", "u1", t0)
	require.NoError(t, err)
	assert.False(t, fresh)

	seen, err = ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := store.SQLiteDSN("/tmp/x.db")
	assert.Contains(t, dsn, "file:/tmp/x.db?")
	assert.Contains(t, dsn, "foreign_keys(1)")
	assert.Contains(t, dsn, "_txlock=immediate")
}

func TestSQLiteWriterWaitsForHeldWriteLock(t *testing.T) {
	ctx := context.Background()

	t.Run("gives up after the busy timeout", func(t *testing.T) {
		s := storetest.New(t, store.WithBusyTimeout(100*time.Millisecond))
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = s.Repos().Users.Insert(ctx, "other", "", "", t0)
		assert.Error(t, err)
	})

	t.Run("proceeds once the holder commits", func(t *testing.T) {
		s := storetest.New(t, store.WithBusyTimeout(5*time.Second))
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = tx.Commit()
		}()

		start := time.Now()
		_, err = s.Repos().Users.Insert(ctx, "other", "", "", t0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	})
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := store.Open(context.Background(), "mysql://localhost/db")
	assert.Error(t, err)
}
