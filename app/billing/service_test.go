package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/billing"
	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/registry"
	"github.com/joe02740/wmapp/app/store"
	"github.com/joe02740/wmapp/app/store/storetest"
)

const testSecret = "whsec_test"

type fakeGateway struct {
	customers  int
	checkouts  []billing.CheckoutParams
	canceled   []string
	cancelErr  error
	periodEnd  time.Time
	periodErr  error
	portalURLs []string
}

func (g *fakeGateway) CreateCustomer(_ context.Context, userID, _ string) (string, error) {
	g.customers++
	return "cus_" + userID, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (string, error) {
	g.checkouts = append(g.checkouts, p)
	return "https://checkout.test/" + string(p.Tier), nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, customerRef, returnURL string) (string, error) {
	g.portalURLs = append(g.portalURLs, returnURL)
	return "https://portal.test/" + customerRef, nil
}

func (g *fakeGateway) SubscriptionPeriodEnd(context.Context, string) (time.Time, error) {
	return g.periodEnd, g.periodErr
}

func (g *fakeGateway) CancelSubscription(_ context.Context, ref string) error {
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, ref)
	return nil
}

var now = time.Date(2025, time.April, 2, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*billing.Service, *store.Store, *fakeGateway) {
	t.Helper()
	s := storetest.New(t)
	gw := &fakeGateway{periodEnd: now.AddDate(0, 1, 0)}
	svc := billing.New(s, gw, config.StripeConfig{
		WebhookSecret: testSecret,
		PriceIDBasic:  "price_basic",
		PriceIDPro:    "price_pro",
		FrontendURL:   "https://app.test",
	}, billing.WithClock(func() time.Time { return now }))
	_, err := s.Repos().Users.Insert(context.Background(), "u1", "u1@example.com", "", now)
	require.NoError(t, err)
	return svc, s, gw
}

func signed(t *testing.T, payload map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: testSecret})
	return sp.Payload, sp.Header
}

func event(id, typ string, object map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	}
}

func checkoutEvent(id string, periodEnd time.Time) map[string]any {
	return event(id, "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": "u1",
		"customer":            "cus_u1",
		"metadata":            map[string]string{"tier": "pro", "user_id": "u1"},
		"subscription": map[string]any{
			"id":                 "sub_1",
			"object":             "subscription",
			"current_period_end": periodEnd.Unix(),
		},
	})
}

func deliver(t *testing.T, svc *billing.Service, payload map[string]any) (billing.Outcome, error) {
	t.Helper()
	body, sig := signed(t, payload)
	ev, err := svc.ConstructEvent(context.Background(), body, sig)
	if err != nil {
		return "", err
	}
	return svc.Apply(context.Background(), ev)
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	svc, s, _ := newService(t)
	end := now.AddDate(0, 1, 0)

	outcome, err := deliver(t, svc, checkoutEvent("evt_1", end))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, outcome)

	first, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, first.Tier)
	require.NotNil(t, first.SubscriptionEndDate)
	assert.True(t, first.SubscriptionEndDate.Equal(end))
	assert.Equal(t, "sub_1", first.BillingSubscriptionRef)
	assert.Equal(t, "cus_u1", first.BillingCustomerRef)

	outcome, err = deliver(t, svc, checkoutEvent("evt_1", end))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicate, outcome)

	second, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCheckoutFetchesPeriodEndWhenNotExpanded(t *testing.T) {
	svc, s, gw := newService(t)
	payload := event("evt_2", "checkout.session.completed", map[string]any{
		"id":                  "cs_2",
		"client_reference_id": "u1",
		"customer":            "cus_u1",
		"subscription":        "sub_2",
		"metadata":            map[string]string{"tier": "basic"},
	})

	_, err := deliver(t, svc, payload)
	require.NoError(t, err)

	u, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierBasic, u.Tier)
	require.NotNil(t, u.SubscriptionEndDate)
	assert.True(t, u.SubscriptionEndDate.Equal(gw.periodEnd))

	gw.periodErr = errors.New("stripe down")
	_, err = deliver(t, svc, event("evt_3", "checkout.session.completed", map[string]any{
		"client_reference_id": "u1",
		"subscription":        "sub_3",
		"metadata":            map[string]string{"tier": "basic"},
	}))
	assert.True(t, apperr.Is(err, apperr.CategoryUpstreamUnavailable))
}

func TestRenewalExtendsEndDateMonotonically(t *testing.T) {
	svc, s, _ := newService(t)
	end := now.AddDate(0, 1, 0)
	_, err := deliver(t, svc, checkoutEvent("evt_1", end))
	require.NoError(t, err)

	later := end.AddDate(0, 1, 0)
	invoice := func(id string, periodEnd time.Time) map[string]any {
		return event(id, "invoice.paid", map[string]any{
			"id":           "in_" + id,
			"customer":     "cus_u1",
			"subscription": "sub_1",
			"lines": map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"id": "il_1", "period": map[string]any{"start": end.Unix(), "end": periodEnd.Unix()}},
				},
			},
		})
	}

	outcome, err := deliver(t, svc, invoice("evt_r1", later))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, outcome)

	// an older invoice delivered out of order does not move the date back
	_, err = deliver(t, svc, invoice("evt_r0", end))
	require.NoError(t, err)

	u, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, u.Tier)
	require.NotNil(t, u.SubscriptionEndDate)
	assert.True(t, u.SubscriptionEndDate.Equal(later))
}

func TestRenewalForFreeUserIsIgnored(t *testing.T) {
	svc, s, _ := newService(t)
	require.NoError(t, s.Repos().Users.SetSubscription(context.Background(), "u1", models.Subscription{Tier: models.TierFree, SubscriptionRef: "sub_old"}))

	outcome, err := deliver(t, svc, event("evt_r", "customer.subscription.updated", map[string]any{
		"id":                 "sub_old",
		"customer":           "cus_u1",
		"status":             "active",
		"current_period_end": now.AddDate(0, 1, 0).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, outcome)

	u, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Nil(t, u.SubscriptionEndDate)
}

func TestSubscriptionDeletedDowngrades(t *testing.T) {
	svc, s, _ := newService(t)
	_, err := deliver(t, svc, checkoutEvent("evt_1", now.AddDate(0, 1, 0)))
	require.NoError(t, err)

	deleted := event("evt_d", "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"customer": "cus_u1",
		"status":   "canceled",
	})
	outcome, err := deliver(t, svc, deleted)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, outcome)

	u, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Nil(t, u.SubscriptionEndDate)
	assert.Empty(t, u.BillingSubscriptionRef)

	outcome, err = deliver(t, svc, deleted)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicate, outcome)
}

func TestStaleCancellationIsIgnored(t *testing.T) {
	svc, s, _ := newService(t)
	_, err := deliver(t, svc, checkoutEvent("evt_1", now.AddDate(0, 1, 0)))
	require.NoError(t, err)

	outcome, err := deliver(t, svc, event("evt_old", "customer.subscription.deleted", map[string]any{
		"id":       "sub_replaced",
		"customer": "cus_u1",
	}))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, outcome)

	u, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, u.Tier)
}

func TestCancelForUnknownCustomerMutatesNothing(t *testing.T) {
	svc, s, _ := newService(t)
	before, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)

	outcome, err := deliver(t, svc, event("evt_x", "customer.subscription.deleted", map[string]any{
		"id":       "sub_unknown",
		"customer": "cus_unknown",
	}))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, outcome)

	after, err := s.Repos().Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	seen, err := s.Repos().BillingEvents.Seen(context.Background(), "evt_x")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestUnhandledEventTypeIsIgnored(t *testing.T) {
	svc, _, _ := newService(t)
	outcome, err := deliver(t, svc, event("evt_p", "payment_intent.created", map[string]any{"id": "pi_1"}))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, outcome)
}

func TestBadSignatureRejected(t *testing.T) {
	svc, _, _ := newService(t)
	body, _ := signed(t, checkoutEvent("evt_1", now))
	_, err := svc.ConstructEvent(context.Background(), body, "t=1,v1=deadbeef")
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))
}

func TestMalformedCheckoutRejected(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := deliver(t, svc, event("evt_m", "checkout.session.completed", map[string]any{
		"id":           "cs_m",
		"subscription": "sub_m",
		"metadata":     map[string]string{"tier": "pro"},
	}))
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))
}

func TestCheckoutCreatesCustomerOnce(t *testing.T) {
	svc, s, gw := newService(t)
	ctx := context.Background()

	u, err := s.Repos().Users.Get(ctx, "u1")
	require.NoError(t, err)
	url, err := svc.Checkout(ctx, u, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/pro", url)
	require.Len(t, gw.checkouts, 1)
	assert.Equal(t, "price_pro", gw.checkouts[0].PriceID)
	assert.Equal(t, "u1", gw.checkouts[0].UserID)

	u, err = s.Repos().Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_u1", u.BillingCustomerRef)

	_, err = svc.Checkout(ctx, u, "basic")
	require.NoError(t, err)
	assert.Equal(t, 1, gw.customers)

	_, err = svc.Checkout(ctx, u, "free")
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))
}

func TestPortalRequiresCustomer(t *testing.T) {
	svc, _, gw := newService(t)
	_, err := svc.PortalURL(context.Background(), models.User{ID: "u1"})
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))

	url, err := svc.PortalURL(context.Background(), models.User{ID: "u1", BillingCustomerRef: "cus_u1"})
	require.NoError(t, err)
	assert.Equal(t, "https://portal.test/cus_u1", url)
	assert.Equal(t, []string{"https://app.test/settings/billing"}, gw.portalURLs)
}

func TestManualDowngradeCancelsSubscription(t *testing.T) {
	svc, s, gw := newService(t)
	ctx := context.Background()
	_, err := deliver(t, svc, checkoutEvent("evt_1", now.AddDate(0, 1, 0)))
	require.NoError(t, err)

	u, err := svc.ManualUpdate(ctx, "u1", "free")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Equal(t, []string{"sub_1"}, gw.canceled)

	stored, err := s.Repos().Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, stored.Tier)
	assert.Nil(t, stored.SubscriptionEndDate)
	assert.Empty(t, stored.BillingSubscriptionRef)
}

func TestManualDowngradeCancelsAfterLapse(t *testing.T) {
	svc, s, gw := newService(t)
	ctx := context.Background()
	ended := now.Add(-time.Minute)
	require.NoError(t, s.Repos().Users.SetSubscription(ctx, "u1", models.Subscription{
		Tier: models.TierPro, EndDate: &ended, SubscriptionRef: "sub_1",
	}))

	lapsed, err := registry.New(s, registry.WithClock(func() time.Time { return now })).Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, models.TierFree, lapsed.Tier)

	_, err = svc.ManualUpdate(ctx, "u1", "free")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_1"}, gw.canceled)

	stored, err := s.Repos().Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, stored.BillingSubscriptionRef)
}

func TestManualDowngradeKeepsStateWhenCancelFails(t *testing.T) {
	svc, s, gw := newService(t)
	ctx := context.Background()
	_, err := deliver(t, svc, checkoutEvent("evt_1", now.AddDate(0, 1, 0)))
	require.NoError(t, err)
	gw.cancelErr = errors.New("stripe down")

	_, err = svc.ManualUpdate(ctx, "u1", "free")
	assert.True(t, apperr.Is(err, apperr.CategoryUpstreamUnavailable))

	stored, err := s.Repos().Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, stored.Tier)
}

func TestManualUpdateRejectsPaidAndUnknownTiers(t *testing.T) {
	svc, _, _ := newService(t)
	for _, tier := range []string{"pro", "basic", "gold", ""} {
		_, err := svc.ManualUpdate(context.Background(), "u1", tier)
		assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest), tier)
	}
	_, err := svc.ManualUpdate(context.Background(), "ghost", "free")
	assert.True(t, apperr.Is(err, apperr.CategoryNotFound))
}
