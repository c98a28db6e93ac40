// Package billing drives the subscription lifecycle: checkout, provider
// notifications and manual downgrades.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/config"
	"github.com/joe02740/wmapp/app/metrics"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/store"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Service struct {
	store         store.Transactor
	gateway       Gateway
	prices        map[models.Tier]string
	frontendURL   string
	webhookSecret string
	now           func() time.Time
	log           zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New builds the service. gateway may be nil when no billing provider is
// configured; provider operations then fail with upstream_unavailable.
func New(s store.Transactor, gateway Gateway, cfg config.StripeConfig, opts ...Option) *Service {
	svc := &Service{
		store:   s,
		gateway: gateway,
		prices: map[models.Tier]string{
			models.TierBasic: cfg.PriceIDBasic,
			models.TierPro:   cfg.PriceIDPro,
		},
		frontendURL:   cfg.FrontendURL,
		webhookSecret: cfg.WebhookSecret,
		now:           time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Checkout starts a subscription purchase for u and returns the hosted
// checkout URL. The user's provider customer is created on first use.
func (s *Service) Checkout(ctx context.Context, u models.User, rawTier string) (string, error) {
	tier, ok := models.ParseTier(rawTier)
	if !ok || !tier.IsPaid() {
		return "", apperr.InvalidRequest("tier must be basic or pro")
	}
	priceID := s.prices[tier]
	if s.gateway == nil || priceID == "" || s.frontendURL == "" {
		return "", apperr.Upstream("billing not configured", ErrNotConfigured)
	}

	customerRef, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerRef: customerRef,
		PriceID:     priceID,
		UserID:      u.ID,
		Tier:        tier,
		SuccessURL:  s.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.frontendURL + "/billing/cancel",
	})
	if err != nil {
		return "", apperr.Upstream("failed to create checkout session", err)
	}
	return url, nil
}

func (s *Service) ensureCustomer(ctx context.Context, u models.User) (string, error) {
	if u.BillingCustomerRef != "" {
		return u.BillingCustomerRef, nil
	}
	ref, err := s.gateway.CreateCustomer(ctx, u.ID, u.Email)
	if err != nil {
		return "", apperr.Upstream("failed to prepare billing", err)
	}
	if err := s.store.Repos().Users.SetCustomerRef(ctx, u.ID, ref); err != nil {
		return "", apperr.Persistence(err)
	}
	s.log.Info().Str("user_id", u.ID).Str("customer", ref).Msg("created billing customer")
	return ref, nil
}

// PortalURL returns a self-service billing portal link for u.
func (s *Service) PortalURL(ctx context.Context, u models.User) (string, error) {
	if u.BillingCustomerRef == "" {
		return "", apperr.InvalidRequest("no billing account for user")
	}
	if s.gateway == nil || s.frontendURL == "" {
		return "", apperr.Upstream("billing not configured", ErrNotConfigured)
	}
	url, err := s.gateway.CreatePortalSession(ctx, u.BillingCustomerRef, s.frontendURL+"/settings/billing")
	if err != nil {
		return "", apperr.Upstream("failed to create portal session", err)
	}
	return url, nil
}

// ManualUpdate changes the user's tier on request. Only downgrading to free
// is allowed here; paid tiers go through Checkout. An active provider
// subscription is canceled first, and the user row is left untouched if
// that fails.
func (s *Service) ManualUpdate(ctx context.Context, userID, rawTier string) (models.User, error) {
	tier, ok := models.ParseTier(rawTier)
	if !ok {
		return models.User{}, apperr.InvalidRequest("invalid tier")
	}
	if tier != models.TierFree {
		return models.User{}, apperr.InvalidRequest("paid tiers are purchased through checkout")
	}

	users := s.store.Repos().Users
	u, err := users.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return models.User{}, apperr.Persistence(err)
	}

	if u.HasActiveSubscription() {
		if s.gateway == nil {
			return models.User{}, apperr.Upstream("billing not configured", ErrNotConfigured)
		}
		if err := s.gateway.CancelSubscription(ctx, u.BillingSubscriptionRef); err != nil {
			return models.User{}, apperr.Upstream("failed to cancel subscription", err)
		}
		s.log.Info().Str("user_id", u.ID).Str("subscription", u.BillingSubscriptionRef).Msg("canceled subscription on request")
	}

	free := models.Subscription{Tier: models.TierFree}
	if err := users.SetSubscription(ctx, u.ID, free); err != nil {
		return models.User{}, apperr.Persistence(err)
	}
	u.Tier, u.SubscriptionEndDate, u.BillingSubscriptionRef = free.Tier, free.EndDate, free.SubscriptionRef
	return u, nil
}

// ConstructEvent verifies the provider signature over payload and decodes
// it. Nothing is written.
func (s *Service) ConstructEvent(ctx context.Context, payload []byte, signature string) (Event, error) {
	if s.webhookSecret == "" {
		return Event{}, apperr.Upstream("webhook not configured", ErrNotConfigured)
	}
	raw, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, apperr.Wrap(apperr.CategoryInvalidRequest, "signature verification failed", err)
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		return ev, err
	}
	if ev.needsPeriodEnd() {
		if s.gateway == nil {
			return ev, apperr.Upstream("billing not configured", ErrNotConfigured)
		}
		end, err := s.gateway.SubscriptionPeriodEnd(ctx, ev.SubscriptionRef)
		if err != nil {
			return ev, apperr.Upstream("failed to load subscription", err)
		}
		ev.PeriodEnd = &end
	}
	return ev, nil
}

func (e Event) needsPeriodEnd() bool {
	return (e.Kind == KindCheckoutCompleted || e.Kind == KindRenewed) && e.PeriodEnd == nil && e.SubscriptionRef != ""
}

// Apply performs the transition for ev. The user change and the ledger
// entry for ev.ID commit together, so a redelivered event is reported as
// a duplicate and changes nothing. Events that match no user write nothing.
func (s *Service) Apply(ctx context.Context, ev Event) (Outcome, error) {
	outcome, err := s.apply(ctx, ev)
	if err != nil {
		metrics.BillingEvents.WithLabelValues(ev.Type, "error").Inc()
		return outcome, err
	}
	metrics.BillingEvents.WithLabelValues(ev.Type, string(outcome)).Inc()
	s.log.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Str("kind", string(ev.Kind)).
		Str("outcome", string(outcome)).
		Msg("billing event processed")
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, ev Event) (Outcome, error) {
	if ev.Kind == KindIgnored {
		return OutcomeIgnored, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	defer tx.Rollback()
	repos := tx.Repos()

	u, err := s.resolveUser(ctx, repos.Users, ev)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warn().Str("event_id", ev.ID).Str("type", ev.Type).Msg("billing event matches no user")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", apperr.Persistence(err)
	}

	seen, err := repos.BillingEvents.Seen(ctx, ev.ID)
	if err != nil {
		return "", apperr.Persistence(err)
	}
	if seen {
		return OutcomeDuplicate, nil
	}

	next, ok := transition(u, ev)
	if !ok {
		return OutcomeIgnored, nil
	}
	if err := repos.Users.SetSubscription(ctx, u.ID, next); err != nil {
		return "", apperr.Persistence(err)
	}
	if ev.Kind == KindCheckoutCompleted && ev.CustomerRef != "" && u.BillingCustomerRef == "" {
		if err := repos.Users.SetCustomerRef(ctx, u.ID, ev.CustomerRef); err != nil {
			return "", apperr.Persistence(err)
		}
	}

	fresh, err := repos.BillingEvents.Record(ctx, ev.ID, ev.Type, u.ID, s.now())
	if err != nil {
		return "", apperr.Persistence(err)
	}
	if !fresh {
		return OutcomeDuplicate, nil
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.Persistence(err)
	}
	return OutcomeApplied, nil
}

// resolveUser finds and locks the user an event refers to.
func (s *Service) resolveUser(ctx context.Context, users *store.UserRepository, ev Event) (models.User, error) {
	switch ev.Kind {
	case KindCheckoutCompleted:
		return users.GetForUpdate(ctx, ev.UserID)
	case KindRenewed:
		return users.GetBySubscriptionRef(ctx, ev.SubscriptionRef)
	case KindCanceled:
		u, err := users.GetByCustomerRef(ctx, ev.CustomerRef)
		if errors.Is(err, store.ErrNotFound) {
			return users.GetBySubscriptionRef(ctx, ev.SubscriptionRef)
		}
		return u, err
	}
	return models.User{}, store.ErrNotFound
}

// transition computes the subscription state after ev. Every transition is
// a set of all three fields, and renewals never move the end date back,
// so applying an event twice leaves the same state.
func transition(u models.User, ev Event) (models.Subscription, bool) {
	switch ev.Kind {
	case KindCheckoutCompleted:
		return models.Subscription{Tier: ev.Tier, EndDate: ev.PeriodEnd, SubscriptionRef: ev.SubscriptionRef}, true

	case KindRenewed:
		if u.Tier == models.TierFree {
			// free users carry no end date; a late renewal for a
			// canceled subscription must not resurrect one
			return models.Subscription{}, false
		}
		return models.Subscription{
			Tier:            u.Tier,
			EndDate:         laterOf(u.SubscriptionEndDate, ev.PeriodEnd),
			SubscriptionRef: u.BillingSubscriptionRef,
		}, true

	case KindCanceled:
		if u.BillingSubscriptionRef != "" && ev.SubscriptionRef != "" && u.BillingSubscriptionRef != ev.SubscriptionRef {
			// cancellation of a subscription the user already replaced
			return models.Subscription{}, false
		}
		return models.Subscription{Tier: models.TierFree}, true
	}
	return models.Subscription{}, false
}
