package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
)

// Kind is the lifecycle transition a billing notification maps to.
type Kind string

const (
	KindCheckoutCompleted Kind = "checkout_completed"
	KindRenewed           Kind = "renewed"
	KindCanceled          Kind = "canceled"
	KindIgnored           Kind = "ignored"
)

// Event is a verified billing notification reduced to what the lifecycle
// needs.
type Event struct {
	ID              string
	Type            string
	Kind            Kind
	UserID          string
	Tier            models.Tier
	CustomerRef     string
	SubscriptionRef string
	PeriodEnd       *time.Time
}

// DecodeEvent maps a Stripe event onto a lifecycle transition. Types that
// carry no transition decode to KindIgnored; a handled type with a payload
// that cannot drive its transition is an invalid request.
func DecodeEvent(ev stripe.Event) (Event, error) {
	out := Event{ID: ev.ID, Type: string(ev.Type), Kind: KindIgnored}
	if ev.ID == "" {
		return out, apperr.InvalidRequest("event id missing")
	}
	if ev.Data == nil {
		return out, apperr.InvalidRequest("event data missing")
	}

	switch ev.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return out, apperr.Wrap(apperr.CategoryInvalidRequest, "invalid session payload", err)
		}
		return decodeCheckout(out, sess)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return out, apperr.Wrap(apperr.CategoryInvalidRequest, "invalid invoice payload", err)
		}
		return decodeInvoice(out, inv), nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return out, apperr.Wrap(apperr.CategoryInvalidRequest, "invalid subscription payload", err)
		}
		return decodeSubscription(out, ev.Type == "customer.subscription.deleted", sub)
	}
	return out, nil
}

func decodeCheckout(out Event, sess stripe.CheckoutSession) (Event, error) {
	out.UserID = sess.ClientReferenceID
	if out.UserID == "" {
		out.UserID = sess.Metadata["user_id"]
	}
	if out.UserID == "" {
		return out, apperr.InvalidRequest("checkout session has no user reference")
	}

	tier, ok := models.ParseTier(sess.Metadata["tier"])
	if !ok || !tier.IsPaid() {
		return out, apperr.InvalidRequest("checkout session has no paid tier")
	}
	out.Tier = tier

	if sess.Customer != nil {
		out.CustomerRef = sess.Customer.ID
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return out, apperr.InvalidRequest("checkout session has no subscription")
	}
	out.SubscriptionRef = sess.Subscription.ID
	out.PeriodEnd = unixPtr(sess.Subscription.CurrentPeriodEnd)
	out.Kind = KindCheckoutCompleted
	return out, nil
}

func decodeInvoice(out Event, inv stripe.Invoice) Event {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// one-off invoice
		return out
	}
	out.Kind = KindRenewed
	out.SubscriptionRef = inv.Subscription.ID
	if inv.Customer != nil {
		out.CustomerRef = inv.Customer.ID
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				out.PeriodEnd = laterOf(out.PeriodEnd, unixPtr(line.Period.End))
			}
		}
	}
	return out
}

func decodeSubscription(out Event, deleted bool, sub stripe.Subscription) (Event, error) {
	if sub.ID == "" {
		return out, apperr.InvalidRequest("subscription payload has no id")
	}
	out.SubscriptionRef = sub.ID
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}

	if deleted {
		out.Kind = KindCanceled
	} else {
		switch sub.Status {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
			out.Kind = KindRenewed
			out.PeriodEnd = unixPtr(sub.CurrentPeriodEnd)
		case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
			out.Kind = KindCanceled
		default:
			// past_due and incomplete keep the paid term until it lapses
			return out, nil
		}
	}
	if out.Kind == KindCanceled && out.CustomerRef == "" {
		return out, apperr.InvalidRequest("subscription payload has no customer")
	}
	return out, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	}
	return a
}
