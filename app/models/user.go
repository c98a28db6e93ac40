// Package models defines subscription tiers, users and the records attributed to them.
package models

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Tiers lists every tier the service sells, cheapest first.
var Tiers = []Tier{TierFree, TierBasic, TierPro}

// ParseTier normalizes s and reports whether it names a known tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierFree, TierBasic, TierPro:
		return t, true
	}
	return "", false
}

// IsPaid reports whether the tier is bought through the billing provider.
func (t Tier) IsPaid() bool {
	return t == TierBasic || t == TierPro
}

type User struct {
	ID                     string     `json:"id" db:"id"`
	Email                  string     `json:"email,omitempty" db:"email"`
	Name                   string     `json:"name,omitempty" db:"name"`
	Tier                   Tier       `json:"subscription_tier" db:"subscription_tier"`
	SubscriptionEndDate    *time.Time `json:"subscription_end_date" db:"subscription_end_date"`
	BillingCustomerRef     string     `json:"-" db:"billing_customer_ref"`
	BillingSubscriptionRef string     `json:"-" db:"billing_subscription_ref"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	LastSeenAt             time.Time  `json:"last_seen_at" db:"last_seen_at"`
}

// Lapsed reports whether a paid term ended before now and the user is due
// to fall back to the free tier.
func (u User) Lapsed(now time.Time) bool {
	return u.Tier != TierFree && u.SubscriptionEndDate != nil && u.SubscriptionEndDate.Before(now)
}

// HasActiveSubscription reports whether the billing provider still holds a
// subscription for the user.
func (u User) HasActiveSubscription() bool {
	return u.BillingSubscriptionRef != ""
}

// Subscription is the tier state written by a lifecycle transition. Every
// transition writes all three fields so that replaying it is a no-op.
type Subscription struct {
	Tier            Tier
	EndDate         *time.Time
	SubscriptionRef string
}
