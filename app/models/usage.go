package models

import "time"

// UsageEvent is one answered query. Events are append-only.
type UsageEvent struct {
	ID             int64     `json:"id" db:"id"`
	UserID         string    `json:"-" db:"user_id"`
	QueryText      string    `json:"query" db:"query_text"`
	ScopeTag       string    `json:"scope" db:"scope_tag"`
	TokensConsumed int       `json:"tokens_used" db:"tokens_consumed"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// BillingEvent marks a billing provider notification as applied.
type BillingEvent struct {
	ID          string    `db:"id"`
	Type        string    `db:"type"`
	UserID      string    `db:"user_id"`
	ProcessedAt time.Time `db:"processed_at"`
}
