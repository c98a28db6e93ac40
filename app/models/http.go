package models

import "time"

type QueryRequest struct {
	Query     string `json:"query" binding:"required"`
	Scope     string `json:"scope"`
	SessionID int64  `json:"session_id"`
}

type QueryResponse struct {
	Response   string       `json:"response"`
	TokensUsed int          `json:"tokens_used"`
	Scope      string       `json:"scope"`
	Usage      UsageSummary `json:"usage"`
}

// UsageSummary reports consumption against the caller's limits. Nil limits
// mean the tier is unlimited. Total is only reported by the usage endpoint.
type UsageSummary struct {
	Daily        int  `json:"daily"`
	DailyLimit   *int `json:"daily_limit"`
	Monthly      int  `json:"monthly"`
	MonthlyLimit *int `json:"monthly_limit"`
	Total        *int `json:"total,omitempty"`
}

type UsageResponse struct {
	UserID              string       `json:"user_id"`
	SubscriptionTier    Tier         `json:"subscription_tier"`
	SubscriptionEndDate *time.Time   `json:"subscription_end_date"`
	Usage               UsageSummary `json:"usage"`
	RecentQueries       []UsageEvent `json:"recent_queries"`
}

type CheckoutRequest struct {
	Tier string `json:"tier" binding:"required"`
}

type SubscribeRequest struct {
	Tier string `json:"tier" binding:"required"`
}

type ChatMessageInput struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type ChatSaveRequest struct {
	Title    string             `json:"title"`
	Messages []ChatMessageInput `json:"messages"`
}

type ErrorResponse struct {
	Error            string `json:"error"`
	Category         string `json:"category"`
	Reason           string `json:"reason,omitempty"`
	UpgradeAvailable bool   `json:"upgrade_available,omitempty"`
}
