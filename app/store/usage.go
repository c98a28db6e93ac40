package store

import (
	"context"
	"time"

	"github.com/joe02740/wmapp/app/models"
)

type UsageRepository struct{ c conn }

func (r *UsageRepository) Insert(ctx context.Context, e models.UsageEvent) (int64, error) {
	var id int64
	err := r.c.queryRow(ctx, `
		INSERT INTO usage_events (user_id, query_text, scope_tag, tokens_consumed, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		e.UserID, e.QueryText, e.ScopeTag, e.TokensConsumed, utc(e.CreatedAt)).Scan(&id)
	return id, err
}

// CountBetween counts the user's events with from <= created_at < to.
func (r *UsageRepository) CountBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	err := r.c.queryRow(ctx, `
		SELECT COUNT(*) FROM usage_events
		WHERE user_id = ? AND created_at >= ? AND created_at < ?`,
		userID, utc(from), utc(to)).Scan(&n)
	return n, err
}

func (r *UsageRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.c.queryRow(ctx, `SELECT COUNT(*) FROM usage_events WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// Recent returns the newest events first.
func (r *UsageRepository) Recent(ctx context.Context, userID string, limit int) ([]models.UsageEvent, error) {
	rows, err := r.c.query(ctx, `
		SELECT id, user_id, query_text, scope_tag, tokens_consumed, created_at
		FROM usage_events
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.UsageEvent{}
	for rows.Next() {
		var e models.UsageEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.QueryText, &e.ScopeTag, &e.TokensConsumed, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
