package store

import (
	"context"
	"time"
)

// BillingEventRepository is the ledger of billing provider notifications
// that have been applied.
type BillingEventRepository struct{ c conn }

func (r *BillingEventRepository) Seen(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.c.queryRow(ctx, `SELECT COUNT(*) FROM billing_events WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// Record marks id as applied. It reports false if id was already recorded.
func (r *BillingEventRepository) Record(ctx context.Context, id, eventType, userID string, at time.Time) (bool, error) {
	res, err := r.c.exec(ctx, `
		INSERT INTO billing_events (id, type, user_id, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		id, eventType, userID, utc(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
