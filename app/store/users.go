package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joe02740/wmapp/app/models"
)

type UserRepository struct{ c conn }

const userColumns = `id, email, name, subscription_tier, subscription_end_date,
	billing_customer_ref, billing_subscription_ref, created_at, last_seen_at`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var (
		u    models.User
		tier string
		end  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &tier, &end,
		&u.BillingCustomerRef, &u.BillingSubscriptionRef, &u.CreatedAt, &u.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u.Tier = models.Tier(tier)
	u.SubscriptionEndDate = timePtr(end)
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastSeenAt = u.LastSeenAt.UTC()
	return u, nil
}

// Insert creates a free-tier user and reports whether a row was created.
// An existing row is left untouched.
func (r *UserRepository) Insert(ctx context.Context, id, email, name string, now time.Time) (bool, error) {
	res, err := r.c.exec(ctx, `
		INSERT INTO users (id, email, name, subscription_tier, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		id, email, name, string(models.TierFree), utc(now), utc(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Touch records a visit. Only last_seen_at changes; the profile and tier
// stored at registration are left alone.
func (r *UserRepository) Touch(ctx context.Context, id string, now time.Time) error {
	res, err := r.c.exec(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, utc(now), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *UserRepository) Get(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetForUpdate loads the user and locks the row until the surrounding
// transaction ends.
func (r *UserRepository) GetForUpdate(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.c.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`+r.c.dialect.forUpdate(), id))
}

func (r *UserRepository) GetByCustomerRef(ctx context.Context, ref string) (models.User, error) {
	if ref == "" {
		return models.User{}, ErrNotFound
	}
	return scanUser(r.c.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE billing_customer_ref = ?`+r.c.dialect.forUpdate(), ref))
}

func (r *UserRepository) GetBySubscriptionRef(ctx context.Context, ref string) (models.User, error) {
	if ref == "" {
		return models.User{}, ErrNotFound
	}
	return scanUser(r.c.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE billing_subscription_ref = ?
		ORDER BY last_seen_at DESC LIMIT 1`+r.c.dialect.forUpdate(), ref))
}

// ExpireLapsed moves the user to the free tier if their paid term ended
// before now. It reports whether the row changed; a concurrent renewal that
// pushed the end date forward wins. The subscription ref is kept so the
// provider subscription can still be canceled.
func (r *UserRepository) ExpireLapsed(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.c.exec(ctx, `
		UPDATE users
		SET subscription_tier = ?, subscription_end_date = NULL
		WHERE id = ?
			AND subscription_tier <> ?
			AND subscription_end_date IS NOT NULL
			AND subscription_end_date < ?`,
		string(models.TierFree), id, string(models.TierFree), utc(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetSubscription writes all three subscription fields at once.
func (r *UserRepository) SetSubscription(ctx context.Context, id string, sub models.Subscription) error {
	res, err := r.c.exec(ctx, `
		UPDATE users
		SET subscription_tier = ?, subscription_end_date = ?, billing_subscription_ref = ?
		WHERE id = ?`,
		string(sub.Tier), nullTime(sub.EndDate), sub.SubscriptionRef, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *UserRepository) SetCustomerRef(ctx context.Context, id, ref string) error {
	res, err := r.c.exec(ctx, `UPDATE users SET billing_customer_ref = ? WHERE id = ?`, ref, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
