// Package registry owns user identity records and the lazy downgrade of
// lapsed subscriptions.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/store"
)

type Registry struct {
	store store.Transactor
	now   func() time.Time
	log   zerolog.Logger
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func New(s store.Transactor, opts ...Option) *Registry {
	r := &Registry{store: s, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ensure creates the user on first sight and records the visit otherwise.
// The returned user reflects any downgrade of a lapsed subscription.
func (r *Registry) Ensure(ctx context.Context, id, email, name string) (models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.User{}, apperr.InvalidRequest("user id is required")
	}
	email, name = strings.TrimSpace(email), strings.TrimSpace(name)
	now := r.now()
	users := r.store.Repos().Users

	created, err := users.Insert(ctx, id, email, name, now)
	if err != nil {
		return models.User{}, apperr.Persistence(err)
	}
	if created {
		r.log.Info().Str("user_id", id).Msg("registered user")
	} else if err := users.Touch(ctx, id, now); err != nil {
		return models.User{}, apperr.Persistence(err)
	}
	return r.load(ctx, id, now)
}

// Get returns the user, downgrading a lapsed subscription first.
func (r *Registry) Get(ctx context.Context, id string) (models.User, error) {
	return r.load(ctx, id, r.now())
}

func (r *Registry) load(ctx context.Context, id string, now time.Time) (models.User, error) {
	users := r.store.Repos().Users
	u, err := users.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return models.User{}, apperr.Persistence(err)
	}
	return Expire(ctx, users, u, now, r.log)
}

// Expire applies the lazy downgrade to u, which must have been loaded
// through users. A paid tier whose end date passed becomes free with no end
// date. The subscription reference stays so a manual downgrade can still
// cancel it at the provider.
func Expire(ctx context.Context, users *store.UserRepository, u models.User, now time.Time, log zerolog.Logger) (models.User, error) {
	if !u.Lapsed(now) {
		return u, nil
	}
	changed, err := users.ExpireLapsed(ctx, u.ID, now)
	if err != nil {
		return models.User{}, apperr.Persistence(err)
	}
	if !changed {
		// renewed in the meantime
		fresh, err := users.Get(ctx, u.ID)
		if err != nil {
			return models.User{}, apperr.Persistence(err)
		}
		return fresh, nil
	}
	log.Info().
		Str("user_id", u.ID).
		Str("tier", string(u.Tier)).
		Time("ended_at", *u.SubscriptionEndDate).
		Msg("subscription lapsed, downgraded to free")
	u.Tier = models.TierFree
	u.SubscriptionEndDate = nil
	return u, nil
}
