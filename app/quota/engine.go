// Package quota decides whether a user may issue another query and records
// answered queries against the daily and monthly windows of their tier.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/metrics"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/registry"
	"github.com/joe02740/wmapp/app/store"
)

type Reason string

const (
	ReasonDaily   Reason = "daily"
	ReasonMonthly Reason = "monthly"
)

// Decision is the outcome of evaluating a user against their tier limits.
// Daily and Monthly are the counts in the current windows; after a
// successful Admit they include the recorded query.
type Decision struct {
	Allowed   bool
	Reason    Reason
	Message   string
	Tier      models.Tier
	Daily     int
	Monthly   int
	Limits    Limits
	Unlimited bool
	// Degraded is set when the store failed and QUOTA_FAIL_OPEN let the
	// request through unchecked.
	Degraded bool
}

// Usage is what an answered query consumed.
type Usage struct {
	QueryText      string
	ScopeTag       string
	TokensConsumed int
}

type Engine struct {
	store    store.Transactor
	table    Table
	loc      *time.Location
	failOpen bool
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Engine)

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithFailOpen lets requests through when the store cannot be read.
func WithFailOpen(failOpen bool) Option {
	return func(e *Engine) { e.failOpen = failOpen }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func New(s store.Transactor, table Table, opts ...Option) *Engine {
	e := &Engine{store: s, table: table, loc: time.Local, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Table() Table { return e.table }

// Check evaluates userID against their limits. A lapsed subscription is
// downgraded first. Nothing is recorded.
func (e *Engine) Check(ctx context.Context, userID string) (Decision, error) {
	now := e.now()
	users := e.store.Repos().Users

	u, err := users.Get(ctx, userID)
	if err != nil {
		return e.readFailure(userID, err)
	}
	u, err = registry.Expire(ctx, users, u, now, e.log)
	if err != nil {
		return e.readFailure(userID, err)
	}
	d, err := e.evaluate(ctx, e.store.Repos().Usage, u, now)
	if err != nil {
		return e.readFailure(userID, err)
	}
	observe(d)
	return d, nil
}

// Admit runs fn only if userID is within their limits, and records the usage
// fn reports. The evaluation, fn and the insert share one transaction that
// holds the user's row lock, so concurrent requests for the same user are
// admitted one at a time. If fn fails nothing is recorded and its error is
// returned. A failure to record after fn succeeded is logged, not returned.
func (e *Engine) Admit(ctx context.Context, userID string, fn func(ctx context.Context) (Usage, error)) (Decision, error) {
	now := e.now()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return e.admitUnchecked(ctx, userID, err, fn)
	}
	defer tx.Rollback()
	repos := tx.Repos()

	u, err := repos.Users.GetForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{}, apperr.NotFound("user not found")
		}
		_ = tx.Rollback()
		return e.admitUnchecked(ctx, userID, err, fn)
	}
	u, err = registry.Expire(ctx, repos.Users, u, now, e.log)
	if err != nil {
		_ = tx.Rollback()
		return e.admitUnchecked(ctx, userID, err, fn)
	}
	d, err := e.evaluate(ctx, repos.Usage, u, now)
	if err != nil {
		_ = tx.Rollback()
		return e.admitUnchecked(ctx, userID, err, fn)
	}
	observe(d)
	if !d.Allowed {
		// keeps a downgrade applied above
		if err := tx.Commit(); err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("commit quota denial")
		}
		return d, nil
	}

	usage, err := fn(ctx)
	if err != nil {
		if cerr := tx.Commit(); cerr != nil {
			e.log.Warn().Err(cerr).Str("user_id", userID).Msg("commit after failed query")
		}
		return d, err
	}

	event := newEvent(userID, usage, e.now())
	if _, err := repos.Usage.Insert(ctx, event); err != nil {
		e.recordFailed(userID, err)
		return d, nil
	}
	if err := tx.Commit(); err != nil {
		e.recordFailed(userID, err)
		return d, nil
	}
	d.Daily++
	d.Monthly++
	return d, nil
}

// RecordUsage appends one usage event. It is called once, after a
// successful answer, and never retried; a failure is logged and swallowed.
func (e *Engine) RecordUsage(ctx context.Context, userID, queryText, scopeTag string, tokensConsumed int) {
	event := newEvent(userID, Usage{QueryText: queryText, ScopeTag: scopeTag, TokensConsumed: tokensConsumed}, e.now())
	if _, err := e.store.Repos().Usage.Insert(ctx, event); err != nil {
		e.recordFailed(userID, err)
	}
}

// Stats is the usage report for one user.
type Stats struct {
	User     models.User
	Decision Decision
	Total    int
	Recent   []models.UsageEvent
}

const recentQueries = 10

func (e *Engine) Stats(ctx context.Context, userID string) (Stats, error) {
	now := e.now()
	repos := e.store.Repos()

	u, err := repos.Users.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Stats{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return Stats{}, apperr.Persistence(err)
	}
	if u, err = registry.Expire(ctx, repos.Users, u, now, e.log); err != nil {
		return Stats{}, apperr.Persistence(err)
	}
	d, err := e.evaluate(ctx, repos.Usage, u, now)
	if err != nil {
		return Stats{}, apperr.Persistence(err)
	}
	total, err := repos.Usage.Count(ctx, userID)
	if err != nil {
		return Stats{}, apperr.Persistence(err)
	}
	recent, err := repos.Usage.Recent(ctx, userID, recentQueries)
	if err != nil {
		return Stats{}, apperr.Persistence(err)
	}
	return Stats{User: u, Decision: d, Total: total, Recent: recent}, nil
}

func (e *Engine) evaluate(ctx context.Context, usage *store.UsageRepository, u models.User, now time.Time) (Decision, error) {
	dayStart, dayEnd, monthStart, monthEnd := windows(now, e.loc)

	daily, err := usage.CountBetween(ctx, u.ID, dayStart, dayEnd)
	if err != nil {
		return Decision{}, fmt.Errorf("count daily usage: %w", err)
	}
	monthly, err := usage.CountBetween(ctx, u.ID, monthStart, monthEnd)
	if err != nil {
		return Decision{}, fmt.Errorf("count monthly usage: %w", err)
	}

	d := Decision{Allowed: true, Tier: u.Tier, Daily: daily, Monthly: monthly}
	limits, ok := e.table.Lookup(u.Tier)
	if !ok {
		d.Unlimited = true
		return d, nil
	}
	d.Limits = limits

	switch {
	case daily >= limits.Daily:
		d.Allowed = false
		d.Reason = ReasonDaily
		d.Message = fmt.Sprintf("Daily limit reached for %s tier (%d queries per day)", u.Tier, limits.Daily)
	case monthly >= limits.Monthly:
		d.Allowed = false
		d.Reason = ReasonMonthly
		d.Message = fmt.Sprintf("Monthly limit reached for %s tier (%d queries per month)", u.Tier, limits.Monthly)
	}
	return d, nil
}

func (e *Engine) readFailure(userID string, err error) (Decision, error) {
	if errors.Is(err, store.ErrNotFound) || apperr.Is(err, apperr.CategoryNotFound) {
		return Decision{}, apperr.NotFound("user not found")
	}
	if !e.failOpen {
		metrics.QuotaDecisions.WithLabelValues("unknown", "error").Inc()
		e.log.Error().Err(err).Str("user_id", userID).Msg("quota check failed, denying")
		return Decision{}, apperr.Persistence(err)
	}
	metrics.QuotaDecisions.WithLabelValues("unknown", "degraded").Inc()
	e.log.Warn().Err(err).Str("user_id", userID).Msg("quota check failed, allowing (fail open)")
	return Decision{Allowed: true, Degraded: true, Unlimited: true}, nil
}

// admitUnchecked handles a store failure before fn ran.
func (e *Engine) admitUnchecked(ctx context.Context, userID string, cause error, fn func(ctx context.Context) (Usage, error)) (Decision, error) {
	d, err := e.readFailure(userID, cause)
	if err != nil {
		return d, err
	}
	usage, err := fn(ctx)
	if err != nil {
		return d, err
	}
	e.RecordUsage(ctx, userID, usage.QueryText, usage.ScopeTag, usage.TokensConsumed)
	return d, nil
}

func (e *Engine) recordFailed(userID string, err error) {
	metrics.UsageRecordFailures.Inc()
	e.log.Error().Err(err).Str("user_id", userID).Msg("record usage failed, answer already delivered")
}

func newEvent(userID string, u Usage, at time.Time) models.UsageEvent {
	tokens := u.TokensConsumed
	if tokens < 0 {
		tokens = 0
	}
	return models.UsageEvent{
		UserID:         userID,
		QueryText:      u.QueryText,
		ScopeTag:       u.ScopeTag,
		TokensConsumed: tokens,
		CreatedAt:      at,
	}
}

func observe(d Decision) {
	result := "allowed"
	if !d.Allowed {
		result = string(d.Reason)
	}
	metrics.QuotaDecisions.WithLabelValues(string(d.Tier), result).Inc()
}
