package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/llm"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/quota"
)

// Query answers a question about the selected reference, subject to the
// caller's quota.
func (a *API) Query(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.log, apperr.InvalidRequest("query is required"))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		respondError(c, a.log, apperr.InvalidRequest("query is required"))
		return
	}
	scope, ok := llm.ParseScope(req.Scope)
	if !ok {
		respondError(c, a.log, apperr.InvalidRequest("unknown scope "+req.Scope))
		return
	}

	// A denied query should not pay for history and document reads, so
	// limited tiers are checked up front. Admit checks again under the lock.
	_, limited := a.quota.Table().Lookup(u.Tier)
	var pre quota.Decision
	if limited || !a.cfg.Quota.Atomic {
		d, err := a.quota.Check(ctx, u.ID)
		if err != nil {
			respondError(c, a.log, err)
			return
		}
		if !d.Allowed {
			a.denied(c, u.ID, d)
			return
		}
		pre = d
	}

	// Everything the model needs is read before admission: Admit holds the
	// caller's row lock for the duration of the call.
	q := llm.Question{Text: req.Query, Scope: scope}
	if req.SessionID != 0 {
		history, err := a.chats.History(ctx, u.ID, req.SessionID, a.cfg.LLM.HistoryMessages)
		if err != nil {
			respondError(c, a.log, err)
			return
		}
		q.History = history
	}
	q.Documents = a.documents.Load(ctx)

	var answer llm.Answer
	ask := func(ctx context.Context) (quota.Usage, error) {
		var err error
		answer, err = a.llm.Ask(ctx, q)
		if err != nil {
			return quota.Usage{}, modelError(err)
		}
		return quota.Usage{QueryText: q.Text, ScopeTag: string(scope), TokensConsumed: answer.TokensUsed}, nil
	}

	var (
		d   quota.Decision
		err error
	)
	if a.cfg.Quota.Atomic {
		d, err = a.quota.Admit(ctx, u.ID, ask)
	} else {
		d, err = a.runThenRecord(ctx, u.ID, pre, ask)
	}
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	if !d.Allowed {
		a.denied(c, u.ID, d)
		return
	}

	c.JSON(http.StatusOK, models.QueryResponse{
		Response:   answer.Text,
		TokensUsed: answer.TokensUsed,
		Scope:      string(scope),
		Usage:      usageSummary(d),
	})
}

func (a *API) denied(c *gin.Context, userID string, d quota.Decision) {
	a.log.Info().Str("user_id", userID).Str("tier", string(d.Tier)).Str("reason", string(d.Reason)).Msg("query denied by quota")
	respondQuotaExceeded(c, d)
}

// runThenRecord is the non-atomic admission path after d allowed the query:
// the check and the record are separate statements, so concurrent requests
// from one user may overshoot a limit by the number in flight.
func (a *API) runThenRecord(ctx context.Context, userID string, d quota.Decision, ask func(context.Context) (quota.Usage, error)) (quota.Decision, error) {
	usage, err := ask(ctx)
	if err != nil {
		return d, err
	}
	a.quota.RecordUsage(ctx, userID, usage.QueryText, usage.ScopeTag, usage.TokensConsumed)
	d.Daily++
	d.Monthly++
	return d, nil
}

// Usage reports the caller's consumption and recent queries.
func (a *API) Usage(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	st, err := a.quota.Stats(c.Request.Context(), u.ID)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	summary := usageSummary(st.Decision)
	summary.Total = intPtr(st.Total)
	recent := st.Recent
	if recent == nil {
		recent = []models.UsageEvent{}
	}
	c.JSON(http.StatusOK, models.UsageResponse{
		UserID:              st.User.ID,
		SubscriptionTier:    st.User.Tier,
		SubscriptionEndDate: st.User.SubscriptionEndDate,
		Usage:               summary,
		RecentQueries:       recent,
	})
}
