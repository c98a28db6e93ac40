package app

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
)

const maxWebhookBodyBytes = int64(65536)

// CreateCheckoutSession starts a Stripe Checkout Session for the authenticated user.
func (a *API) CreateCheckoutSession(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.log, apperr.InvalidRequest("tier is required"))
		return
	}
	url, err := a.billing.Checkout(c.Request.Context(), u, req.Tier)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkoutUrl": url})
}

// CreatePortalSession returns a Stripe customer portal link.
func (a *API) CreatePortalSession(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	url, err := a.billing.PortalURL(c.Request.Context(), u)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Subscribe handles a manual plan change. Only a downgrade to free is
// accepted.
func (a *API) Subscribe(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	var req models.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, a.log, apperr.InvalidRequest("tier is required"))
		return
	}
	updated, err := a.billing.ManualUpdate(c.Request.Context(), u.ID, req.Tier)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// StripeWebhook verifies and applies Stripe subscription events. The
// response is sent only after the change is committed, so a failure makes
// Stripe retry.
func (a *API) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.log.Warn().Int64("limit", tooLarge.Limit).Msg("stripe webhook body too large")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error:    "payload too large",
				Category: string(apperr.CategoryInvalidRequest),
			})
			return
		}
		respondError(c, a.log, apperr.Wrap(apperr.CategoryInvalidRequest, "invalid payload", err))
		return
	}

	ctx := c.Request.Context()
	ev, err := a.billing.ConstructEvent(ctx, body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	outcome, err := a.billing.Apply(ctx, ev)
	if err != nil {
		respondError(c, a.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "status": outcome})
}
