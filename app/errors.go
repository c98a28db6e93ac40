package app

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/llm"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/quota"
)

// respondError writes {"error", "category"} with the status of err's
// category. Unclassified errors are logged and reported as internal.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Wrap(apperr.CategoryInternal, "internal error", err)
	}
	status := apperr.HTTPStatus(e.Category)

	ev := log.Warn()
	if status >= 500 {
		ev = log.Error()
	}
	ev.Err(err).
		Str("category", string(e.Category)).
		Str("path", c.FullPath()).
		Str("request_id", c.GetString(requestIDKey)).
		Msg("request failed")

	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:    e.Message,
		Category: string(e.Category),
	})
}

// respondQuotaExceeded tells the client which window ran out and that an
// upgrade exists.
func respondQuotaExceeded(c *gin.Context, d quota.Decision) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(apperr.CategoryQuotaExceeded), models.ErrorResponse{
		Error:            d.Message,
		Category:         string(apperr.CategoryQuotaExceeded),
		Reason:           string(d.Reason),
		UpgradeAvailable: d.Tier != models.TierPro,
	})
}

// modelError classifies a failed model call.
func modelError(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, llm.ErrNotConfigured) {
		return apperr.Upstream("the assistant is not configured on this server", err)
	}
	return apperr.Upstream("the assistant is temporarily unavailable, please try again", err)
}
