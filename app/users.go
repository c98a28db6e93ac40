package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/auth"
)

const userKey = "user"

// ensureUser runs after authentication on every protected request: the
// caller's row is created on first sight and the snapshot is kept on the
// gin context for handlers.
func (a *API) ensureUser(c *gin.Context, claims *auth.Claims) error {
	u, err := a.registry.Ensure(c.Request.Context(), claims.Subject, claims.Email, claims.Name)
	if err != nil {
		respondError(c, a.log, err)
		return err
	}
	c.Set(userKey, u)
	return nil
}

// currentUser returns the snapshot stored by ensureUser.
func currentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return models.User{}, false
	}
	u, ok := v.(models.User)
	return u, ok
}

func (a *API) requireUser(c *gin.Context) (models.User, bool) {
	u, ok := currentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:    "missing auth context",
			Category: string(apperr.CategoryUnauthorized),
		})
	}
	return u, ok
}
