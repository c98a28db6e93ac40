package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health is a public health check endpoint. It reports 503 when the store
// is unreachable.
func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if a.store != nil {
		if err := a.store.Ping(ctx); err != nil {
			a.log.Warn().Err(err).Msg("health check: store unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Me returns the authenticated user's snapshot.
func (a *API) Me(c *gin.Context) {
	u, ok := a.requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u)
}
