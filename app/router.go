package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joe02740/wmapp/auth"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter(d Deps) *gin.Engine {
	if !d.Config.LocalDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	api := NewAPI(d)

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(d.Log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  d.Config.CORS.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", api.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/stripe/webhook", api.StripeWebhook)

	protected := router.Group("/")
	protected.Use(auth.Middleware(d.Verifier, auth.MiddlewareConfig{
		RequireScopes:   d.Config.Auth.RequiredScopes,
		DisableAuth:     d.Config.AuthBypass(),
		OnAuthenticated: api.ensureUser,
		Logger:          d.Log,
	}))
	protected.GET("/me", api.Me)
	protected.POST("/api/query", api.Query)
	protected.GET("/api/usage", api.Usage)
	protected.POST("/api/create-checkout-session", api.CreateCheckoutSession)
	protected.POST("/api/billing/portal-session", api.CreatePortalSession)
	protected.POST("/api/subscribe", api.Subscribe)
	protected.GET("/api/chat-history", api.ListChats)
	protected.POST("/api/chat-history", api.CreateChat)
	protected.GET("/api/chat-history/:id", api.GetChat)
	protected.PUT("/api/chat-history/:id", api.UpdateChat)

	return router
}
