// Package auth provides Gin middleware for enforcing bearer JWT auth.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LocalSubject is the identity injected when auth is disabled.
const LocalSubject = "local-dev"

// MiddlewareConfig controls auth enforcement behavior.
type MiddlewareConfig struct {
	// RequireScopes must all appear in the token's space-separated scope
	// claim.
	RequireScopes []string
	// DisableAuth skips verification and injects LocalSubject. Only set it
	// for local development.
	DisableAuth bool
	// OnAuthenticated runs after claims are stored on the request. An error
	// aborts the request; the hook may write its own response first.
	OnAuthenticated func(c *gin.Context, claims *Claims) error
	Logger          zerolog.Logger
}

// Middleware enforces bearer token auth and injects claims into the request context.
func Middleware(verifier *Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	return func(c *gin.Context) {
		if cfg.DisableAuth {
			claims := &Claims{
				Subject: LocalSubject,
				Issuer:  "local",
				Email:   "dev@localhost",
				Name:    "Local Developer",
				Raw:     map[string]any{"sub": LocalSubject},
			}
			authenticated(c, claims, cfg)
			return
		}

		if verifier == nil {
			respondUnauthorized(c, "auth verifier not configured")
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("auth failure: missing Authorization header")
			respondUnauthorized(c, "missing authorization header")
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			log.Debug().Str("path", c.Request.URL.Path).Msg("auth failure: malformed Authorization header")
			respondUnauthorized(c, "invalid authorization header")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Info().Err(err).Str("path", c.Request.URL.Path).Msg("auth failure: token invalid")
			respondUnauthorized(c, "invalid token")
			return
		}

		if len(cfg.RequireScopes) > 0 && !hasScopes(claims.Scope, cfg.RequireScopes) {
			log.Info().Str("path", c.Request.URL.Path).Msg("auth failure: missing scopes")
			respondUnauthorized(c, "insufficient scope")
			return
		}

		authenticated(c, claims, cfg)
	}
}

func authenticated(c *gin.Context, claims *Claims, cfg MiddlewareConfig) {
	ctx := WithClaims(c.Request.Context(), claims)
	c.Request = c.Request.WithContext(ctx)

	if cfg.OnAuthenticated != nil {
		if err := cfg.OnAuthenticated(c, claims); err != nil {
			if !c.Writer.Written() {
				cfg.Logger.Error().Err(err).Str("sub", claims.Subject).Msg("post-auth hook failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":    "failed to load user",
					"category": "internal_error",
				})
				return
			}
			c.Abort()
			return
		}
	}
	c.Next()
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func hasScopes(scopeClaim string, required []string) bool {
	if scopeClaim == "" {
		return false
	}
	available := map[string]struct{}{}
	for _, s := range strings.Fields(scopeClaim) {
		available[s] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := available[scope]; !ok {
			return false
		}
	}
	return true
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    message,
		"category": "unauthorized",
	})
}
