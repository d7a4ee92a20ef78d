// Package middleware provides Gin HTTP middleware for request identification,
// logging, metrics, security headers, rate limiting, and principal extraction.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Logging → Metrics → SecurityHeaders → CORS → RateLimit → Auth → Handler
//
// Rate limiting runs before auth so floods are rejected before any token
// parsing. Auth populates the principal; per-route permission guards read it
// from the context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	"github.com/fraud-governance/fraud-governance/internal/auth"
	"github.com/fraud-governance/fraud-governance/internal/config"
)

const (
	// PrincipalKey is the gin.Context key under which the authenticated
	// principal is stored.
	PrincipalKey = "principal"

	// ActorHeader names the caller when JWT auth is disabled (local
	// development and trusted internal deployments behind a gateway).
	ActorHeader = "X-Actor"
)

// PrincipalFrom retrieves the authenticated principal from the context.
func PrincipalFrom(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok
}

// Actor returns the acting subject for audit attribution, or "anonymous"
// when no principal is present.
func Actor(c *gin.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return p.Subject
	}
	return "anonymous"
}

// Auth returns middleware that populates the request principal.
//
// With JWT enabled, a valid Bearer token is required on every request and the
// principal is built from its claims. With JWT disabled, the caller is trusted
// and identified by the X-Actor header with full permissions; this mode is for
// deployments where authentication happens at an upstream gateway.
func Auth(cfg config.JWTConfig, verifier *auth.Verifier) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			actor := strings.TrimSpace(c.GetHeader(ActorHeader))
			if actor == "" {
				actor = "anonymous"
			}
			c.Set(PrincipalKey, &auth.Principal{
				Subject:     actor,
				Permissions: []string{string(auth.PermAdmin)},
			})
			c.Next()
		}
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			unauthorized(c, "authorization header must use the Bearer scheme")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			unauthorized(c, "authorization token is empty")
			return
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// RequirePermission returns middleware that rejects requests whose principal
// does not hold the given permission. It must run after Auth.
func RequirePermission(required auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			unauthorized(c, "authentication required")
			return
		}
		if !principal.HasPermission(required) {
			err := apperrors.Forbidden("insufficient permissions", map[string]any{
				"required": string(required),
			})
			c.AbortWithStatusJSON(apperrors.StatusCode(err), apperrors.ToEnvelope(err))
			return
		}
		c.Next()
	}
}

// RequireAnyPermission is like RequirePermission but passes when the
// principal holds at least one of the given permissions. Used for routes
// whose target entity type is only known from the request body.
func RequireAnyPermission(required ...auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFrom(c)
		if !ok {
			unauthorized(c, "authentication required")
			return
		}
		if !principal.HasAnyPermission(required...) {
			names := make([]string, len(required))
			for i, p := range required {
				names[i] = string(p)
			}
			err := apperrors.Forbidden("insufficient permissions", map[string]any{
				"required_any": names,
			})
			c.AbortWithStatusJSON(apperrors.StatusCode(err), apperrors.ToEnvelope(err))
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Envelope{
		Error:   "UnauthorizedError",
		Message: message,
	})
}
