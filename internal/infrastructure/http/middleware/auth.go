package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyOwnerID   = "owner_id"
	ContextKeyOwnerName = "owner_name"
	ContextKeyClaims    = "claims"

	HeaderAuthorization = "Authorization"
	HeaderOwnerID       = "X-Owner-ID"
	HeaderOwnerName     = "X-Owner-Name"
	BearerPrefix        = "Bearer "
)

type TokenValidator interface {
	ValidateOwnerToken(token string) (*domain.OwnerClaims, error)
}

// AuthMiddleware resolves the owner behind a request. Without a validator it
// trusts the X-Owner-* headers, which is only meant for local development.
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	if validator == nil {
		slog.Warn("owner authentication disabled, trusting X-Owner-ID headers")
	}
	return &AuthMiddleware{validator: validator}
}

func (a *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.validator == nil {
			a.fromHeaders(c)
			return
		}

		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing authorization token",
			})
			return
		}

		claims, err := a.validator.ValidateOwnerToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid token",
				"details": err.Error(),
			})
			return
		}

		c.Set(ContextKeyOwnerID, claims.Subject)
		c.Set(ContextKeyOwnerName, claims.Name)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

func (a *AuthMiddleware) fromHeaders(c *gin.Context) {
	ownerID := strings.TrimSpace(c.GetHeader(HeaderOwnerID))
	if ownerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "missing " + HeaderOwnerID + " header",
		})
		return
	}

	c.Set(ContextKeyOwnerID, ownerID)
	c.Set(ContextKeyOwnerName, strings.TrimSpace(c.GetHeader(HeaderOwnerName)))
	c.Next()
}

// OwnerID returns the authenticated owner, or "" outside the auth middleware.
func OwnerID(c *gin.Context) string {
	return c.GetString(ContextKeyOwnerID)
}

func OwnerName(c *gin.Context) string {
	return c.GetString(ContextKeyOwnerName)
}

func extractBearerToken(c *gin.Context) string {
	auth := c.GetHeader(HeaderAuthorization)
	if !strings.HasPrefix(auth, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(auth, BearerPrefix)
}
