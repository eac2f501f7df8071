package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront-service/internal/auth"
	"storefront-service/internal/service"
	"storefront-service/internal/util"
)

const (
	identityKey  = "identity"
	guestHeader  = "X-Guest-Id"
	bearerPrefix = "Bearer "
)

// requireUser resolves the bearer token and aborts with 401 when no valid
// user identity is present.
func requireUser(resolver auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := resolveUser(c, resolver)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// requireAdmin additionally demands the admin flag from the auth service.
func requireAdmin(resolver auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := resolveUser(c, resolver)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		if !identity.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
			})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// cartIdentity resolves the cart owner: an authenticated user when a
// bearer token is present, otherwise a guest via the X-Guest-Id header.
func cartIdentity(resolver auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity, ok := resolveUser(c, resolver); ok {
			c.Set(identityKey, identity)
			c.Next()
			return
		}
		if token := bearerToken(c); token != "" {
			// A token was presented but did not resolve; do not fall
			// back to a guest cart for it.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}
		if guestID := c.GetHeader(guestHeader); guestID != "" {
			c.Set(identityKey, &auth.Identity{})
			c.Set("guest_id", guestID)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication or " + guestHeader + " header required",
		})
	}
}

func resolveUser(c *gin.Context, resolver auth.Resolver) (*auth.Identity, bool) {
	token := bearerToken(c)
	if token == "" {
		return nil, false
	}
	identity, err := resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		return nil, false
	}
	return identity, true
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, bearerPrefix)
}

func userIdentity(c *gin.Context) *auth.Identity {
	identity, _ := c.MustGet(identityKey).(*auth.Identity)
	return identity
}

// ownerIdentity builds the cart owner from the resolved request identity.
func ownerIdentity(c *gin.Context) service.Identity {
	if guestID, ok := c.Get("guest_id"); ok {
		return service.GuestIdentity(guestID.(string))
	}
	return service.UserIdentity(userIdentity(c).UserID)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
