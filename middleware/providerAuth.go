package middleware

import (
	"errors"
	"net/http"
	"strings"

	providerRepo "slotkeeper/database/repository/provider"
	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProviderIDKey is the gin context key holding the authenticated provider.
const ProviderIDKey = "providerID"

// JWTAuthProviderMiddleware validates provider tokens issued by the auth
// service. A token whose provider was confirmed recently is served from cache.
func JWTAuthProviderMiddleware(providers providerRepo.ProviderRepository, cache utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := zap.L()
		ctx := c.Request.Context()

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		// Extract the provider ID from the token.
		providerID, err := utils.ExtractIDFromToken(tokenString)
		if err != nil || providerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		cacheKey := utils.AuthCachePrefix + utils.HashToken(tokenString)

		var cachedID string
		if hit, err := cache.Get(ctx, cacheKey, &cachedID); err != nil {
			logger.Error("Error checking auth cache", zap.Error(err))
		} else if hit && cachedID == providerID {
			c.Set(ProviderIDKey, providerID)
			c.Next()
			return
		}

		// Cache miss: the provider must still exist.
		if _, err := providers.GetByID(ctx, providerID); err != nil {
			if errors.Is(err, providerRepo.ErrProviderNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Provider not found"})
				return
			}
			logger.Error("Provider lookup failed when validating token", zap.String("providerID", providerID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Could not validate token"})
			return
		}

		if err := cache.Set(ctx, cacheKey, providerID, utils.AuthCacheTTL); err != nil {
			logger.Error("Failed to set auth cache", zap.Error(err))
		}

		c.Set(ProviderIDKey, providerID)
		c.Next()
	}
}

// RequireOwnProvider rejects requests whose :param differs from the authenticated provider.
func RequireOwnProvider(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param(param) != c.GetString(ProviderIDKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Cannot manage another provider's schedule"})
			return
		}
		c.Next()
	}
}
