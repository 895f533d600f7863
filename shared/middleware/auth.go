package middleware

import (
	"errors"
	"net/http"

	"github.com/eaglebank/transaction-service/shared/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDKey        = "userId"
	emailKey         = "email"
	authorizationKey = "authorization"
)

// AuthMiddleware authenticates the bearer token with verifier and stores the
// caller identity and the raw Authorization header on the context.
func AuthMiddleware(verifier auth.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Authorization header required",
			})
			return
		}

		token, ok := auth.BearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid authorization header format",
			})
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"message": "Invalid or expired token",
				})
				return
			}
			logger.Error("token verification failed",
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    "AUTH_UNAVAILABLE",
				"message": "Unable to verify credentials",
			})
			return
		}

		c.Set(userIDKey, identity.UserID)
		c.Set(emailKey, identity.Email)
		c.Set(authorizationKey, authHeader)
		c.Next()
	}
}

func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(userIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

// GetAuthorization returns the caller's Authorization header for forwarding
// to the account ledger.
func GetAuthorization(c *gin.Context) string {
	return c.GetString(authorizationKey)
}
