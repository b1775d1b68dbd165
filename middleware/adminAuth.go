package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthMiddleware compares the bearer token with a bcrypt hash of the static admin
// token. An empty hash disables the admin API.
func AdminAuthMiddleware(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "message": "Admin access is disabled"})
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "Missing or invalid Authorization header"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		if bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(tokenString)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "Unauthorized admin access"})
			return
		}

		c.Set(CtxAdmin, true)
		c.Next()
	}
}
