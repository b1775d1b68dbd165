package middleware

import (
	"fmt"
	"strings"

	"carelink/models"
	"carelink/services/session"
	"carelink/utils"

	"github.com/gin-gonic/gin"
)

// SessionAuthMiddleware accepts a bearer token only while it is the ambient session of
// the request's device. A token whose slot was replaced by a later sign-in is rejected.
// It must run after DeviceDetailsMiddleware.
func SessionAuthMiddleware(store session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, fmt.Errorf("%w: missing bearer token", utils.ErrUnauthorized))
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		ds, err := store.Validate(c.Request.Context(), tokenString, DeviceID(c))
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		c.Set(CtxSubjectID, ds.SubjectID)
		c.Set(CtxPhoneNumber, ds.PhoneNumber)
		c.Next()
	}
}

// Identity returns the verified identity of the authenticated caller.
func Identity(c *gin.Context) models.VerifiedIdentity {
	return models.VerifiedIdentity{
		SubjectID:   c.GetString(CtxSubjectID),
		PhoneNumber: c.GetString(CtxPhoneNumber),
	}
}
