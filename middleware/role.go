package middleware

import (
	"fmt"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/utils"

	"github.com/gin-gonic/gin"
)

// RoleMiddleware loads the caller's profile and rejects roles outside allowed.
// It must run after SessionAuthMiddleware.
func RoleMiddleware(repo userRepo.UserRepository, allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := c.GetString(CtxSubjectID)
		p, err := repo.GetByID(c.Request.Context(), subjectID)
		if err != nil {
			utils.RespondError(c, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err))
			return
		}
		if p == nil {
			utils.RespondError(c, fmt.Errorf("%w: profile setup required", utils.ErrNotFound))
			return
		}
		for _, r := range allowed {
			if p.Role == r {
				c.Set(CtxProfile, p)
				c.Next()
				return
			}
		}
		utils.RespondError(c, fmt.Errorf("%w: %s accounts cannot use this endpoint", utils.ErrRoleMismatch, p.Role))
	}
}

// Profile returns the profile loaded by RoleMiddleware.
func Profile(c *gin.Context) *models.UserProfile {
	if v, ok := c.Get(CtxProfile); ok {
		if p, ok := v.(*models.UserProfile); ok {
			return p
		}
	}
	return nil
}
