package handlers

import (
	"carelink/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// getLogger retrieves a Zap logger from the Gin context or falls back to the global one.
func getLogger(c *gin.Context) *zap.Logger {
	if l, exists := c.Get("logger"); exists {
		if logger, ok := l.(*zap.Logger); ok {
			return logger
		}
	}
	return utils.GetLogger()
}

// bindJSON binds the request body and reports a bad request on failure.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		getLogger(c).Debug("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
		utils.JSONError(c, utils.ErrBadRequest, err.Error())
		return false
	}
	return true
}
