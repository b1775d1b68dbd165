package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse defines the structure of error responses
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorHandler is a middleware to catch panics and return structured errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				Logger := GetLogger()
				Logger.Error("Unhandled panic", zap.Any("error", err))

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Code:    "internal",
					Message: "Internal Server Error",
					Details: "An unexpected error occurred. Please try again later.",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// JSONError sends a standardized JSON error response for err, with details for the client.
func JSONError(c *gin.Context, err error, details string) {
	GetLogger().Debug("request rejected", zap.String("path", c.FullPath()), zap.Error(err))
	c.AbortWithStatusJSON(HTTPStatus(err), ErrorResponse{Code: ErrorCode(err), Message: UserMessage(err), Details: details})
}

// RespondError maps a taxonomy error onto its status and user-facing message.
// Unknown errors are logged and reported as internal without leaking their text.
func RespondError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		GetLogger().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		GetLogger().Debug("request rejected", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    ErrorCode(err),
		Message: UserMessage(err),
	})
}
