package middleware

import (
	"strings"

	"carelink/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set by the middleware in this package.
const (
	CtxDeviceID    = "deviceID"
	CtxDeviceName  = "deviceName"
	CtxDeviceIP    = "deviceIP"
	CtxSubjectID   = "subjectID"
	CtxPhoneNumber = "phoneNumber"
	CtxProfile     = "profile"
	CtxAdmin       = "isAdmin"
)

// DeviceDetailsMiddleware requires the X-Device-ID header. The device ID names the
// single session slot every auth operation on the request reads or writes.
func DeviceDetailsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := strings.TrimSpace(c.GetHeader("X-Device-ID"))
		if deviceID == "" {
			utils.GetLogger().Debug("missing device id", zap.String("path", c.FullPath()))
			utils.JSONError(c, utils.ErrBadRequest, "Missing required device details: X-Device-ID")
			return
		}

		c.Set(CtxDeviceID, deviceID)
		c.Set(CtxDeviceName, c.GetHeader("X-Device-Name"))
		c.Set(CtxDeviceIP, getClientIP(c))
		c.Next()
	}
}

// DeviceID returns the device ID set by DeviceDetailsMiddleware.
func DeviceID(c *gin.Context) string {
	return c.GetString(CtxDeviceID)
}
