package middleware

import (
	"net"

	"github.com/gin-gonic/gin"
)

// getClientIP is the caller's address as gin resolves it. X-Forwarded-For and
// X-Real-IP are only honoured when the request arrives from a trusted proxy
// (engine.SetTrustedProxies), so a client cannot pick its own rate-limit bucket.
func getClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// limiterKey groups IPv6 callers by /64, the smallest block a single host is
// usually handed.
func limiterKey(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() != nil {
		return ip
	}
	return parsed.Mask(net.CIDRMask(64, 128)).String() + "/64"
}
