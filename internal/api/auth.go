package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// Admin routes (recalibrate, reindex) require:
//   Authorization: Bearer <ADMIN_AUTH_TOKEN>
//
// Public scoring endpoints are not behind this middleware; they are
// governed by the rate limiter and the free-tier quota instead.
// ──────────────────────────────────────────────────────────────────

// AdminAuth returns a middleware validating the admin bearer token.
// With no token configured all admin requests are allowed (dev mode).
func AdminAuth(token string) gin.HandlerFunc {
	if token == "" && os.Getenv("GIN_MODE") == "release" {
		log.Println("[SECURITY WARNING] ADMIN_AUTH_TOKEN is not set in release mode. " +
			"Admin endpoints are publicly accessible. " +
			"Set ADMIN_AUTH_TOKEN in your environment to enforce authentication.")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			apiError(c, http.StatusUnauthorized, "missing_auth",
				"Missing Authorization header", "Use: Authorization: Bearer <ADMIN_AUTH_TOKEN>")
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			apiError(c, http.StatusForbidden, "bad_auth", "Invalid Authorization header format", "")
			c.Abort()
			return
		}

		// Constant-time comparison to prevent timing-based token enumeration.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			apiError(c, http.StatusForbidden, "bad_auth", "Invalid or expired token", "")
			c.Abort()
			return
		}

		c.Next()
	}
}

// requesterID identifies the caller for quota accounting: the API key
// when one is presented, otherwise the client IP.
func requesterID(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	return c.ClientIP()
}
