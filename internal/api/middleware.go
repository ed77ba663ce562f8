package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sales-service/internal/authz"
	"sales-service/internal/util"
)

// IdentityMiddleware reads the employee identity forwarded by the auth
// boundary and attaches it to the request context. Requests without a
// complete identity are rejected before any handler runs.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		idHeader := c.GetHeader("X-Employee-ID")
		role := c.GetHeader("X-Employee-Role")
		if idHeader == "" || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing employee identity"})
			return
		}
		employeeID, err := strconv.ParseInt(idHeader, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid employee id"})
			return
		}

		actor := authz.Actor{
			EmployeeID: employeeID,
			Name:       c.GetHeader("X-Employee-Name"),
			Role:       role,
		}
		c.Request = c.Request.WithContext(authz.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
