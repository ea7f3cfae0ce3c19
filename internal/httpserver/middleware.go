package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tasksync/internal/handler"
	"tasksync/internal/model"
	"tasksync/pkg/logger"
	"tasksync/pkg/metrics"
	"tasksync/pkg/rbac"
	"tasksync/pkg/trace"
	"tasksync/pkg/util"
)

// TraceMiddleware reuses the caller's X-Trace-ID or assigns one, and echoes
// it on the response.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName)
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// MetricsMiddleware records request latency by route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(l *zap.Logger) gin.HandlerFunc {
	l = logger.OrNop(l)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithTrace(c.Request.Context(), l).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		id, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(handler.IdentityKey, id)
		c.Next()
	}
}

// RequirePermission rejects callers whose role lacks permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(handler.IdentityKey)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}

		id, ok := v.(model.Identity)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid identity"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(id, permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Next()
	}
}
