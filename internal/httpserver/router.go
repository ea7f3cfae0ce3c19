package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tasksync/internal/handler"
	"tasksync/pkg/logger"
	"tasksync/pkg/rbac"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
	logger *zap.Logger

	mu  sync.Mutex
	srv *http.Server
}

func NewRouter(
	authHandler *handler.AuthHandler,
	adminHandler *handler.AdminHandler,
	jwtSecret string,
	ready ReadinessCheck,
	l *zap.Logger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware(), LoggerMiddleware(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()

			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/auth/member-login", authHandler.MemberLogin)
	r.POST("/auth/login", authHandler.Login)
	r.POST("/auth/register", authHandler.Register)

	// Protected
	authed := r.Group("/")
	authed.Use(AuthMiddleware(jwtSecret))
	{
		authed.GET("/auth/me", authHandler.Me)
	}

	if adminHandler != nil {
		admin := r.Group("/admin")
		admin.Use(AuthMiddleware(jwtSecret), RequirePermission(rbac.PermissionManageProfile))
		{
			admin.POST("/outbox/replay-failed", adminHandler.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r, logger: logger.OrNop(l)}
}

// Run serves on port until Shutdown is called.
func (r *Router) Run(port string) error {
	if !strings.Contains(port, ":") {
		port = ":" + port
	}
	srv := &http.Server{
		Addr:              port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.mu.Lock()
	r.srv = srv
	r.mu.Unlock()

	r.logger.Info("HTTP server listening", zap.String("addr", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
