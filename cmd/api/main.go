package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/auth"
	"tasksync/internal/handler"
	"tasksync/internal/httpserver"
	"tasksync/internal/repository"
	"tasksync/pkg/config"
	"tasksync/pkg/db"
	"tasksync/pkg/logger"
	"tasksync/pkg/mq"
	"tasksync/pkg/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logger.NewLogger()
	defer logger.Sync()

	// Load config
	cfg, err := config.Load(config.GetConfigEnv(), "config")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Init DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Record store and auth
	repo := repository.New(dbConn, logger)
	authService := auth.NewService(repo, cfg.JWT.Secret, cfg.JWT.TTL, logger)

	// Change feed: outbox rows written by the repositories are relayed to MQ
	outboxRepo := outbox.NewRepository(dbConn)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, logger)
	go dispatcher.Start(ctx)

	replayService := outbox.NewReplayService(outboxRepo, logger)

	// Router
	router := httpserver.NewRouter(
		handler.NewAuthHandler(authService, logger),
		handler.NewAdminHandler(replayService, logger),
		cfg.JWT.Secret,
		dbConn.Ping,
		logger,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.Run(cfg.Server.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down API server")
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server start failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
