// Package main запускает HTTP-сервер сервиса pointsgate.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/pointsgate/internal/config"
	"github.com/mmeshcher/pointsgate/internal/gateway"
	"github.com/mmeshcher/pointsgate/internal/handler"
	"github.com/mmeshcher/pointsgate/internal/middleware"
	"github.com/mmeshcher/pointsgate/internal/ratelimit"
	"github.com/mmeshcher/pointsgate/internal/repository"
	"github.com/mmeshcher/pointsgate/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	// общий счётчик лимитов опционален: без Redis лимиты действуют
	// в пределах одного экземпляра
	var primaryStore ratelimit.Store
	if cfg.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer redisClient.Close()
		primaryStore = ratelimit.NewRedisStore(redisClient)
	} else {
		sugar.Warn("redis address not set, rate limits are per-instance only")
	}

	limiter := ratelimit.NewLimiter(
		primaryStore,
		ratelimit.NewLocalStore(5*time.Minute),
		ratelimit.DefaultLimits(),
	)

	var gatewayClient service.GatewayClient
	if cfg.GatewayAddress != "" {
		gatewayClient = gateway.NewClient(cfg.GatewayAddress)
	}

	svc := service.NewService(repo, gatewayClient, cfg, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, limiter)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой сверки зависших ордеров со шлюзом
	g.Go(func() error {
		svc.StartReconciliation(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting pointsgate server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
