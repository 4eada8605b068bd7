// Package main запускает HTTP-сервер сервиса boosthub.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rafaelq/boosthub/internal/config"
	"github.com/rafaelq/boosthub/internal/events"
	"github.com/rafaelq/boosthub/internal/gateway/mercadopago"
	"github.com/rafaelq/boosthub/internal/handler"
	"github.com/rafaelq/boosthub/internal/middleware"
	"github.com/rafaelq/boosthub/internal/provider"
	"github.com/rafaelq/boosthub/internal/repository"
	"github.com/rafaelq/boosthub/internal/service"
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

	bus := events.NewBus()
	bus.Subscribe(events.NewZapListener(logger))

	opts := service.Options{
		Bus:             bus,
		SyncInterval:    cfg.SyncInterval,
		NotificationURL: cfg.NotificationURL,
		// Клиент провайдера строится из конфигурации в БД: адрес и ключ задаёт
		// административная панель, изменения подхватываются без перезапуска.
		ProviderFactory: func(apiURL, apiKey string) service.ProviderClient {
			return provider.NewClient(apiURL, apiKey)
		},
	}

	if cfg.MercadoPagoToken != "" {
		opts.Payments = mercadopago.NewClient(cfg.MercadoPagoToken)
	}

	svc := service.NewService(repo, logger, opts)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.PixWebhookSecret)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового процесса синхронизации статусов заказов
	g.Go(func() error {
		svc.StartStatusSync(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting boosthub server", "addr", cfg.RunAddress)
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
