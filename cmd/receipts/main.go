// Package main запускает HTTP-сервер и потребителей очередей сервиса квитанций.
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

	"github.com/mmeshcher/donation-receipt-system/internal/broker"
	"github.com/mmeshcher/donation-receipt-system/internal/config"
	"github.com/mmeshcher/donation-receipt-system/internal/content"
	"github.com/mmeshcher/donation-receipt-system/internal/docstore"
	"github.com/mmeshcher/donation-receipt-system/internal/handler"
	"github.com/mmeshcher/donation-receipt-system/internal/mailer"
	"github.com/mmeshcher/donation-receipt-system/internal/paypal"
	"github.com/mmeshcher/donation-receipt-system/internal/receiptnum"
	"github.com/mmeshcher/donation-receipt-system/internal/renderer"
	"github.com/mmeshcher/donation-receipt-system/internal/repository"
	"github.com/mmeshcher/donation-receipt-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var documents docstore.Store
	if cfg.S3Bucket != "" {
		documents, err = docstore.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			sugar.Fatalw("s3 store initialization error", "error", err.Error())
		}
	} else {
		documents, err = docstore.NewLocalStore(cfg.DocumentDir)
		if err != nil {
			sugar.Fatalw("document store initialization error", "error", err.Error())
		}
	}

	var mailTransport mailer.Mailer
	if cfg.SMTPHost != "" {
		mailTransport, err = mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
		if err != nil {
			sugar.Fatalw("smtp initialization error", "error", err.Error())
		}
	}

	pool := renderer.NewPool(renderer.NewChromeEngine(), cfg.RenderConcurrency, logger)
	if err := pool.Init(ctx); err != nil {
		sugar.Fatalw("renderer initialization error", "error", err.Error())
	}
	defer pool.Close()

	var transport broker.Transport
	if cfg.BrokerURL != "" {
		transport, err = broker.DialAMQP(ctx, cfg.BrokerURL)
		if err != nil {
			sugar.Fatalw("broker connection error", "error", err.Error())
		}
	} else {
		sugar.Info("no broker configured, using in-process transport")
		transport = broker.NewMemoryTransport()
	}

	bus := broker.New(transport, logger)
	defer bus.Close()

	svc := service.NewService(service.Deps{
		Repo:      repo,
		Publisher: bus,
		Renderer:  pool,
		Allocator: receiptnum.NewAllocator(repo),
		Content:   content.NewProvider(),
		Documents: documents,
		Mailer:    mailTransport,
		Logger:    logger,

		DisableCorrespondence: cfg.DisableCorrespondence,
		Locale:                cfg.Locale,
	})

	// Подписка обязана состояться до приёма трафика: без потребителей
	// команды копились бы в очередях.
	if err := bus.Subscribe(ctx, svc.Handlers()); err != nil {
		sugar.Fatalw("broker subscription error", "error", err.Error())
	}

	h := handler.NewHandler(svc, paypal.NewClient(cfg.PayPalVerifyURL), logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting receipts server", "addr", cfg.RunAddress)
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
