package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/chat"
	"github.com/example/teleconsult/internal/config"
	httptransport "github.com/example/teleconsult/internal/http"
	"github.com/example/teleconsult/internal/jobs"
	"github.com/example/teleconsult/internal/realtime"
	"github.com/example/teleconsult/internal/recurrence"
	"github.com/example/teleconsult/internal/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFiles(".env")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("teleconsult stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	backplane, err := newBackplane(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backplane.Close()

	lease, closeLease, err := newLease(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLease()

	now := time.Now
	policy := jobs.RetryPolicy{Attempts: cfg.JobAttempts, Backoff: cfg.JobBackoff}

	events := application.NewEventBus(logger)
	consultations := application.NewConsultationServiceWithLogger(store, events, uuid.NewString, now, cfg.Location, logger)
	reminders := application.NewReminderServiceWithLogger(store, backplane.Queue, backplane.Sender, recurrence.NewEngine(cfg.Location), uuid.NewString, now, logger)
	reminders.SetRetryPolicy(policy)
	notifications := application.NewNotificationServiceWithLogger(store, backplane.Queue, backplane.Sender, nil, uuid.NewString, now, logger)
	notifications.SetRetryPolicy(policy)
	events.Subscribe(notifications.HandleConsultationEvent)

	auth := application.NewAuthServiceWithLogger([]byte(cfg.JWTSecret), now, logger)

	broker, err := chat.NewBroker(chat.Options{
		Store:            store,
		Fanout:           backplane.Fanout,
		Logger:           logger,
		StrictSenderType: cfg.StrictSenderType,
	})
	if err != nil {
		return err
	}
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("start chat broker: %w", err)
	}
	defer func() {
		if err := broker.Stop(); err != nil {
			logger.Error("failed to stop chat broker", "error", err)
		}
	}()

	if err := backplane.Queue.Consume(ctx, jobs.ReminderDeliver, reminders.Deliver); err != nil {
		return err
	}
	if err := backplane.Queue.Consume(ctx, jobs.NotificationDeliver, notifications.Deliver); err != nil {
		return err
	}

	runners, err := newRunners(cfg, lease, logger, consultations, reminders, notifications)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, runner := range runners {
		wg.Add(1)
		go func(r *sweep.Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(runner)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Auth:          auth,
		Consultations: httptransport.NewConsultationHandler(consultations, logger),
		Chat:          httptransport.NewChatHandler(broker, logger),
		Reminders:     httptransport.NewReminderHandler(reminders, logger),
		Notifications: httptransport.NewNotificationHandler(notifications, logger),
		Logger:        logger,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	gateway, err := realtime.NewGateway(realtime.Options{Broker: broker, Auth: auth, Logger: logger})
	if err != nil {
		return err
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	gateway.Register(app)

	errs := make(chan error, 2)
	go func() {
		logger.Info("REST API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RealtimePort)
		logger.Info("realtime gateway listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			errs <- fmt.Errorf("realtime server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to shutdown http server", "error", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shutdown realtime server", "error", err)
	}
	logger.Info("teleconsult shutting down")
	return runErr
}
