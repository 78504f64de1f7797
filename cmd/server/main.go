package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/api"
	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/app/worker"
	"github.com/teacurran/village-calendar-sub007/internal/common/security"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/config"
	"github.com/teacurran/village-calendar-sub007/internal/platform/database"
	"github.com/teacurran/village-calendar-sub007/internal/platform/mail"
	"github.com/teacurran/village-calendar-sub007/internal/platform/queue"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// 2. Security primitives
	tokens := security.NewTokenIssuer(cfg.JWTKey, cfg.JWTExp)
	verifier := security.NewWebhookVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	// 3. Storage + wake-up transport
	var (
		db        *sql.DB
		jobRepo   repository.JobRepository
		orderRepo repository.OrderRepository
		eventRepo repository.WebhookEventRepository
		userRepo  repository.UserRepository
		notifier  queue.Notifier
	)
	switch cfg.StoreBackend {
	case "memory":
		jobRepo = repository.NewMemoryJobRepository()
		orderRepo = repository.NewMemoryOrderRepository()
		eventRepo = repository.NewMemoryWebhookEventRepository()
		userRepo = repository.NewMemoryUserRepository()
		notifier = queue.NewChanNotifier(256)
		logger.Info("running on in-memory stores")
	case "postgres":
		var err error
		db, err = database.Connect(cfg.DBConnStr)
		if err != nil {
			log.Fatalf("Could not connect to database: %v", err)
		}
		defer db.Close()
		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatalf("Could not run migrations: %v", err)
		}
		logger.Info("database connected", "db", cfg.DBName)

		jobRepo = repository.NewPgJobRepository(db)
		orderRepo = repository.NewPgOrderRepository(db)
		eventRepo = repository.NewPgWebhookEventRepository(db)
		userRepo = repository.NewPgUserRepository(db)

		// The wake-up list is best-effort: when Redis is unreachable the
		// sweep still runs every job, just later.
		rdb, err := queue.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-process wake-ups", "error", err)
			notifier = queue.NewChanNotifier(256)
		} else {
			defer rdb.Close()
			notifier = queue.NewRedisNotifier(rdb, cfg.WakeQueueKey)
			logger.Info("redis connected", "addr", cfg.RedisAddr)
		}
	default:
		log.Fatalf("Unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	// 4. Services
	mailer := mail.NewLogMailer(logger)
	authService := service.NewAuthService(userRepo, tokens)
	orderService := service.NewOrderService(orderRepo, db, logger)
	jobService := service.NewJobService(jobRepo, notifier, logger)
	webhookService := service.NewWebhookService(orderService, jobService, eventRepo, verifier, db, logger)
	notificationService := service.NewNotificationService(orderRepo, mailer, cfg.MailFrom, cfg.OpsAlertEmail, cfg.SiteBaseURL, logger)
	jobAdminService := service.NewJobAdminService(jobRepo, jobService, logger)

	// 5. Queue handlers, workers and the sweep
	registry := worker.Registry{
		model.QueueOrderConfirmations: notificationService.SendOrderConfirmation,
		model.QueueRefundAlerts:       notificationService.SendRefundAlert,
	}
	dispatcher := worker.NewDispatcher(jobRepo, registry, worker.DefaultStrategy(), cfg.JobMaxAttempts, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	for i := 0; i < cfg.WorkerCount; i++ {
		go dispatcher.RunListener(workerCtx, notifier)
	}
	sweeper := worker.NewSweeper(jobRepo, dispatcher, cfg.SweepInterval, cfg.SweepBatchLimit, cfg.StaleLockTimeout, logger)
	go sweeper.Run(workerCtx)
	logger.Info("workers started", "count", cfg.WorkerCount, "sweep_interval", cfg.SweepInterval)

	// 6. Router & HTTP Server
	router := api.NewRouter(tokens, authService, orderService, jobAdminService, webhookService)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
		}
	}()

	<-stop

	logger.Info("shutting down")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	logger.Info("server and workers stopped")
}
