package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/halaqat/scheduler-api/config"
	"github.com/halaqat/scheduler-api/internal/handler/health"
	resourcehandler "github.com/halaqat/scheduler-api/internal/handler/resource"
	sessionhandler "github.com/halaqat/scheduler-api/internal/handler/session"
	studenthandler "github.com/halaqat/scheduler-api/internal/handler/student"
	"github.com/halaqat/scheduler-api/internal/middleware"
	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository/postgres"
	"github.com/halaqat/scheduler-api/internal/router"
	"github.com/halaqat/scheduler-api/internal/service/notifier"
	"github.com/halaqat/scheduler-api/internal/service/reminder"
	"github.com/halaqat/scheduler-api/internal/service/resourcepool"
	"github.com/halaqat/scheduler-api/internal/service/scheduler"
	"github.com/halaqat/scheduler-api/internal/service/session"
	"github.com/halaqat/scheduler-api/internal/template"
	"github.com/halaqat/scheduler-api/internal/transport"
	"github.com/halaqat/scheduler-api/internal/transport/email"
	"github.com/halaqat/scheduler-api/internal/transport/whatsapp"
	"github.com/halaqat/scheduler-api/pkg/logger"
	"github.com/halaqat/scheduler-api/pkg/messaging"
	"github.com/halaqat/scheduler-api/pkg/messaging/redis"
	"github.com/halaqat/scheduler-api/pkg/metrics"
	"github.com/halaqat/scheduler-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      parseLevel(cfg.LogLevel),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database.ToRepositoryConfig())
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redis.NewRedisBroker(cfg.Redis.ToBrokerConfig())
		if err != nil {
			log.Fatal(err, "failed to connect to redis")
		}
		defer broker.Close()
	}

	m := metrics.New("scheduler")

	resourceRepo := postgres.NewResourceRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	messengers := map[string]transport.Messenger{
		model.ChannelWhatsApp: whatsapp.NewClient(cfg.Transport.WhatsApp.ToClientConfig()),
		model.ChannelEmail:    email.NewSender(cfg.Transport.Email.ToSenderConfig()),
	}

	renderer := template.NewRenderer(template.NewMemoryStore())

	poolSvc := resourcepool.NewService(resourceRepo)
	schedulerSvc := scheduler.NewService(poolSvc, sessionRepo, groupRepo, m, log)
	notifierSvc := notifier.NewService(notificationRepo, sessionRepo, groupRepo, resourceRepo, renderer, messengers, m, log)
	sessionSvc := session.NewService(sessionRepo, groupRepo, outboxRepo, schedulerSvc, notifierSvc, broker, m, log)
	reminderSvc := reminder.NewService(sessionRepo, notifierSvc, []reminder.Window{
		{Type: model.Reminder24Hours, Size: cfg.Reminders.Window24Hours},
		{Type: model.Reminder1Hour, Size: cfg.Reminders.Window1Hour},
	}, m, log)

	r := router.New(router.Config{
		RateLimit: rateLimit(cfg),
		RateBurst: cfg.RateLimit.Burst,
		CORS:      middleware.DefaultCORSConfig(),
		Timeout:   middleware.DefaultTimeoutConfig(),
	}, m,
		sessionhandler.NewHandler(sessionSvc, reminderSvc, notifierSvc),
		resourcehandler.NewHandler(poolSvc, schedulerSvc),
		studenthandler.NewHandler(notifierSvc),
		health.NewHandler(db),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Inline reminder scanning; the dedicated worker binary runs the
	// same loop for deployments that split the roles.
	reminderWorker := worker.NewReminderWorker(worker.ReminderConfig{
		ScanInterval:  cfg.Reminders.ScanInterval,
		SweepInterval: cfg.Reminders.SweepInterval,
	}, func(ctx context.Context) error {
		_, err := reminderSvc.Scan(ctx)
		return err
	}, func(ctx context.Context) error {
		_, err := schedulerSvc.ReleaseAllExpired(ctx)
		return err
	}, log)
	go reminderWorker.Run(ctx)

	outboxProcessor := worker.NewOutboxProcessor(outboxRepo, notifierSvc, cfg.Outbox.ToWorkerConfig(), m, log)
	go outboxProcessor.Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "graceful shutdown failed")
	}
}

func rateLimit(cfg *config.Config) rate.Limit {
	if !cfg.RateLimit.Enabled {
		return 0
	}
	return rate.Limit(cfg.RateLimit.RequestsPerSecond)
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
