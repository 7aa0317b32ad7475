package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halaqat/scheduler-api/config"
	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository/postgres"
	"github.com/halaqat/scheduler-api/internal/service/notifier"
	"github.com/halaqat/scheduler-api/internal/service/reminder"
	"github.com/halaqat/scheduler-api/internal/service/resourcepool"
	"github.com/halaqat/scheduler-api/internal/service/scheduler"
	"github.com/halaqat/scheduler-api/internal/template"
	"github.com/halaqat/scheduler-api/internal/transport"
	"github.com/halaqat/scheduler-api/internal/transport/email"
	"github.com/halaqat/scheduler-api/internal/transport/whatsapp"
	"github.com/halaqat/scheduler-api/pkg/logger"
	"github.com/halaqat/scheduler-api/pkg/metrics"
	"github.com/halaqat/scheduler-api/pkg/worker"
)

// The worker binary runs the background automation only: the reminder
// scanner, the expired-reservation sweep and the outbox recovery
// processor. Deployments that keep everything in one process can skip
// it; cmd/api runs the same loops inline.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database.ToRepositoryConfig())
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	m := metrics.New("scheduler_worker")

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
	reminderSvc := reminder.NewService(sessionRepo, notifierSvc, []reminder.Window{
		{Type: model.Reminder24Hours, Size: cfg.Reminders.Window24Hours},
		{Type: model.Reminder1Hour, Size: cfg.Reminders.Window1Hour},
	}, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	log.Info("worker started")
	<-ctx.Done()
	log.Info("worker shutting down")
}
