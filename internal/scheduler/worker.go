package scheduler

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/events"
	"qwork_backend/platform/config"
	"qwork_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// InstallmentReminder sends reminders for installments falling due.
type InstallmentReminder interface {
	RemindDueInstallments(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

// NotificationHousekeeper archives and purges old notifications.
type NotificationHousekeeper interface {
	Housekeep(ctx context.Context, now time.Time, retention time.Duration) (archived, deleted int, err error)
}

type Worker struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	bus         events.Bus
	reminders   InstallmentReminder
	housekeeper NotificationHousekeeper
	log         *logger.Logger
	now         func() time.Time
}

func NewWorker(cfg config.SchedulerConfig, bus events.Bus, reminders InstallmentReminder, housekeeper NotificationHousekeeper, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(bus, reminders, housekeeper, log)
	w.server = server
	return w, nil
}

func newWorker(bus events.Bus, reminders InstallmentReminder, housekeeper NotificationHousekeeper, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:         mux,
		bus:         bus,
		reminders:   reminders,
		housekeeper: housekeeper,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}

	mux.HandleFunc(TaskNotificationOutboxDue, w.handleNotificationOutboxDue)
	mux.HandleFunc(TaskInstallmentReminderSweep, w.handleReminderSweep)
	mux.HandleFunc(TaskNotificationHousekeeping, w.handleHousekeeping)
	return w
}

func (w *Worker) handleNotificationOutboxDue(ctx context.Context, task *asynq.Task) error {
	if w.bus == nil {
		return nil
	}

	payload, err := ParseNotificationOutboxDuePayload(task)
	if err != nil {
		return err
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return fmt.Errorf("parse outbox id: %w: %w", err, asynq.SkipRetry)
	}

	return w.bus.PublishSync(ctx, events.NotificationOutboxDue{
		BaseEvent: events.NewBaseEventAt(w.now()),
		OutboxID:  outboxID,
	})
}

func (w *Worker) handleReminderSweep(ctx context.Context, task *asynq.Task) error {
	if w.reminders == nil {
		return nil
	}

	payload, err := ParseReminderSweepPayload(task)
	if err != nil {
		return err
	}

	sent, err := w.reminders.RemindDueInstallments(ctx, w.now(), payload.Window)
	if err != nil {
		return err
	}
	if sent > 0 {
		w.log.Info("installment reminders processed", "count", sent)
	}
	return nil
}

func (w *Worker) handleHousekeeping(ctx context.Context, task *asynq.Task) error {
	if w.housekeeper == nil {
		return nil
	}

	payload, err := ParseHousekeepingPayload(task)
	if err != nil {
		return err
	}

	archived, deleted, err := w.housekeeper.Housekeep(ctx, w.now(), payload.Retention)
	if err != nil {
		return err
	}
	if archived > 0 || deleted > 0 {
		w.log.Info("notification housekeeping done", "archived", archived, "deleted", deleted)
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
