package scheduler

import (
	"context"
	"time"

	"qwork_backend/platform/logger"
)

const (
	defaultReminderInterval     = time.Hour
	defaultHousekeepingInterval = 6 * time.Hour
)

type sweepEnqueuer interface {
	EnqueueReminderSweep(ctx context.Context, window time.Duration) (bool, error)
	EnqueueHousekeeping(ctx context.Context, retention time.Duration) (bool, error)
}

// PeriodicJobs queues the installment reminder sweep and notification
// housekeeping on fixed intervals. The worker does the actual work.
type PeriodicJobs struct {
	client               sweepEnqueuer
	log                  *logger.Logger
	reminderInterval     time.Duration
	housekeepingInterval time.Duration
	reminderWindow       time.Duration
	retention            time.Duration
}

func NewPeriodicJobs(client sweepEnqueuer, log *logger.Logger, reminderWindow, retention time.Duration) *PeriodicJobs {
	return &PeriodicJobs{
		client:               client,
		log:                  log,
		reminderInterval:     defaultReminderInterval,
		housekeepingInterval: defaultHousekeepingInterval,
		reminderWindow:       reminderWindow,
		retention:            retention,
	}
}

func (p *PeriodicJobs) Run(ctx context.Context) {
	if p == nil || p.client == nil {
		return
	}

	p.enqueueReminders(ctx)
	p.enqueueHousekeeping(ctx)

	reminders := time.NewTicker(p.reminderInterval)
	defer reminders.Stop()
	housekeeping := time.NewTicker(p.housekeepingInterval)
	defer housekeeping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reminders.C:
			p.enqueueReminders(ctx)
		case <-housekeeping.C:
			p.enqueueHousekeeping(ctx)
		}
	}
}

func (p *PeriodicJobs) enqueueReminders(ctx context.Context) {
	if _, err := p.client.EnqueueReminderSweep(ctx, p.reminderWindow); err != nil {
		p.log.Warn("installment reminder sweep enqueue failed", "error", err)
	}
}

func (p *PeriodicJobs) enqueueHousekeeping(ctx context.Context) {
	if _, err := p.client.EnqueueHousekeeping(ctx, p.retention); err != nil {
		p.log.Warn("notification housekeeping enqueue failed", "error", err)
	}
}
