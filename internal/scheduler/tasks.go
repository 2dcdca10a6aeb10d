package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskNotificationOutboxDue = "notification.outbox.due"

const TaskInstallmentReminderSweep = "billing.installments.remind"

const TaskNotificationHousekeeping = "notification.housekeeping"

type NotificationOutboxDuePayload struct {
	OutboxID string `json:"outboxId"`
}

// ReminderSweepPayload asks for reminders of installments due within Window.
type ReminderSweepPayload struct {
	Window time.Duration `json:"window"`
}

// HousekeepingPayload asks for resolved notifications older than Retention
// to be archived and for expired ones to be removed.
type HousekeepingPayload struct {
	Retention time.Duration `json:"retention"`
}

func NewNotificationOutboxDueTask(payload NotificationOutboxDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationOutboxDue, data), nil
}

func ParseNotificationOutboxDuePayload(task *asynq.Task) (NotificationOutboxDuePayload, error) {
	var payload NotificationOutboxDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotificationOutboxDuePayload{}, err
	}
	return payload, nil
}

func NewReminderSweepTask(payload ReminderSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInstallmentReminderSweep, data), nil
}

func ParseReminderSweepPayload(task *asynq.Task) (ReminderSweepPayload, error) {
	var payload ReminderSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReminderSweepPayload{}, err
	}
	return payload, nil
}

func NewHousekeepingTask(payload HousekeepingPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationHousekeeping, data), nil
}

func ParseHousekeepingPayload(task *asynq.Task) (HousekeepingPayload, error) {
	var payload HousekeepingPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return HousekeepingPayload{}, err
	}
	return payload, nil
}
