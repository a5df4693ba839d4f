package tasks

import (
	"encoding/json"

	"slotkeeper/models"

	"github.com/hibiken/asynq"
)

const (
	TypeSlotEvent           = "notify:slot_event"
	TypeBookingNotification = "notify:booking"
	TypeCleanupSlots        = "availability:cleanup"
)

func NewSlotEventTask(payload models.EventPayload) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSlotEvent, b, asynq.MaxRetry(5)), nil
}

func NewBookingNotificationTask(n models.BookingNotification) (*asynq.Task, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBookingNotification, b, asynq.MaxRetry(5)), nil
}

// NewCleanupTask is the periodic sweep of past ONE_OFF slots.
func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeCleanupSlots, nil, asynq.MaxRetry(1))
}
