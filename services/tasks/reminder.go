package tasks

import (
	"encoding/json"
	"fmt"

	"slotkeeper/models"

	"github.com/hibiken/asynq"
)

const TypeSendReminder = "reminder:send"

// NewReminderTask schedules a booking reminder for payload.FireAt. The task id is
// derived from the booking so a booking never has two reminders queued.
func NewReminderTask(payload models.ReminderPayload) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeSendReminder, b)
	opts := []asynq.Option{
		asynq.ProcessAt(payload.FireAt),
		asynq.TaskID(fmt.Sprintf("reminder:%s", payload.BookingID)),
		asynq.MaxRetry(3),
	}

	return task, opts, nil
}
